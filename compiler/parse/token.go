package parse

import (
	"fmt"

	"tlog.app/go/errors"
)

type (
	tokKind int

	token struct {
		Kind tokKind
		Text string
		Pos  int
		End  int
	}

	SyntaxError struct {
		File string
		Pos  int
		Line int
		Col  int

		Err error
	}
)

const (
	tEOF tokKind = iota
	tIdent
	tNum
	tPunct
)

func (t token) is(kind tokKind, text string) bool {
	return t.Kind == kind && t.Text == text
}

func (t token) String() string {
	switch t.Kind {
	case tEOF:
		return "end of file"
	case tNum:
		return fmt.Sprintf("number %s", t.Text)
	case tIdent:
		return fmt.Sprintf("identifier %s", t.Text)
	default:
		return fmt.Sprintf("%q", t.Text)
	}
}

// scan reads the next token starting at st.
func scan(b []byte, st int) (t token, err error) {
	st, err = skipSpaces(b, st)
	if err != nil {
		return token{Pos: st, End: st}, err
	}

	i := st

	if i == len(b) {
		return token{Kind: tEOF, Pos: i, End: i}, nil
	}

	switch c := b[i]; {
	case c == '(' || c == ')' || c == '{' || c == '}' || c == ';' || c == ',' ||
		c == '+' || c == '-' || c == '*' || c == '/':
		i++
	case c == '<' || c == '>' || c == '=' || c == '!':
		i++

		if i < len(b) && b[i] == '=' {
			i++
		} else if c == '!' {
			return token{Pos: st, End: i}, errors.New("unexpected %q", c)
		}
	case c >= '0' && c <= '9':
		i = skipDigits(b, i+1)

		return token{Kind: tNum, Text: string(b[st:i]), Pos: st, End: i}, nil
	case c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_':
		i = skipIdent(b, i+1)

		return token{Kind: tIdent, Text: string(b[st:i]), Pos: st, End: i}, nil
	default:
		return token{Pos: st, End: st}, errors.New("unsupported character: %q", c)
	}

	return token{Kind: tPunct, Text: string(b[st:i]), Pos: st, End: i}, nil
}

func skipSpaces(b []byte, i int) (int, error) {
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		case '/':
			if i+1 == len(b) {
				return i, nil
			}

			switch b[i+1] {
			case '/':
				i = skipLine(b, i)
				continue
			case '*':
				end, ok := skipComment(b, i+2)
				if !ok {
					return i, errors.New("unterminated comment")
				}

				i = end
				continue
			}
		}

		break
	}

	return i, nil
}

func skipIdent(b []byte, i int) int {
	for i < len(b) && (b[i] == '_' ||
		b[i] >= 'A' && b[i] <= 'Z' ||
		b[i] >= 'a' && b[i] <= 'z' ||
		b[i] >= '0' && b[i] <= '9') {
		i++
	}

	return i
}

func skipDigits(b []byte, i int) int {
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}

	return i
}

func skipLine(b []byte, i int) int {
	for i < len(b) && b[i] != '\n' {
		i++
	}

	return i
}

func skipComment(b []byte, i int) (int, bool) {
	for ; i+1 < len(b); i++ {
		if b[i] == '*' && b[i+1] == '/' {
			return i + 2, true
		}
	}

	return len(b), false
}

func lineCol(b []byte, pos int) (line, col int) {
	line, col = 1, 1

	for _, c := range b[:pos] {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	return
}

func lineStarts(b []byte) []int {
	l := []int{0}

	for i, c := range b {
		if c == '\n' {
			l = append(l, i+1)
		}
	}

	return l
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Col, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }
