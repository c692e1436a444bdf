/*

Process of compilation

Program Text ->
	parse ->
Abstract Syntax Tree (ast) ->
	check ->
Checked AST ->
	front ->
Intermediate Representation (ir) ->
	cfg, opt ->
Optimized IR ->
	back (regalloc, frame, emit) ->
Assembly Text (x86-32 AT&T)

*/
package compiler
