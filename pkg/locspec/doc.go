// Package locspec parses the textual location forms an IDE may send with a
// breakpoint request that are not plain file:line positions.
//
// Location spec examples:
//
//	funcOffset ::= <function> | {<function>, ,}[+]<offset>
//	address    ::= [0x]<hex digits>
//
// * <function> is passed to the backend unchanged, it may contain "::"
// * <offset> is a line offset from the start of <function>
// * the module part of {<function>, ,<module>} is not supported
package locspec
