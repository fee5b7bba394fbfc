// Package decompiler drives one method or one type through the whole
// decompilation: stack analysis, tree assembly, the optimization pipeline
// and the high-level idiom rewrites.
//
// A method that fails to decode never fails its siblings. Its Result
// carries the *il.DecodingError and renders as a placeholder comment
// followed by whatever partial tree survived.
package decompiler
