// Package assembler builds the initial statement tree of a method from the
// analyzer's annotated ByteCodes.
//
// Exception regions are carved out recursively: the lowest, widest try range
// is emitted as a try node whose protected block and handler blocks are built
// by the same procedure over their own instruction ranges. Everything else
// becomes a flat list of labels and expression statements in which every
// consumed stack cell is a load of its bound variable.
package assembler
