// Package optimize rewrites an assembled method tree into structured form.
//
// The pipeline is a fixed sequence of steps. Early steps clean up the flat
// statement list and inline generated variables; the middle steps split the
// body into basic blocks, recover short-circuit and ternary expressions and
// rebuild loops and conditions from the dominator tree; the late steps
// flatten the blocks again, remove the gotos that structured control flow
// made redundant and recognize a few compiler idioms.
//
// Every step mutates the tree in place. After each step unreferenced labels
// are removed, and with Options.CheckLabels the label invariant is verified.
// A step that finds a violated assumption aborts the method; the tree is
// rolled back to what the previous steps produced so the caller can render
// it as a best-effort result.
//
// Options.Until stops the pipeline after a given step, which the iterator
// reverser uses to obtain the inlined but still unstructured body of
// MoveNext and Dispose.
package optimize
