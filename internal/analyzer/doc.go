// Package analyzer turns a method's raw instruction list and exception
// table into ByteCode records with explicit per-instruction stack and
// variable state.
//
// The analysis is an iterative forward work-list dataflow seeded at method
// entry (empty stack, every local uninitialized) and at every handler entry
// (the dispatched exception on the stack for catch and filter handlers,
// every local unknown). Each stack cell is bound to a generated variable;
// each declared local is split into one variable per independent lifetime
// unless it is pinned, address-taken, or read where its reaching stores are
// unknown.
//
// Per-path state is owned: when an instruction has more than one successor
// the state is cloned for each, and moved otherwise, so no two live paths
// share mutable state.
package analyzer
