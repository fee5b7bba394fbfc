// Package pattern matches template trees against an il.Tree.
//
// A template is built from combinators: Any is a wildcard, Capture names
// the node it wraps, Backref requires a node equal to an earlier capture,
// AnyOf tries alternatives in order, and Repeat consumes a run of
// statements inside a Seq. Variables are bound through named slots so a
// template can require that two loads see the same variable.
//
// Bindings are all-or-nothing: a failed alternative rolls back whatever it
// bound before the next alternative is tried.
package pattern
