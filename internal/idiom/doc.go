// Package idiom recovers source constructs from their fixed lowerings in
// an optimized method tree: using, foreach, lock, for and do/while
// statements, user-defined operator calls, compound assignments and
// increments, plus automatic properties and events at the type level.
//
// Transform makes a single top-down pass. Each rule looks at one position
// of a statement list, and a match replaces the matched statements by one
// structured node that keeps the source ranges of the node it replaces.
// Matches never overlap: the children of a rewritten node are visited
// after the rewrite.
package idiom
