// Package il provides the shared data model of the decompiler core.
//
// This package contains the instruction set, the metadata stand-ins supplied
// by the binary-container collaborator, synthetic variables, and the node
// arena that every later stage mutates. All other internal packages import
// il; il imports nothing internal.
//
// Key design constraints:
//   - Nodes live in a Tree arena and are addressed by NodeID. Replacing a
//     node overwrites the slot in place so every holder of the id observes
//     the new content; no pass keeps *Node pointers across a replacement it
//     did not perform.
//   - Per-node annotations are a closed set of typed fields (source ranges,
//     inferred type, resolved member) instead of an open bag.
//   - Metadata identities (*TypeDef, *FieldDef, *MethodDef) are compared by
//     pointer.
package il
