// Package intrusive provides the intrusive containers the process control
// core is built on: a doubly linked list, a red-black tree, and a bucketed
// hash list, plus an epoch-reclamation hash list variant with wait-free
// read-side lookups.
//
// All containers are intrusive: the caller embeds the node type in its own
// struct and the node carries a back-pointer to its owner container, which
// doubles as the attachment marker (non-nil iff attached). None of the
// containers are internally synchronized; the embedding subsystem supplies
// locking (the epoch hash list's read side is the one exception).
package intrusive
