// Package ctxtree provides a hierarchical, cancellable context tree.
//
// A tree is rooted with NewRoot (or Attach, to hang it under a standard
// context) and extended with Derive, WithTimeout and WithDeadline. Each call
// returns the new node together with its Canceller, the only capability that
// can cancel that node. Key properties:
//   - Cancellation is write-once: the first reason wins and later calls are no-ops
//   - Cancelling a node cascades to every currently-registered descendant exactly once
//   - A node derived from an already-cancelled parent starts cancelled
//   - Done is a closed-channel broadcast, so late observers never block
//   - Every *Context implements context.Context and can be handed to any Go API
//
// Dropping a Canceller does NOT cancel its context. A node whose Canceller is
// discarded stays active until an ancestor is cancelled or the process exits.
//
// Work can be tied to a node with Go, Run and Stream. Tracked goroutines are
// counted on the node and all of its ancestors so that Canceller.Shutdown can
// wait for the whole subtree to wind down.
package ctxtree
