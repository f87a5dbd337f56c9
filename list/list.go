// Package list implements the intrusive, circular, doubly-linked list used
// throughout the kernel for ready queues, wait lists, and the timer and
// defunct lists. A Node never allocates on insert or remove: every
// operation just relinks four pointers.
//
// The source this kernel is modeled on recovers a node's owning struct
// with container_of-style pointer arithmetic (computing the owner's
// address by subtracting the node's offset within it). Go has no safe
// equivalent of that, so Node is generic over the owner type and simply
// carries a typed back-reference (Value) alongside its links — one extra
// pointer per node, no unsafe, no reflection.
package list

// Node is an intrusive list link carrying a typed back-reference to its
// owner. Embed a Node[*T] directly in T and set Value to the owning
// pointer once, at construction time; from then on any *Node[*T]
// recovered by walking a list can recover the owner via n.Value.
//
// A freshly zero-valued Node is not usable; call Init first so it
// self-links into a one-element circular list.
type Node[T any] struct {
	prev, next *Node[T]

	// Value is the owning struct, set once at construction and never
	// mutated afterward. Exported so callers can recover the owner
	// directly (n.Value) while walking a list with Do.
	Value T
}

// Init makes n a one-element circular list: both links point to itself.
// Safe to call on a node that is already linked elsewhere; doing so does
// not unlink it from its current list, so callers must Remove first if
// the node is already queued.
func (n *Node[T]) Init() {
	n.prev = n
	n.next = n
}

// Empty reports whether n is a sentinel whose list holds no other nodes.
func (n *Node[T]) Empty() bool {
	return n.next == n
}

// Next returns the node following n in list order.
func (n *Node[T]) Next() *Node[T] { return n.next }

// Prev returns the node preceding n in list order.
func (n *Node[T]) Prev() *Node[T] { return n.prev }

// InsertAfter splices n in immediately after l.
func (l *Node[T]) InsertAfter(n *Node[T]) {
	l.next.prev = n
	n.next = l.next
	l.next = n
	n.prev = l
}

// InsertBefore splices n in immediately before l. Used to append at the
// tail of a FIFO queue whose sentinel is l: InsertBefore inserts just
// ahead of the sentinel, i.e. at the end of the queue.
func (l *Node[T]) InsertBefore(n *Node[T]) {
	l.prev.next = n
	n.prev = l.prev
	l.prev = n
	n.next = l
}

// Remove unlinks d from whatever list it is in and self-links it so it is
// immediately safe to re-insert elsewhere.
func (d *Node[T]) Remove() {
	d.next.prev = d.prev
	d.prev.next = d.next
	d.next = d
	d.prev = d
}

// Do calls fn for every node in the list starting at head.Next(), in
// order, stopping before head is reached again. fn must not remove nodes
// other than the one it is currently passed.
func (head *Node[T]) Do(fn func(n *Node[T])) {
	for n := head.next; n != head; n = n.next {
		fn(n)
	}
}
