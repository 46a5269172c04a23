package intrusive

type (
	// ListNode is an intrusive doubly linked list hook. Embed one per list a
	// value may join, and point Value back at the embedding struct.
	//
	// A node is attached iff its list back-pointer is non-nil; callers may
	// test that via Attached.
	ListNode[V any] struct {
		prev, next *ListNode[V]
		list       *List[V]
		Value      V
	}

	// List is an intrusive doubly linked FIFO list. The zero value is ready
	// to use.
	List[V any] struct {
		root ListNode[V]
		size int
	}
)

// Attached reports whether the node is currently on a list.
func (x *ListNode[V]) Attached() bool { return x.list != nil }

// List returns the list the node is attached to, or nil.
func (x *ListNode[V]) List() *List[V] { return x.list }

func (x *List[V]) lazyInit() {
	if x.root.next == nil {
		x.root.prev = &x.root
		x.root.next = &x.root
	}
}

// Len returns the number of attached nodes.
func (x *List[V]) Len() int { return x.size }

// Front returns the oldest node, or nil if the list is empty.
func (x *List[V]) Front() *ListNode[V] {
	if x.size == 0 {
		return nil
	}
	return x.root.next
}

// Back returns the newest node, or nil if the list is empty.
func (x *List[V]) Back() *ListNode[V] {
	if x.size == 0 {
		return nil
	}
	return x.root.prev
}

// Next returns the node after n in insertion order, or nil at the end.
func (x *List[V]) Next(n *ListNode[V]) *ListNode[V] {
	if n.list != x {
		panic(`intrusive: list: next of node not on this list`)
	}
	if n.next == &x.root {
		return nil
	}
	return n.next
}

func (x *List[V]) insert(n, at *ListNode[V]) {
	if n.list != nil {
		panic(`intrusive: list: node already attached`)
	}
	x.lazyInit()
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
	n.list = x
	x.size++
}

// PushBack appends n, preserving FIFO order. Attaching an already attached
// node is fatal.
func (x *List[V]) PushBack(n *ListNode[V]) {
	x.lazyInit()
	x.insert(n, x.root.prev)
}

// PushFront prepends n. Attaching an already attached node is fatal.
func (x *List[V]) PushFront(n *ListNode[V]) { x.insert(n, &x.root) }

// Remove detaches n. Removing a node attached to a different list (or not
// attached at all) is fatal.
func (x *List[V]) Remove(n *ListNode[V]) {
	if n.list != x {
		panic(`intrusive: list: remove of node not on this list`)
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	n.list = nil
	x.size--
}

// PopFront detaches and returns the oldest node, or nil if empty.
func (x *List[V]) PopFront() *ListNode[V] {
	n := x.Front()
	if n != nil {
		x.Remove(n)
	}
	return n
}

// TakeAll splices every node of src onto the back of x in one O(1) link
// operation, then walks the moved nodes to fix their back-pointers (O(n) in
// the size of src). x must be empty; splicing into a non-empty list is
// fatal, matching the wait-queue bulk move contract.
func (x *List[V]) TakeAll(src *List[V]) {
	if x.size != 0 {
		panic(`intrusive: list: take all into non-empty list`)
	}
	if src == x || src.size == 0 {
		return
	}
	x.lazyInit()
	src.lazyInit()
	first, last := src.root.next, src.root.prev
	x.root.next = first
	first.prev = &x.root
	x.root.prev = last
	last.next = &x.root
	x.size = src.size
	src.root.next = &src.root
	src.root.prev = &src.root
	src.size = 0
	for n := x.root.next; n != &x.root; n = n.next {
		n.list = x
	}
}
