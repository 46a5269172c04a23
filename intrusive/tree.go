package intrusive

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

type (
	// TreeNode is an intrusive red-black tree hook. The key is fixed at
	// insertion; mutating Key while attached corrupts the tree.
	TreeNode[K constraints.Ordered, V any] struct {
		parent, left, right *TreeNode[K, V]
		tree                *Tree[K, V]
		red                 bool
		Key                 K
		Value               V
	}

	// Tree is an intrusive red-black tree ordered by (Key, node address).
	// The address tiebreaker makes duplicate keys well defined: equal-keyed
	// nodes iterate in ascending address order, stable within a run but
	// unspecified across runs. The zero value is ready to use.
	Tree[K constraints.Ordered, V any] struct {
		root *TreeNode[K, V]
		size int
	}
)

// Attached reports whether the node is currently in a tree.
func (x *TreeNode[K, V]) Attached() bool { return x.tree != nil }

// Tree returns the tree the node is attached to, or nil.
func (x *TreeNode[K, V]) Tree() *Tree[K, V] { return x.tree }

func nodeAddr[K constraints.Ordered, V any](n *TreeNode[K, V]) uintptr {
	return uintptr(unsafe.Pointer(n))
}

// less orders by key, breaking ties on node address.
func (x *Tree[K, V]) less(a, b *TreeNode[K, V]) bool {
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	return nodeAddr(a) < nodeAddr(b)
}

// Len returns the number of attached nodes.
func (x *Tree[K, V]) Len() int { return x.size }

func (x *Tree[K, V]) rotateLeft(n *TreeNode[K, V]) {
	y := n.right
	n.right = y.left
	if y.left != nil {
		y.left.parent = n
	}
	y.parent = n.parent
	switch {
	case n.parent == nil:
		x.root = y
	case n == n.parent.left:
		n.parent.left = y
	default:
		n.parent.right = y
	}
	y.left = n
	n.parent = y
}

func (x *Tree[K, V]) rotateRight(n *TreeNode[K, V]) {
	y := n.left
	n.left = y.right
	if y.right != nil {
		y.right.parent = n
	}
	y.parent = n.parent
	switch {
	case n.parent == nil:
		x.root = y
	case n == n.parent.right:
		n.parent.right = y
	default:
		n.parent.left = y
	}
	y.right = n
	n.parent = y
}

// Insert attaches n under its current Key. Inserting an attached node is
// fatal.
func (x *Tree[K, V]) Insert(n *TreeNode[K, V]) {
	if n.tree != nil {
		panic(`intrusive: tree: node already attached`)
	}
	var parent *TreeNode[K, V]
	link := &x.root
	for *link != nil {
		parent = *link
		if x.less(n, parent) {
			link = &parent.left
		} else {
			link = &parent.right
		}
	}
	n.parent = parent
	n.left = nil
	n.right = nil
	n.red = true
	n.tree = x
	*link = n
	x.size++
	x.insertFixup(n)
}

func (x *Tree[K, V]) insertFixup(n *TreeNode[K, V]) {
	for n.parent != nil && n.parent.red {
		gp := n.parent.parent
		if n.parent == gp.left {
			if uncle := gp.right; uncle != nil && uncle.red {
				n.parent.red = false
				uncle.red = false
				gp.red = true
				n = gp
				continue
			}
			if n == n.parent.right {
				n = n.parent
				x.rotateLeft(n)
			}
			n.parent.red = false
			gp.red = true
			x.rotateRight(gp)
		} else {
			if uncle := gp.left; uncle != nil && uncle.red {
				n.parent.red = false
				uncle.red = false
				gp.red = true
				n = gp
				continue
			}
			if n == n.parent.left {
				n = n.parent
				x.rotateRight(n)
			}
			n.parent.red = false
			gp.red = true
			x.rotateLeft(gp)
		}
	}
	x.root.red = false
}

// transplant replaces the subtree rooted at u with the subtree rooted at v
// (v may be nil).
func (x *Tree[K, V]) transplant(u, v *TreeNode[K, V]) {
	switch {
	case u.parent == nil:
		x.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func treeMin[K constraints.Ordered, V any](n *TreeNode[K, V]) *TreeNode[K, V] {
	for n.left != nil {
		n = n.left
	}
	return n
}

// Min returns the minimum node, or nil if the tree is empty.
func (x *Tree[K, V]) Min() *TreeNode[K, V] {
	if x.root == nil {
		return nil
	}
	return treeMin(x.root)
}

// Next returns the in-order successor of n, or nil.
func (x *Tree[K, V]) Next(n *TreeNode[K, V]) *TreeNode[K, V] {
	if n.tree != x {
		panic(`intrusive: tree: next of node not in this tree`)
	}
	if n.right != nil {
		return treeMin(n.right)
	}
	p := n.parent
	for p != nil && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

// FirstKey returns the minimum-address node whose key equals key, or nil.
func (x *Tree[K, V]) FirstKey(key K) *TreeNode[K, V] {
	var found *TreeNode[K, V]
	n := x.root
	for n != nil {
		switch {
		case key < n.Key:
			n = n.left
		case key > n.Key:
			n = n.right
		default:
			found = n
			n = n.left // equal keys with lower addresses sort left
		}
	}
	return found
}

// Delete detaches n. Deleting a node not in this tree is fatal.
func (x *Tree[K, V]) Delete(n *TreeNode[K, V]) {
	if n.tree != x {
		panic(`intrusive: tree: delete of node not in this tree`)
	}
	var fixAt *TreeNode[K, V] // parent of the (possibly nil) replacement
	y := n
	yRed := y.red
	var repl *TreeNode[K, V]
	switch {
	case n.left == nil:
		repl = n.right
		fixAt = n.parent
		x.transplant(n, n.right)
	case n.right == nil:
		repl = n.left
		fixAt = n.parent
		x.transplant(n, n.left)
	default:
		y = treeMin(n.right)
		yRed = y.red
		repl = y.right
		if y.parent == n {
			fixAt = y
		} else {
			fixAt = y.parent
			x.transplant(y, y.right)
			y.right = n.right
			y.right.parent = y
		}
		x.transplant(n, y)
		y.left = n.left
		y.left.parent = y
		y.red = n.red
	}
	n.parent = nil
	n.left = nil
	n.right = nil
	n.red = false
	n.tree = nil
	x.size--
	if !yRed {
		x.deleteFixup(repl, fixAt)
	}
}

func isRed[K constraints.Ordered, V any](n *TreeNode[K, V]) bool {
	return n != nil && n.red
}

func (x *Tree[K, V]) deleteFixup(n, parent *TreeNode[K, V]) {
	for n != x.root && !isRed(n) {
		if parent == nil {
			break
		}
		if n == parent.left {
			w := parent.right
			if w.red {
				w.red = false
				parent.red = true
				x.rotateLeft(parent)
				w = parent.right
			}
			if !isRed(w.left) && !isRed(w.right) {
				w.red = true
				n = parent
				parent = n.parent
			} else {
				if !isRed(w.right) {
					w.left.red = false
					w.red = true
					x.rotateRight(w)
					w = parent.right
				}
				w.red = parent.red
				parent.red = false
				w.right.red = false
				x.rotateLeft(parent)
				n = x.root
				parent = nil
			}
		} else {
			w := parent.left
			if w.red {
				w.red = false
				parent.red = true
				x.rotateRight(parent)
				w = parent.left
			}
			if !isRed(w.left) && !isRed(w.right) {
				w.red = true
				n = parent
				parent = n.parent
			} else {
				if !isRed(w.left) {
					w.right.red = false
					w.red = true
					x.rotateLeft(w)
					w = parent.left
				}
				w.red = parent.red
				parent.red = false
				w.left.red = false
				x.rotateRight(parent)
				n = x.root
				parent = nil
			}
		}
	}
	if n != nil {
		n.red = false
	}
}
