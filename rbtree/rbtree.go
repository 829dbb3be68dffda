// Package rbtree implements an intrusive red-black tree with a shared,
// always black, sentinel standing in for nil leaves.
//
// Nodes are embedded in their owners and bound with [Node.SetData]. Keys are
// unsigned 64-bit values; how keys are ordered is decided by the tree's
// [InsertFunc], which allows the timer tree to compare keys by signed
// difference so that a wrapping clock still orders correctly. Duplicate keys
// are permitted, and their relative order is whatever the insert walk
// produces.
//
// A Tree must not be copied after Init.
package rbtree

import (
	"iter"
)

// Node is the tree link embedded in an owner.
type Node[T any] struct {
	// Key is the ordering key. It must not be changed while the node is in a tree.
	Key uint64

	left   *Node[T]
	right  *Node[T]
	parent *Node[T]
	owner  *T
	red    bool
}

// Data returns the owner bound via SetData.
func (n *Node[T]) Data() *T {
	return n.owner
}

// SetData binds the node to its owner.
func (n *Node[T]) SetData(owner *T) {
	n.owner = owner
}

// InsertFunc places node below root, as a red leaf, without rebalancing.
type InsertFunc[T any] func(root, node, sentinel *Node[T])

// Tree is a red-black tree of embedded nodes.
type Tree[T any] struct {
	_        [0]func()
	root     *Node[T]
	sentinel *Node[T]
	insert   InsertFunc[T]
	leaf     Node[T]
}

// New returns an initialised, empty tree.
func New[T any](insert InsertFunc[T]) *Tree[T] {
	var t Tree[T]
	t.Init(insert)
	return &t
}

// Init resets t to an empty tree using insert to place new nodes.
func (t *Tree[T]) Init(insert InsertFunc[T]) {
	t.leaf = Node[T]{}
	t.sentinel = &t.leaf
	t.root = t.sentinel
	t.insert = insert
}

// Empty reports whether the tree holds no nodes.
func (t *Tree[T]) Empty() bool {
	return t.root == t.sentinel
}

// Root returns the root node, or the sentinel when empty.
func (t *Tree[T]) Root() *Node[T] {
	return t.root
}

// Sentinel returns the tree's leaf sentinel.
func (t *Tree[T]) Sentinel() *Node[T] {
	return t.sentinel
}

// Insert adds node to the tree and rebalances.
func (t *Tree[T]) Insert(node *Node[T]) {
	sentinel := t.sentinel

	if t.root == sentinel {
		node.parent = nil
		node.left = sentinel
		node.right = sentinel
		node.red = false
		t.root = node
		return
	}

	t.insert(t.root, node, sentinel)

	for node != t.root && node.parent.red {
		if node.parent == node.parent.parent.left {
			uncle := node.parent.parent.right
			if uncle.red {
				node.parent.red = false
				uncle.red = false
				node.parent.parent.red = true
				node = node.parent.parent
			} else {
				if node == node.parent.right {
					node = node.parent
					t.rotateLeft(node)
				}
				node.parent.red = false
				node.parent.parent.red = true
				t.rotateRight(node.parent.parent)
			}
		} else {
			uncle := node.parent.parent.left
			if uncle.red {
				node.parent.red = false
				uncle.red = false
				node.parent.parent.red = true
				node = node.parent.parent
			} else {
				if node == node.parent.left {
					node = node.parent
					t.rotateRight(node)
				}
				node.parent.red = false
				node.parent.parent.red = true
				t.rotateLeft(node.parent.parent)
			}
		}
	}

	t.root.red = false
}

// Delete removes node, which must be in the tree, and rebalances. The links
// of the removed node are cleared.
func (t *Tree[T]) Delete(node *Node[T]) {
	sentinel := t.sentinel

	var subst, temp *Node[T]
	switch {
	case node.left == sentinel:
		temp = node.right
		subst = node
	case node.right == sentinel:
		temp = node.left
		subst = node
	default:
		subst = minimum(node.right, sentinel)
		temp = subst.right
	}

	if subst == t.root {
		t.root = temp
		temp.red = false
		clearLinks(node)
		return
	}

	red := subst.red

	if subst == subst.parent.left {
		subst.parent.left = temp
	} else {
		subst.parent.right = temp
	}

	if subst == node {
		temp.parent = subst.parent
	} else {
		if subst.parent == node {
			temp.parent = subst
		} else {
			temp.parent = subst.parent
		}

		subst.left = node.left
		subst.right = node.right
		subst.parent = node.parent
		subst.red = node.red

		if node == t.root {
			t.root = subst
		} else if node == node.parent.left {
			node.parent.left = subst
		} else {
			node.parent.right = subst
		}

		if subst.left != sentinel {
			subst.left.parent = subst
		}
		if subst.right != sentinel {
			subst.right.parent = subst
		}
	}

	clearLinks(node)

	if red {
		return
	}

	for temp != t.root && !temp.red {
		if temp == temp.parent.left {
			w := temp.parent.right
			if w.red {
				w.red = false
				temp.parent.red = true
				t.rotateLeft(temp.parent)
				w = temp.parent.right
			}
			if !w.left.red && !w.right.red {
				w.red = true
				temp = temp.parent
			} else {
				if !w.right.red {
					w.left.red = false
					w.red = true
					t.rotateRight(w)
					w = temp.parent.right
				}
				w.red = temp.parent.red
				temp.parent.red = false
				w.right.red = false
				t.rotateLeft(temp.parent)
				temp = t.root
			}
		} else {
			w := temp.parent.left
			if w.red {
				w.red = false
				temp.parent.red = true
				t.rotateRight(temp.parent)
				w = temp.parent.left
			}
			if !w.left.red && !w.right.red {
				w.red = true
				temp = temp.parent
			} else {
				if !w.left.red {
					w.right.red = false
					w.red = true
					t.rotateLeft(w)
					w = temp.parent.left
				}
				w.red = temp.parent.red
				temp.parent.red = false
				w.left.red = false
				t.rotateRight(temp.parent)
				temp = t.root
			}
		}
	}

	temp.red = false
}

// Min returns the leftmost node, or nil when the tree is empty.
func (t *Tree[T]) Min() *Node[T] {
	if t.root == t.sentinel {
		return nil
	}
	return minimum(t.root, t.sentinel)
}

// Next returns the in-order successor of node, or nil if node is the last.
func (t *Tree[T]) Next(node *Node[T]) *Node[T] {
	if node.right != t.sentinel {
		return minimum(node.right, t.sentinel)
	}
	for {
		if node == t.root {
			return nil
		}
		parent := node.parent
		if node == parent.left {
			return parent
		}
		node = parent
	}
}

// All yields the owners in tree order. The tree must not be modified during
// iteration.
func (t *Tree[T]) All() iter.Seq[*T] {
	return func(yield func(*T) bool) {
		for n := t.Min(); n != nil; n = t.Next(n) {
			if !yield(n.owner) {
				return
			}
		}
	}
}

func (t *Tree[T]) rotateLeft(node *Node[T]) {
	temp := node.right
	node.right = temp.left

	if temp.left != t.sentinel {
		temp.left.parent = node
	}

	temp.parent = node.parent

	if node == t.root {
		t.root = temp
	} else if node == node.parent.left {
		node.parent.left = temp
	} else {
		node.parent.right = temp
	}

	temp.left = node
	node.parent = temp
}

func (t *Tree[T]) rotateRight(node *Node[T]) {
	temp := node.left
	node.left = temp.right

	if temp.right != t.sentinel {
		temp.right.parent = node
	}

	temp.parent = node.parent

	if node == t.root {
		t.root = temp
	} else if node == node.parent.right {
		node.parent.right = temp
	} else {
		node.parent.left = temp
	}

	temp.right = node
	node.parent = temp
}

func minimum[T any](node, sentinel *Node[T]) *Node[T] {
	for node.left != sentinel {
		node = node.left
	}
	return node
}

func clearLinks[T any](node *Node[T]) {
	node.left = nil
	node.right = nil
	node.parent = nil
}
