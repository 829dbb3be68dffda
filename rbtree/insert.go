package rbtree

// InsertValue orders nodes by plain unsigned key comparison. Equal keys go
// to the right, after existing ones.
func InsertValue[T any](root, node, sentinel *Node[T]) {
	temp := root
	var p **Node[T]

	for {
		if node.Key < temp.Key {
			p = &temp.left
		} else {
			p = &temp.right
		}
		if *p == sentinel {
			break
		}
		temp = *p
	}

	place(p, temp, node, sentinel)
}

// InsertTimer orders nodes by the signed difference of their keys, so keys
// from a wrapping millisecond clock compare correctly as long as no two live
// keys are more than half the key space apart.
func InsertTimer[T any](root, node, sentinel *Node[T]) {
	temp := root
	var p **Node[T]

	for {
		if int64(node.Key-temp.Key) < 0 {
			p = &temp.left
		} else {
			p = &temp.right
		}
		if *p == sentinel {
			break
		}
		temp = *p
	}

	place(p, temp, node, sentinel)
}

func place[T any](p **Node[T], parent, node, sentinel *Node[T]) {
	*p = node
	node.parent = parent
	node.left = sentinel
	node.right = sentinel
	node.red = true
}
