// Package memtable implements the ordered in-memory map (spec.md §4.2):
// a self-balancing AVL tree over codec.Record, keyed by record key.
// Insert overwrites in place; delete sets the tombstone flag without
// removing the node, so a deleted key still shadows older on-disk
// versions once flushed.
package memtable

import (
	"github.com/vela-db/vela/codec"
)

// node is a single AVL tree node. balance is the height of the left
// subtree minus the height of the right subtree; after every Insert,
// |balance| <= 1 for every node (spec.md §4.2 invariant).
type node struct {
	record  codec.Record
	parent  *node
	left    *node
	right   *node
	balance int
}

// Tree is the mem-table: an ordered map from key to record.
// Tree is not safe for concurrent use — callers coordinate access via
// the lock manager (spec.md §5), exactly as a single mem-table writer
// is assumed to be serialized by its caller.
type Tree struct {
	root *node
	size int
}

// New returns an empty mem-table.
func New() *Tree {
	return &Tree{}
}

// Size returns the number of distinct keys currently held (including
// tombstoned ones).
func (t *Tree) Size() int {
	return t.size
}

// search walks from the root looking for key, returning the matching
// node (nil if absent) and its would-be parent for insertion.
func search(root *node, key any) (*node, *node) {
	var parent *node
	n := root
	for n != nil {
		parent = n
		switch c := codec.CompareKeys(key, n.record.Key); {
		case c == 0:
			return n, parent
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	return nil, parent
}

// Find returns the record stored for key, if any — tombstoned records
// are returned too, it is the caller's job (the LSM coordinator) to
// interpret the tombstone flag.
func (t *Tree) Find(key any) (codec.Record, bool) {
	n, _ := search(t.root, key)
	if n == nil {
		return codec.Record{}, false
	}
	return n.record, true
}

// Insert installs r, overwriting any existing record with the same
// key in place, or inserting and rebalancing a fresh node otherwise.
func (t *Tree) Insert(r codec.Record) {
	if t.root == nil {
		t.root = &node{record: r}
		t.size++
		return
	}

	n, parent := search(t.root, r.Key)
	if n != nil {
		n.record = r
		return
	}

	newNode := &node{record: r, parent: parent}
	if codec.CompareKeys(r.Key, parent.record.Key) < 0 {
		parent.left = newNode
	} else {
		parent.right = newNode
	}
	t.size++
	t.rebalanceAfterInsert(parent, r.Key)
}

// Delete installs a tombstone for key, leaving an existing node in
// place rather than removing it. If key has no node yet — always true
// right after a flush resets the mem-table to a fresh tree — it
// inserts a new tombstoned node, since the delete must mask a
// definition that may exist only in an older on-disk run.
func (t *Tree) Delete(key any) {
	n, _ := search(t.root, key)
	if n != nil {
		n.record.Tombstone = true
		return
	}
	t.Insert(codec.Record{Key: key, Tombstone: true})
}

// rebalanceAfterInsert walks from the inserted node's parent toward the
// root, updating balance factors and rotating where a node's balance
// factor leaves the [-1, 1] range. This is a direct port of the
// standard AVL retracing algorithm (original_source/anura/btree.py's
// `balance`), adapted to update t.root when a rotation replaces it.
func (t *Tree) rebalanceAfterInsert(parent *node, insertedKey any) {
	for parent != nil {
		if codec.CompareKeys(parent.record.Key, insertedKey) < 0 {
			parent.balance--
		} else {
			parent.balance++
		}

		switch {
		case parent.balance == -1 || parent.balance == 1:
			parent = parent.parent
		case parent.balance < -1:
			if parent.right.balance == 1 {
				rotateRight(parent.right)
			}
			newRoot := rotateLeft(parent)
			if parent == t.root {
				t.root = newRoot
			}
			return
		case parent.balance > 1:
			if parent.left.balance == -1 {
				rotateLeft(parent.left)
			}
			newRoot := rotateRight(parent)
			if parent == t.root {
				t.root = newRoot
			}
			return
		default:
			return
		}
	}
}

// rotateLeft rotates n down and its right child x up, returning x as
// the new subtree root. Parent/child pointers and balance factors are
// updated exactly as the standard AVL rotation formula requires.
func rotateLeft(n *node) *node {
	x := n.right
	n.right = x.left
	if n.right != nil {
		n.right.parent = n
	}

	x.parent = n.parent
	if x.parent != nil {
		if x.parent.left == n {
			x.parent.left = x
		} else {
			x.parent.right = x
		}
	}

	n.parent = x
	x.left = n

	n.balance++
	if x.balance < 0 {
		n.balance -= x.balance
	}
	x.balance++
	if n.balance > 0 {
		x.balance += n.balance
	}
	return x
}

// rotateRight is the mirror image of rotateLeft.
func rotateRight(n *node) *node {
	x := n.left
	n.left = x.right
	if n.left != nil {
		n.left.parent = n
	}

	x.parent = n.parent
	if x.parent != nil {
		if x.parent.left == n {
			x.parent.left = x
		} else {
			x.parent.right = x
		}
	}

	n.parent = x
	x.right = n

	n.balance--
	if x.balance > 0 {
		n.balance -= x.balance
	}
	x.balance--
	if n.balance < 0 {
		x.balance += n.balance
	}
	return x
}

// Iter returns all records in ascending key order. The snapshot is
// stable against concurrent reads (it walks a private slice built
// up-front) but, per spec.md §4.2, is not required to be stable
// against concurrent writes — callers serialize those via the lock
// manager.
func (t *Tree) Iter() []codec.Record {
	records := make([]codec.Record, 0, t.size)
	var walk func(*node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		records = append(records, n.record)
		walk(n.right)
	}
	walk(t.root)
	return records
}
