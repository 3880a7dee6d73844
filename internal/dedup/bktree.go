package dedup

import (
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// bkNode is one node of a Burkhard-Keller tree keyed by Hamming distance.
// Photos whose hash collides exactly share a node.
type bkNode struct {
	hash     fingerprint.Hash256
	ids      []string
	children map[int]*bkNode
}

// bkTree answers "all hashes within distance t of q" exactly, pruning
// subtrees with the triangle inequality. Unlike approximate neighbor
// graphs it can never miss an in-radius match, which the grouping
// guarantees depend on.
type bkTree struct {
	root *bkNode
	size int
}

func (t *bkTree) insert(h fingerprint.Hash256, id string) {
	t.size++

	if t.root == nil {
		t.root = &bkNode{hash: h, ids: []string{id}}
		return
	}

	node := t.root
	for {
		d := h.Distance(node.hash)
		if d == 0 {
			node.ids = append(node.ids, id)
			return
		}
		if node.children == nil {
			node.children = make(map[int]*bkNode)
		}
		child, ok := node.children[d]
		if !ok {
			node.children[d] = &bkNode{hash: h, ids: []string{id}}
			return
		}
		node = child
	}
}

// within appends every stored id at distance <= threshold from q.
func (t *bkTree) within(q fingerprint.Hash256, threshold int, visit func(id string, distance int)) {
	if t.root == nil {
		return
	}

	stack := []*bkNode{t.root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		d := q.Distance(node.hash)
		if d <= threshold {
			for _, id := range node.ids {
				visit(id, d)
			}
		}

		// Children at distance outside [d-t, d+t] cannot hold a match.
		lo, hi := d-threshold, d+threshold
		for childDist, child := range node.children {
			if childDist >= lo && childDist <= hi {
				stack = append(stack, child)
			}
		}
	}
}
