package dedup

// unionFind is a disjoint set over photo ids with path halving. Each
// component tracks whether every edge that built it was an exact match,
// one similarity edge downgrades the whole component.
type unionFind struct {
	parent   map[string]string
	rank     map[string]int
	allExact map[string]bool
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent:   make(map[string]string),
		rank:     make(map[string]int),
		allExact: make(map[string]bool),
	}
}

// add registers id as a singleton component if unseen.
func (u *unionFind) add(id string) {
	if _, ok := u.parent[id]; ok {
		return
	}
	u.parent[id] = id
	u.allExact[id] = true
}

func (u *unionFind) find(id string) string {
	u.add(id)
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

// union merges the components of a and b. exact records whether the edge
// connecting them is a byte-identical match.
func (u *unionFind) union(a, b string, exact bool) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		if !exact {
			u.allExact[ra] = false
		}
		return
	}

	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	merged := u.allExact[ra] && u.allExact[rb] && exact

	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
	u.allExact[ra] = merged
	delete(u.allExact, rb)
}

// components returns every component keyed by its root.
func (u *unionFind) components() map[string][]string {
	out := make(map[string][]string)
	for id := range u.parent {
		root := u.find(id)
		out[root] = append(out[root], id)
	}
	return out
}

// exact reports whether the component holding id was built from exact
// edges only.
func (u *unionFind) exact(id string) bool {
	return u.allExact[u.find(id)]
}
