package dedup

import (
	"sort"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-dedup/internal/store"
)

// groupNamespace seeds deterministic group ids. A group keeps its id
// across runs as long as its smallest member stays the same.
var groupNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("photo-dedup://group"))

// Builder accumulates pairwise duplicate links and folds them into
// connected components. Membership is transitive, a photo linked to any
// member of a group belongs to that group.
type Builder struct {
	uf *unionFind
}

// NewBuilder creates an empty cluster builder.
func NewBuilder() *Builder {
	return &Builder{uf: newUnionFind()}
}

// Add registers a photo with no links yet. Photos without links never
// appear in the output, registering just makes Link order irrelevant.
func (b *Builder) Add(id string) {
	b.uf.add(id)
}

// Link records that two photos are duplicates. Exact links come from
// identical content hashes, similar links from perceptual distance.
func (b *Builder) Link(x, y string, kind store.MatchKind) {
	b.uf.union(x, y, kind == store.MatchExact)
}

// Groups returns every component with at least two members. Members are
// sorted ascending, the group id is derived from the smallest member,
// and the kind is exact only when every edge in the component was exact.
func (b *Builder) Groups() []store.DuplicateGroup {
	var groups []store.DuplicateGroup
	for root, members := range b.uf.components() {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)

		kind := store.MatchSimilar
		if b.uf.exact(root) {
			kind = store.MatchExact
		}

		groups = append(groups, store.DuplicateGroup{
			GroupID:   uuid.NewSHA1(groupNamespace, []byte(members[0])).String(),
			MatchKind: kind,
			Members:   members,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Members[0] < groups[j].Members[0]
	})
	return groups
}
