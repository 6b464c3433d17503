// Package orgtree indexes a company's org hierarchy by node id and builds
// ancestor paths for roles placed in it.
package orgtree

import "readyline/internal/domain"

const DefaultMaxDepth = 16

type Tree struct {
	nodes    map[string]domain.OrgNode
	maxDepth int
}

// New indexes nodes. maxDepth bounds every walk; values < 1 use the default.
func New(nodes []domain.OrgNode, maxDepth int) *Tree {
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}
	t := &Tree{
		nodes:    make(map[string]domain.OrgNode, len(nodes)),
		maxDepth: maxDepth,
	}
	for _, n := range nodes {
		t.nodes[n.ID] = n
	}
	return t
}

// Path returns ancestor names root first, ending with the node itself.
// A dangling parent link ends the walk, as does a revisited node or the
// depth bound.
func (t *Tree) Path(nodeID string) []string {
	var rev []string
	seen := map[string]bool{}
	cur := nodeID
	for depth := 0; cur != "" && depth < t.maxDepth; depth++ {
		if seen[cur] {
			break
		}
		seen[cur] = true
		n, ok := t.nodes[cur]
		if !ok {
			break
		}
		rev = append(rev, n.Name)
		if n.ParentID == nil {
			break
		}
		cur = *n.ParentID
	}
	out := make([]string, len(rev))
	for i, name := range rev {
		out[len(rev)-1-i] = name
	}
	return out
}

// RolePath is the org path of the node a role sits under followed by the
// role name.
func (t *Tree) RolePath(role domain.CompanyRole) []string {
	var path []string
	if role.OrgNodeID != nil {
		path = t.Path(*role.OrgNodeID)
	}
	return append(path, role.Name)
}

// WithPaths returns a copy of roles with Path filled in.
func (t *Tree) WithPaths(roles []domain.CompanyRole) []domain.CompanyRole {
	out := make([]domain.CompanyRole, len(roles))
	for i, r := range roles {
		r.Path = t.RolePath(r)
		out[i] = r
	}
	return out
}
