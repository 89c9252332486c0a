package graph

import "github.com/WispAyr/overwatch-sub003/pkg/models"

// CycleError reports a cycle found during validation, naming every node on
// the cycle in traversal order.
type CycleError struct {
	NodeIDs []string
}

func (e *CycleError) Error() string {
	s := "cycle detected: "
	for i, id := range e.NodeIDs {
		if i > 0 {
			s += " -> "
		}
		s += id
	}
	return s
}

const (
	unvisited = 0
	visiting  = 1
	done      = 2
)

// detectCycle runs DFS over the adjacency list it is given. Validate builds
// adj without any edge touching a linkIn/linkOut/linkCall node — those are
// explicit jump points, not sequential dataflow, and the spec excludes them
// from cycle detection.
func detectCycle(nodes map[string]models.Node, adj map[string][]string) *CycleError {
	state := make(map[string]int, len(nodes))
	var path []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		state[id] = visiting
		path = append(path, id)
		for _, next := range adj[id] {
			switch state[next] {
			case unvisited:
				if ce := visit(next); ce != nil {
					return ce
				}
			case visiting:
				cut := 0
				for i, p := range path {
					if p == next {
						cut = i
						break
					}
				}
				return &CycleError{NodeIDs: append([]string{}, path[cut:]...)}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	for id := range nodes {
		if state[id] == unvisited {
			if ce := visit(id); ce != nil {
				return ce
			}
		}
	}
	return nil
}

// isLinkNode reports whether typ is a link-family node whose edges are
// excluded from cycle detection.
func isLinkNode(typ models.NodeType) bool {
	return typ == models.NodeLinkIn || typ == models.NodeLinkOut || typ == models.NodeLinkCall
}
