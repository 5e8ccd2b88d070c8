package router

import (
	"errors"
	"sort"
)

// ErrNoServers is returned by Select when S is empty. The caller (the
// module proxy) decides whether to fall back to the local singleton.
var ErrNoServers = errors.New("router: no remote servers known")

// Select implements the route-selection priority:
//
//  1. If route is a string equal to a known server id, that server wins
//     outright.
//  2. Otherwise, among the ready subset R of servers: if |R| >= 2,
//     index by hash(route) mod |R|; if |R| == 1, return it.
//  3. If R is empty but S is non-empty, index into all of S by
//     hash(route) mod |S|.
//  4. If S is empty, ErrNoServers.
//
// servers must be in a stable, caller-determined order (e.g. sorted by
// id) so that hash(route) mod N is deterministic across calls and
// across processes for the same route and the same set of ids.
func Select(route interface{}, servers []string, ready map[string]bool) (string, error) {
	if s, ok := route.(string); ok {
		for _, id := range servers {
			if id == s {
				return id, nil
			}
		}
	}

	if len(servers) == 0 {
		return "", ErrNoServers
	}

	readyServers := make([]string, 0, len(servers))
	for _, id := range servers {
		if ready[id] {
			readyServers = append(readyServers, id)
		}
	}

	h := Hash(route)
	switch len(readyServers) {
	case 0:
		return servers[h%uint64(len(servers))], nil
	case 1:
		return readyServers[0], nil
	default:
		return readyServers[h%uint64(len(readyServers))], nil
	}
}

// SortedIDs returns server ids sorted for stable indexing, since a Go
// map iteration order is randomized.
func SortedIDs(ids map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
