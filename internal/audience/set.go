package audience

import "sort"

// EndpointSet is a deduplicating set of recipient endpoints.
type EndpointSet map[string]struct{}

// Add inserts endpoint and reports whether it was new. Empty values are ignored.
func (s EndpointSet) Add(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if _, ok := s[endpoint]; ok {
		return false
	}
	s[endpoint] = struct{}{}
	return true
}

// Has reports membership.
func (s EndpointSet) Has(endpoint string) bool {
	_, ok := s[endpoint]
	return ok
}

// Len returns the number of endpoints.
func (s EndpointSet) Len() int {
	return len(s)
}

// Slice returns the endpoints in sorted order.
func (s EndpointSet) Slice() []string {
	out := make([]string, 0, len(s))
	for endpoint := range s {
		out = append(out, endpoint)
	}
	sort.Strings(out)
	return out
}
