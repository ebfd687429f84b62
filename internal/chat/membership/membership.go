// Package membership maintains the set of display names present in a room.
//
// Local updates driven by JOIN/LEAVE frames are a provisional guess; the
// broker's resync pushes (private per-session feed and per-room broadcast
// feed) replace the whole set, last write wins. Like the timeline, a Set is
// owned by the session's sequential dispatch path and is not goroutine-safe.
package membership

import "sort"

// Set is an order-independent collection of member names. Insertion is
// idempotent and removal of an absent name is a no-op.
type Set struct {
	names map[string]struct{}
}

// NewSet returns an empty member set.
func NewSet() *Set {
	return &Set{names: make(map[string]struct{})}
}

// Add inserts a name. Empty names and duplicates are ignored.
func (s *Set) Add(name string) {
	if name == "" {
		return
	}
	s.names[name] = struct{}{}
}

// Remove drops a name if present.
func (s *Set) Remove(name string) {
	delete(s.names, name)
}

// Replace swaps the entire set for the given list, deduplicating. This is
// the resync path: the pushed list is authoritative and is not merged.
func (s *Set) Replace(names []string) {
	next := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		next[name] = struct{}{}
	}
	s.names = next
}

// Clear empties the set. Used on logout.
func (s *Set) Clear() {
	s.names = make(map[string]struct{})
}

// Contains reports whether a name is present.
func (s *Set) Contains(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len reports the number of members.
func (s *Set) Len() int {
	return len(s.names)
}

// Names returns the members sorted for stable display order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
