package dynamic

import "sort"

// Map holds the entries of a protobuf map field. Entries remember
// insertion order; setting an existing key updates the entry in place.
// Keys are the protobuf map-key scalars: bool, the four integer kinds,
// and string.
type Map struct {
	entries []MapEntry
	index   map[interface{}]int
}

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   Value
	Value Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{index: map[interface{}]int{}}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Get returns the value stored under key, and whether it is present.
func (m *Map) Get(key Value) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.index[mapKey(key)]
	if !ok {
		return Value{}, false
	}
	return m.entries[i].Value, true
}

// Set stores value under key, replacing any existing entry for the
// same key.
func (m *Map) Set(key, value Value) {
	k := mapKey(key)
	if i, ok := m.index[k]; ok {
		m.entries[i].Value = value
		return
	}
	m.index[k] = len(m.entries)
	m.entries = append(m.entries, MapEntry{Key: key, Value: value})
}

// Delete removes the entry for key, if any.
func (m *Map) Delete(key Value) {
	k := mapKey(key)
	i, ok := m.index[k]
	if !ok {
		return
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	delete(m.index, k)
	for j := i; j < len(m.entries); j++ {
		m.index[mapKey(m.entries[j].Key)] = j
	}
}

// Entries returns the entries in insertion order. The slice aliases the
// map's storage; callers must not mutate it.
func (m *Map) Entries() []MapEntry {
	if m == nil {
		return nil
	}
	return m.entries
}

// Range calls fn for each entry in insertion order until fn returns
// false.
func (m *Map) Range(fn func(key, value Value) bool) {
	if m == nil {
		return
	}
	for _, e := range m.entries {
		if !fn(e.Key, e.Value) {
			return
		}
	}
}

// sortedEntries returns the entries ordered by key: false before true
// for bools, numeric order for integers, lexicographic for strings.
// Deterministic encoding and JSON output use this order.
func (m *Map) sortedEntries() []MapEntry {
	if m == nil {
		return nil
	}
	sorted := append([]MapEntry(nil), m.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return keyLess(sorted[i].Key, sorted[j].Key)
	})
	return sorted
}

func (m *Map) equal(o *Map) bool {
	if m.Len() != o.Len() {
		return false
	}
	for _, e := range m.Entries() {
		ov, ok := o.Get(e.Key)
		if !ok || !e.Value.Equal(ov) {
			return false
		}
	}
	return true
}

// mapKey converts a key value to a comparable form usable as a Go map
// key. Panics on kinds the protocol does not allow as map keys.
func mapKey(key Value) interface{} {
	switch key.Kind() {
	case BoolKind:
		return key.Bool()
	case Int32Kind:
		return key.Int32()
	case Int64Kind:
		return key.Int64()
	case Uint32Kind:
		return key.Uint32()
	case Uint64Kind:
		return key.Uint64()
	case StringKind:
		return key.Str()
	default:
		panic("dynamic: " + key.Kind().String() + " is not a map key kind")
	}
}
