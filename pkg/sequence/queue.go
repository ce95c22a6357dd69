package sequence

import "iter"

// OrderedMap is a map that remembers insertion order. Replacing the value of
// an existing key keeps the key in its original position. It is not safe for
// concurrent use.
type OrderedMap[K comparable, V any] struct {
	index map[K]int
	keys  []K
	vals  []V
	live  []bool
	size  int
}

func NewOrderedMap[K comparable, V any]() *OrderedMap[K, V] {
	return &OrderedMap[K, V]{index: make(map[K]int)}
}

// Set inserts or replaces the value for key. It reports whether the key was
// already present.
func (m *OrderedMap[K, V]) Set(key K, value V) bool {
	if i, ok := m.index[key]; ok {
		m.vals[i] = value
		return true
	}
	m.index[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vals = append(m.vals, value)
	m.live = append(m.live, true)
	m.size++
	return false
}

func (m *OrderedMap[K, V]) Get(key K) (V, bool) {
	if i, ok := m.index[key]; ok {
		return m.vals[i], true
	}
	var zero V
	return zero, false
}

func (m *OrderedMap[K, V]) Has(key K) bool {
	_, ok := m.index[key]
	return ok
}

// Delete removes key and reports whether it was present.
func (m *OrderedMap[K, V]) Delete(key K) bool {
	i, ok := m.index[key]
	if !ok {
		return false
	}
	delete(m.index, key)
	var zeroV V
	m.vals[i] = zeroV
	m.live[i] = false
	m.size--
	if m.size == 0 || len(m.keys) > 32 && m.size < len(m.keys)/2 {
		m.compact()
	}
	return true
}

func (m *OrderedMap[K, V]) Len() int {
	return m.size
}

func (m *OrderedMap[K, V]) Clear() {
	m.index = make(map[K]int)
	m.keys = nil
	m.vals = nil
	m.live = nil
	m.size = 0
}

// All yields live entries in insertion order.
func (m *OrderedMap[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i, k := range m.keys {
			if !m.live[i] {
				continue
			}
			if !yield(k, m.vals[i]) {
				return
			}
		}
	}
}

// Keys returns a copy of the live keys in insertion order.
func (m *OrderedMap[K, V]) Keys() []K {
	out := make([]K, 0, m.size)
	for k := range m.All() {
		out = append(out, k)
	}
	return out
}

func (m *OrderedMap[K, V]) compact() {
	keys := make([]K, 0, m.size)
	vals := make([]V, 0, m.size)
	live := make([]bool, 0, m.size)
	for i, k := range m.keys {
		if !m.live[i] {
			continue
		}
		m.index[k] = len(keys)
		keys = append(keys, k)
		vals = append(vals, m.vals[i])
		live = append(live, true)
	}
	m.keys, m.vals, m.live = keys, vals, live
}
