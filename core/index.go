package core

// Identified is anything with a stable ID.
type Identified interface {
	ID() string
}

// Index is an ordered set keyed by ID. It maps between positions in packed
// numeric vectors and the entities they stand for.
type Index[T Identified] struct {
	items []T
	pos   map[string]int
}

// NewIndex builds an index from items using set semantics.
func NewIndex[T Identified](items ...T) *Index[T] {
	idx := &Index[T]{pos: make(map[string]int, len(items))}
	for _, it := range items {
		idx.Add(it)
	}
	return idx
}

// Add appends item unless an item with the same ID is present. It reports
// whether the item was added.
func (x *Index[T]) Add(item T) bool {
	if _, ok := x.pos[item.ID()]; ok {
		return false
	}
	x.pos[item.ID()] = len(x.items)
	x.items = append(x.items, item)
	return true
}

func (x *Index[T]) Len() int { return len(x.items) }

// At returns the item at position i.
func (x *Index[T]) At(i int) T { return x.items[i] }

// IndexOf returns the position of id.
func (x *Index[T]) IndexOf(id string) (int, bool) {
	i, ok := x.pos[id]
	return i, ok
}

// Get returns the item with the given ID.
func (x *Index[T]) Get(id string) (T, bool) {
	i, ok := x.pos[id]
	if !ok {
		var zero T
		return zero, false
	}
	return x.items[i], true
}

// Items returns a copy of the items in order.
func (x *Index[T]) Items() []T {
	return append([]T(nil), x.items...)
}

// IDs returns the item IDs in order.
func (x *Index[T]) IDs() []string {
	ids := make([]string, len(x.items))
	for i, it := range x.items {
		ids[i] = it.ID()
	}
	return ids
}

// Pack converts an ID-keyed mapping into a vector ordered like the index.
// Missing entries take def; entries for unknown IDs are ignored.
func (x *Index[T]) Pack(values map[string]float64, def float64) []float64 {
	out := make([]float64, len(x.items))
	for i, it := range x.items {
		if v, ok := values[it.ID()]; ok {
			out[i] = v
		} else {
			out[i] = def
		}
	}
	return out
}

// Unpack converts a vector ordered like the index into an ID-keyed mapping.
func (x *Index[T]) Unpack(values []float64) map[string]float64 {
	out := make(map[string]float64, len(x.items))
	for i, it := range x.items {
		if i >= len(values) {
			break
		}
		out[it.ID()] = values[i]
	}
	return out
}
