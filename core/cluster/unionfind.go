package cluster

// UnionFind is a disjoint set structure with path compression and union by
// rank, guarded by an explicit may-union predicate. A union that the
// predicate rejects is a no-op, which keeps domain rules like surname
// bridging out of the structure itself.
type UnionFind[T comparable] struct {
	parent   map[T]T
	rank     map[T]int
	mayUnion func(a, b T) bool
}

// NewUnionFind creates a union find structure. A nil predicate allows all
// unions.
func NewUnionFind[T comparable](mayUnion func(a, b T) bool) *UnionFind[T] {
	if mayUnion == nil {
		mayUnion = func(a, b T) bool { return true }
	}
	return &UnionFind[T]{
		parent:   map[T]T{},
		rank:     map[T]int{},
		mayUnion: mayUnion,
	}
}

// Add registers an element as its own set. Adding an existing element is a
// no-op.
func (u *UnionFind[T]) Add(id T) {
	if _, ok := u.parent[id]; ok {
		return
	}
	u.parent[id] = id
	u.rank[id] = 0
}

// Find returns the set representative, compressing the path on the way.
func (u *UnionFind[T]) Find(id T) T {
	u.Add(id)
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		id, u.parent[id] = u.parent[id], root
	}
	return root
}

// Union merges the sets of a and b if the predicate allows it. Reports
// whether the sets are in the same set afterwards.
func (u *UnionFind[T]) Union(a, b T) bool {
	rootA, rootB := u.Find(a), u.Find(b)
	if rootA == rootB {
		return true
	}
	if !u.mayUnion(rootA, rootB) {
		return false
	}

	if u.rank[rootA] < u.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	u.parent[rootB] = rootA
	if u.rank[rootA] == u.rank[rootB] {
		u.rank[rootA]++
	}
	return true
}

// Sets returns all sets keyed by their representative.
func (u *UnionFind[T]) Sets() map[T][]T {
	sets := map[T][]T{}
	for id := range u.parent {
		root := u.Find(id)
		sets[root] = append(sets[root], id)
	}
	return sets
}
