package planner

import (
	"fmt"

	"github.com/san-kum/rampmerge/internal/vehicle"
)

// Pair is an ordered (leader, follower) key for gap series.
type Pair struct {
	Leader   vehicle.ID
	Follower vehicle.ID
}

func (p Pair) String() string { return fmt.Sprintf("%s>%s", p.Leader, p.Follower) }

// SnapshotLog is an append-only sequence of per-tick maps addressed by
// absolute index. With a positive capacity the oldest snapshots are evicted,
// but indices of the survivors never shift.
type SnapshotLog[K comparable] struct {
	capacity int
	base     int
	entries  []map[K]float64
}

func NewSnapshotLog[K comparable](capacity int) *SnapshotLog[K] {
	if capacity < 0 {
		capacity = 0
	}
	return &SnapshotLog[K]{capacity: capacity}
}

// Append stores a copy of m and returns its index.
func (l *SnapshotLog[K]) Append(m map[K]float64) int {
	cp := make(map[K]float64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	if l.capacity > 0 && len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
		l.base++
	}
	l.entries = append(l.entries, cp)
	return l.base + len(l.entries) - 1
}

// Len is the number of snapshots ever appended.
func (l *SnapshotLog[K]) Len() int { return l.base + len(l.entries) }

// Retained is the number of snapshots still held.
func (l *SnapshotLog[K]) Retained() int { return len(l.entries) }

func (l *SnapshotLog[K]) At(i int) (map[K]float64, bool) {
	i -= l.base
	if i < 0 || i >= len(l.entries) {
		return nil, false
	}
	return l.entries[i], true
}

func (l *SnapshotLog[K]) Lookup(i int, key K) (float64, bool) {
	m, ok := l.At(i)
	if !ok {
		return 0, false
	}
	v, ok := m[key]
	return v, ok
}

func (l *SnapshotLog[K]) Latest() (map[K]float64, bool) {
	return l.At(l.Len() - 1)
}
