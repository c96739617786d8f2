package planner

import "github.com/san-kum/rampmerge/internal/vehicle"

// Phase tracks a vehicle through one merge event.
type Phase int

const (
	Unassigned Phase = iota
	Candidate
	Coordinated
	Released
)

func (p Phase) String() string {
	switch p {
	case Candidate:
		return "candidate"
	case Coordinated:
		return "coordinated"
	case Released:
		return "released"
	default:
		return "unassigned"
	}
}

// CoordinatedSet remembers every vehicle the slot search ever selected.
// Membership only grows; the phase of a member moves on to Released once it
// passes the merge point.
type CoordinatedSet struct {
	members map[vehicle.ID]struct{}
	order   []vehicle.ID
	phases  map[vehicle.ID]Phase
}

func NewCoordinatedSet() *CoordinatedSet {
	return &CoordinatedSet{
		members: make(map[vehicle.ID]struct{}),
		phases:  make(map[vehicle.ID]Phase),
	}
}

// Consider moves an unassigned vehicle to Candidate.
func (s *CoordinatedSet) Consider(id vehicle.ID) {
	if s.phases[id] == Unassigned {
		s.phases[id] = Candidate
	}
}

func (s *CoordinatedSet) Mark(ids ...vehicle.ID) {
	for _, id := range ids {
		if _, ok := s.members[id]; !ok {
			s.members[id] = struct{}{}
			s.order = append(s.order, id)
		}
		s.phases[id] = Coordinated
	}
}

// Release ends a vehicle's merge event. It reports whether the phase changed.
func (s *CoordinatedSet) Release(id vehicle.ID) bool {
	switch s.phases[id] {
	case Candidate, Coordinated:
		s.phases[id] = Released
		return true
	}
	return false
}

func (s *CoordinatedSet) Contains(id vehicle.ID) bool {
	_, ok := s.members[id]
	return ok
}

func (s *CoordinatedSet) Phase(id vehicle.ID) Phase { return s.phases[id] }

func (s *CoordinatedSet) Len() int { return len(s.order) }

// IDs returns members in the order they were first coordinated.
func (s *CoordinatedSet) IDs() []vehicle.ID {
	out := make([]vehicle.ID, len(s.order))
	copy(out, s.order)
	return out
}
