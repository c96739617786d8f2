package history

type Point struct {
	Time  float64
	Value float64
}

// Series is a time-ordered sequence of points. A positive capacity keeps only
// the newest points.
type Series struct {
	capacity int
	points   []Point
}

func NewSeries(capacity int) *Series {
	return &Series{capacity: capacity}
}

func (s *Series) Append(t, v float64) {
	if s.capacity > 0 && len(s.points) == s.capacity {
		copy(s.points, s.points[1:])
		s.points = s.points[:len(s.points)-1]
	}
	s.points = append(s.points, Point{Time: t, Value: v})
}

func (s *Series) Len() int { return len(s.points) }

func (s *Series) Points() []Point {
	if s == nil {
		return nil
	}
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Series) Values() []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Value
	}
	return out
}

func (s *Series) Last() (Point, bool) {
	if s == nil || len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Mean accumulates a running average that survives series eviction.
type Mean struct {
	name    string
	sum     float64
	samples int
}

func NewMean(name string) *Mean { return &Mean{name: name} }

func (m *Mean) Name() string { return m.name }

func (m *Mean) Observe(v float64) {
	m.sum += v
	m.samples++
}

func (m *Mean) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *Mean) Samples() int { return m.samples }

func (m *Mean) Reset() {
	m.sum = 0
	m.samples = 0
}
