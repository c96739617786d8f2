package vehicle

import "fmt"

const (
	DefaultLength = 5.0
	DefaultAccel  = 2.0
)

// ID is assigned once when a vehicle is registered with the road and never reused.
type ID int

func (id ID) String() string { return fmt.Sprintf("v%d", int(id)) }

// LaneIndex mirrors the (from, to, index) addressing of the road network.
type LaneIndex struct {
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
	Index int    `yaml:"index" json:"index"`
}

func (l LaneIndex) SameLane(o LaneIndex) bool {
	return l.From == o.From && l.To == o.To && l.Index == o.Index
}

func (l LaneIndex) String() string {
	return fmt.Sprintf("%s-%s/%d", l.From, l.To, l.Index)
}

type Vehicle struct {
	ID                ID
	Position          float64
	Speed             float64
	Length            float64
	Lane              LaneIndex
	TargetSpeed       float64
	LaneChangeEnabled bool
	Coordinated       bool
	Crashed           bool
	Accel             AccelerationModel
}

func New(id ID, lane LaneIndex, position, speed float64, model AccelerationModel) *Vehicle {
	if model == nil {
		model = NewConstant(DefaultAccel, -DefaultAccel)
	}
	return &Vehicle{
		ID:                id,
		Position:          position,
		Speed:             speed,
		Length:            DefaultLength,
		Lane:              lane,
		TargetSpeed:       speed,
		LaneChangeEnabled: true,
		Accel:             model,
	}
}

// Acceleration asks the vehicle's capability for its current acceleration.
func (v *Vehicle) Acceleration(front *Vehicle) float64 {
	if v.Accel == nil {
		return 0
	}
	return v.Accel.Acceleration(v, front)
}

// Limits returns the comfortable acceleration (positive) and deceleration (negative).
func (v *Vehicle) Limits() (float64, float64) {
	if v.Accel == nil {
		return DefaultAccel, -DefaultAccel
	}
	return v.Accel.Limits()
}

// GapTo is the bumper-to-bumper distance to a vehicle ahead.
func (v *Vehicle) GapTo(leader *Vehicle) float64 {
	return leader.Position - v.Position - leader.Length
}

type Class int

const (
	ClassOther Class = iota
	ClassMainline
	ClassRamp
)

func (c Class) String() string {
	switch c {
	case ClassMainline:
		return "mainline"
	case ClassRamp:
		return "ramp"
	default:
		return "other"
	}
}

// Classifier maps lane segment tags (the From node) to road classes.
type Classifier struct {
	mainline map[string]struct{}
	ramp     map[string]struct{}
}

func NewClassifier(mainline, ramp []string) Classifier {
	c := Classifier{
		mainline: make(map[string]struct{}, len(mainline)),
		ramp:     make(map[string]struct{}, len(ramp)),
	}
	for _, s := range mainline {
		c.mainline[s] = struct{}{}
	}
	for _, s := range ramp {
		c.ramp[s] = struct{}{}
	}
	return c
}

func (c Classifier) Class(v *Vehicle) Class {
	if _, ok := c.mainline[v.Lane.From]; ok {
		return ClassMainline
	}
	if _, ok := c.ramp[v.Lane.From]; ok {
		return ClassRamp
	}
	return ClassOther
}
