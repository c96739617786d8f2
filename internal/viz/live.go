package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/controller"
	"github.com/san-kum/rampmerge/internal/traffic"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

const (
	width           = 80
	height          = 8
	historyCapacity = 600
	roadMargin      = 60.0
)

type TickMsg time.Time

// Model steps a controller and its road once per frame and draws the
// merge section with the live error graph.
type Model struct {
	cfg  *config.Config
	ctrl *controller.Controller
	road *traffic.Road
	fps  int

	canvas    *Canvas
	running   bool
	done      bool
	showHelp  bool
	last      *controller.TickReport
	speedErr  []float64
	gapErr    []float64
	merged    int
	collision *traffic.Collision
	err       error
}

func NewModel(cfg *config.Config, ctrl *controller.Controller, road *traffic.Road, fps int) Model {
	if fps <= 0 {
		fps = 30
	}
	return Model{
		cfg:      cfg,
		ctrl:     ctrl,
		road:     road,
		fps:      fps,
		canvas:   NewCanvas(width, height),
		running:  true,
		speedErr: make([]float64, 0, historyCapacity),
		gapErr:   make([]float64, 0, historyCapacity),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(m.fps), func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd { return m.tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
		case "n":
			if !m.running {
				m.step()
			}
		case "t":
			NextTheme()
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		if m.running {
			m.step()
		}
		return m, m.tick()
	}
	return m, nil
}

// Done reports whether the run reached its duration, collided or failed.
func (m Model) Done() bool { return m.done }

func (m Model) Err() error { return m.err }

// step runs one controller tick followed by one road step.
func (m *Model) step() {
	if m.done {
		return
	}
	report, err := m.ctrl.Tick(context.Background())
	if err != nil {
		m.err, m.done = err, true
		return
	}
	m.last = report
	if report.Errors.HasSpeed {
		m.speedErr = appendBounded(m.speedErr, report.Errors.Speed)
	}
	if report.Errors.HasGap {
		m.gapErr = appendBounded(m.gapErr, report.Errors.Gap)
	}

	rep := m.road.Step(m.cfg.Dt)
	m.merged += len(rep.Merged)
	if len(rep.Collisions) > 0 {
		c := rep.Collisions[0]
		m.collision, m.done = &c, true
	}
	if m.road.Time() >= m.cfg.Duration {
		m.done = true
	}
}

func appendBounded(s []float64, v float64) []float64 {
	s = append(s, v)
	if len(s) > historyCapacity {
		s = s[1:]
	}
	return s
}

// draw renders lane 0 on top, then the other mainline lanes, then the ramp
// track, with dashed lane separators and the merge-zone limits as verticals.
func (m *Model) draw() {
	m.canvas.Clear()
	w, h := m.canvas.Dots()
	lanes := m.cfg.Traffic.MainlineLanes + 1
	laneH := h / lanes
	length := m.cfg.Traffic.MergeLaneEnd + roadMargin
	toX := func(pos float64) int { return int(pos / length * float64(w-1)) }

	for i := 1; i < lanes; i++ {
		m.canvas.HLine(0, w-1, i*laneH, true)
	}
	zone := m.cfg.Zones.Merging
	m.canvas.VLine(toX(zone.Start), (lanes-1)*laneH, h-1)
	m.canvas.VLine(toX(zone.End), 0, h-1)

	for _, v := range m.road.Vehicles() {
		row := v.Lane.Index
		if m.road.Track(v.ID) == traffic.TrackRamp {
			row = lanes - 1
		}
		y := row*laneH + laneH/2
		x1 := toX(v.Position)
		x0 := toX(v.Position - v.Length)
		if v.Crashed {
			m.canvas.Box(x0, y-2, x1, y+1)
			continue
		}
		m.canvas.Box(x0, y-1, x1, y)
	}
}

func (m Model) View() string {
	m.draw()
	theme := CurrentTheme

	status := statusStyle(theme.Coordinated).Render("RUNNING")
	switch {
	case m.err != nil:
		status = statusStyle(theme.Error).Render("ERROR " + m.err.Error())
	case m.collision != nil:
		status = statusStyle(theme.Error).Render(fmt.Sprintf("COLLISION %s/%s at %.1fs", m.collision.A, m.collision.B, m.collision.Time))
	case m.done:
		status = statusStyle(theme.Muted).Render("FINISHED")
	case !m.running:
		status = statusStyle(theme.Warning).Render("PAUSED")
	}

	var s strings.Builder
	s.WriteString(headerStyle().Render("RAMP MERGE "+strings.ToUpper(m.cfg.Scenario)) + "\n")
	s.WriteString(status + "\n\n")

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("Time", fmt.Sprintf("%.1fs / %.0fs", m.road.Time(), m.cfg.Duration))
	row("Vehicles", fmt.Sprintf("%d", len(m.road.Vehicles())))
	row("Coordinated", fmt.Sprintf("%d", m.ctrl.Planner().Coordinated().Len()))
	row("Merged", fmt.Sprintf("%d", m.merged))
	if m.last != nil {
		if co := m.last.Coordination; co != nil {
			row("Slot", fmt.Sprintf("%s ahead of %s (%.1fs)", co.Ramp, co.Mainline, co.MainTime-co.RampTime))
		}
		if g := m.last.Slot; g != nil {
			ok := statusStyle(theme.Warning).Render("short")
			if g.Acceptable {
				ok = statusStyle(theme.Coordinated).Render("ok")
			}
			row("Gap", fmt.Sprintf("%s..%s %.0f/%.0fm ", g.Follower.ID, g.Leader.ID, g.Size, g.Required)+ok)
		}
		row("Overrides", fmt.Sprintf("%d", len(m.last.Overrides)))
	}
	if ego := m.road.Ego(); ego != nil {
		row("Ego", fmt.Sprintf("%.1f m/s -> %.1f", ego.Speed, ego.TargetSpeed))
	}
	if n := len(m.speedErr); n > 0 {
		row("Speed error", fmt.Sprintf("%5.1f%% ", m.speedErr[n-1])+ErrorBar(m.speedErr[n-1], 12))
	}
	if n := len(m.gapErr); n > 0 {
		row("Gap error", fmt.Sprintf("%5.1f%% ", m.gapErr[n-1])+ErrorBar(m.gapErr[n-1], 12))
	}
	if len(m.speedErr) > 1 {
		chart := asciigraph.Plot(m.speedErr, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("speed error %"))
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	s.WriteString(helpStyle.Render("SP:Pause N:Step T:Theme ?:Help Q:Quit"))

	road := lipgloss.NewStyle().Foreground(theme.Road).Render(m.canvas.String())
	main := lipgloss.JoinHorizontal(lipgloss.Top, canvasStyle.Render(road+m.legend()), statsStyle.Render(s.String()))
	if m.showHelp {
		return helpText + "\n" + main
	}
	return main
}

// legend lists the vehicles inside the control and merging zones.
func (m Model) legend() string {
	theme := CurrentTheme
	var b strings.Builder
	z := m.cfg.Zones
	for _, v := range m.road.Vehicles() {
		if v.Position < z.Control.Start || v.Position > z.MergePoint() {
			continue
		}
		color := theme.Mainline
		if m.road.Track(v.ID) == traffic.TrackRamp {
			color = theme.Ramp
		}
		if v.Coordinated {
			color = theme.Coordinated
		}
		b.WriteString(lipgloss.NewStyle().Foreground(color).Render(describe(v)) + "\n")
	}
	return b.String()
}

func describe(v *vehicle.Vehicle) string {
	return fmt.Sprintf("%-4s %-8s x=%6.1f v=%5.1f", v.ID, v.Lane, v.Position, v.Speed)
}

const helpText = `
  Space  pause / resume
  N      single step while paused
  T      cycle themes
  ?      toggle this help
  Q      quit
`
