// Package storage persists finished runs: metadata.json, the config that
// produced the run, per-tick errors and per-vehicle speed series as CSV.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/rampmerge/internal/config"
	"github.com/san-kum/rampmerge/internal/experiment"
	"github.com/san-kum/rampmerge/internal/history"
	"github.com/san-kum/rampmerge/internal/vehicle"
)

const (
	metadataFile = "metadata.json"
	configFile   = "config.yaml"
	errorsFile   = "errors.csv"
	speedsFile   = "speeds.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string       `json:"id"`
	Scenario    string       `json:"scenario"`
	Timestamp   time.Time    `json:"timestamp"`
	Seed        int64        `json:"seed"`
	Dt          float64      `json:"dt"`
	Duration    float64      `json:"duration"`
	DelayMode   string       `json:"delay_mode"`
	Steps       int          `json:"steps"`
	SpeedError  float64      `json:"speed_error_pct"`
	GapError    float64      `json:"gap_error_pct"`
	Coordinated []vehicle.ID `json:"coordinated"`
	Merged      int          `json:"merged"`
	LaneChanges int          `json:"lane_changes"`
	Collisions  int          `json:"collisions"`
}

// ErrorRow is one tick of errors.csv. A Has flag is false when the tick had
// no scored pair.
type ErrorRow struct {
	Time     float64 `json:"time"`
	Speed    float64 `json:"speed_error_pct"`
	HasSpeed bool    `json:"has_speed"`
	Gap      float64 `json:"gap_error_pct"`
	HasGap   bool    `json:"has_gap"`
}

// SpeedRow is one tick of one vehicle in speeds.csv.
type SpeedRow struct {
	Time      float64 `json:"time"`
	Planned   float64 `json:"planned"`
	Actual    float64 `json:"actual"`
	HasActual bool    `json:"has_actual"`
}

func (s *Store) Save(cfg *config.Config, result *experiment.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", cfg.Scenario, now.UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:          runID,
		Scenario:    cfg.Scenario,
		Timestamp:   now,
		Seed:        cfg.Seed,
		Dt:          cfg.Dt,
		Duration:    cfg.Duration,
		DelayMode:   cfg.Delay.Mode,
		Steps:       result.Steps,
		SpeedError:  result.SpeedError,
		GapError:    result.GapError,
		Coordinated: result.Coordinated,
		Merged:      len(result.Merged),
		LaneChanges: result.LaneChanges,
		Collisions:  len(result.Collisions),
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := config.Save(filepath.Join(runDir, configFile), cfg); err != nil {
		return "", err
	}
	if result.History == nil {
		return runID, nil
	}
	if err := writeErrors(filepath.Join(runDir, errorsFile), result.History); err != nil {
		return "", err
	}
	if err := writeSpeeds(filepath.Join(runDir, speedsFile), result.History); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeErrors(path string, h *history.Recorder) error {
	speed := byTime(h.SpeedErrors())
	gap := byTime(h.GapErrors())

	return writeCSV(path, []string{"time", "speed_error", "gap_error"}, func(w *csv.Writer) error {
		for _, t := range h.Times() {
			row := []string{formatFloat(t), "", ""}
			if v, ok := speed[t]; ok {
				row[1] = formatFloat(v)
			}
			if v, ok := gap[t]; ok {
				row[2] = formatFloat(v)
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeSpeeds(path string, h *history.Recorder) error {
	return writeCSV(path, []string{"vehicle", "time", "planned", "actual"}, func(w *csv.Writer) error {
		for _, id := range h.Vehicles() {
			actual := byTime(h.ActualSpeeds(id))
			for _, p := range h.PlannedSpeeds(id) {
				row := []string{strconv.Itoa(int(id)), formatFloat(p.Time), formatFloat(p.Value), ""}
				if v, ok := actual[p.Time]; ok {
					row[3] = formatFloat(v)
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func writeCSV(path string, header []string, rows func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := rows(w); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func byTime(points []history.Point) map[float64]float64 {
	m := make(map[float64]float64, len(points))
	for _, p := range points {
		m[p.Time] = p.Value
	}
	return m
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadConfig returns the configuration the run was started with.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, configFile))
}

func (s *Store) LoadErrors(runID string) ([]ErrorRow, error) {
	records, err := s.readCSV(runID, errorsFile)
	if err != nil {
		return nil, err
	}

	rows := make([]ErrorRow, 0, len(records))
	for _, rec := range records {
		if len(rec) < 3 {
			continue
		}
		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			continue
		}
		row := ErrorRow{Time: t}
		row.Speed, row.HasSpeed = parseOptional(rec[1])
		row.Gap, row.HasGap = parseOptional(rec[2])
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *Store) LoadSpeeds(runID string) (map[vehicle.ID][]SpeedRow, error) {
	records, err := s.readCSV(runID, speedsFile)
	if err != nil {
		return nil, err
	}

	out := make(map[vehicle.ID][]SpeedRow)
	for _, rec := range records {
		if len(rec) < 4 {
			continue
		}
		id, err := strconv.Atoi(rec[0])
		if err != nil {
			continue
		}
		t, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			continue
		}
		planned, ok := parseOptional(rec[2])
		if !ok {
			continue
		}
		row := SpeedRow{Time: t, Planned: planned}
		row.Actual, row.HasActual = parseOptional(rec[3])
		out[vehicle.ID(id)] = append(out[vehicle.ID(id)], row)
	}
	return out, nil
}

// readCSV returns the data records of a run file without its header.
func (s *Store) readCSV(runID, name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return [][]string{}, nil
	}
	return records[1:], nil
}

func parseOptional(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
