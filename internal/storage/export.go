package storage

import (
	"encoding/json"
	"io"
	"strconv"

	"github.com/san-kum/rampmerge/internal/vehicle"
)

type ExportData struct {
	Metadata RunMetadata           `json:"metadata"`
	Errors   []ErrorRow            `json:"errors"`
	Speeds   map[string][]SpeedRow `json:"speeds"`
}

// Export writes a stored run as a single indented JSON document.
func (s *Store) Export(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	errs, err := s.LoadErrors(runID)
	if err != nil {
		return err
	}
	speeds, err := s.LoadSpeeds(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		Metadata: *meta,
		Errors:   errs,
		Speeds:   make(map[string][]SpeedRow, len(speeds)),
	}
	for id, rows := range speeds {
		data.Speeds[key(id)] = rows
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func key(id vehicle.ID) string { return strconv.Itoa(int(id)) }
