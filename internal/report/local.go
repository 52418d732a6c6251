package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSink writes reports as pretty-printed JSON files under a
// per-run directory.
type LocalSink struct {
	dir string
}

func NewLocalSink(dir string) (*LocalSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) Dir() string {
	return s.dir
}

func (s *LocalSink) SaveStage(rep StageReport) error {
	return s.write(fmt.Sprintf("stage_%d.json", rep.Stage), rep)
}

func (s *LocalSink) SaveRun(rep RunReport) error {
	return s.write("run.json", rep)
}

func (s *LocalSink) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, 0644)
}
