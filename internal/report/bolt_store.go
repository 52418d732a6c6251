package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

const BucketRuns = "runs"

// HistoryStore keeps past run reports in a bbolt file so earlier
// benchmarks can be listed and re-read without parsing report dirs.
type HistoryStore struct {
	db *bbolt.DB
}

// OpenHistory opens (creating if needed) the run history database. An
// empty path defaults to ~/.inferload/history.db.
func OpenHistory(path string) (*HistoryStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".inferload", "history.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &HistoryStore{db: db}, nil
}

func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func (s *HistoryStore) Save(rep RunReport) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		data, err := json.Marshal(rep)
		if err != nil {
			return err
		}
		return b.Put([]byte(rep.RunID), data)
	})
}

// List returns all stored runs, newest first by start time.
func (s *HistoryStore) List() []RunReport {
	var runs []RunReport

	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rep RunReport
			if err := json.Unmarshal(v, &rep); err == nil {
				runs = append(runs, rep)
			}
		}
		return nil
	})

	for i := 0; i < len(runs); i++ {
		for j := i + 1; j < len(runs); j++ {
			if runs[j].Start.After(runs[i].Start) {
				runs[i], runs[j] = runs[j], runs[i]
			}
		}
	}
	return runs
}

func (s *HistoryStore) Get(id string) (*RunReport, error) {
	var rep RunReport
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("run %s not found", id)
		}
		return json.Unmarshal(v, &rep)
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
