package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferload/internal/loadgen"
)

func sampleRun(start time.Time) RunReport {
	return RunReport{
		RunID: uuid.New().String(),
		Start: start,
		End:   start.Add(time.Minute),
		Stages: []StageReport{
			{Stage: 0, Rate: 5, LoadType: loadgen.LoadConstant, Duration: 60},
		},
	}
}

func TestLocalSinkWritesStageAndRunFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	sink, err := NewLocalSink(dir)
	require.NoError(t, err)

	stage := StageReport{Stage: 2, Rate: 10, LoadType: loadgen.LoadPoisson, Duration: 30}
	require.NoError(t, sink.SaveStage(stage))

	run := sampleRun(time.Now())
	require.NoError(t, sink.SaveRun(run))

	data, err := os.ReadFile(filepath.Join(dir, "stage_2.json"))
	require.NoError(t, err)
	var got StageReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 10.0, got.Rate)
	assert.Equal(t, loadgen.LoadPoisson, got.LoadType)

	data, err = os.ReadFile(filepath.Join(dir, "run.json"))
	require.NoError(t, err)
	var gotRun RunReport
	require.NoError(t, json.Unmarshal(data, &gotRun))
	assert.Equal(t, run.RunID, gotRun.RunID)
	require.Len(t, gotRun.Stages, 1)
}

func TestHistoryStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenHistory(path)
	require.NoError(t, err)
	defer store.Close()

	run := sampleRun(time.Now())
	require.NoError(t, store.Save(run))

	got, err := store.Get(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Len(t, got.Stages, 1)

	_, err = store.Get("missing")
	require.Error(t, err)
}

func TestHistoryStoreListNewestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenHistory(path)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	old := sampleRun(base)
	mid := sampleRun(base.Add(time.Hour))
	recent := sampleRun(base.Add(2 * time.Hour))

	require.NoError(t, store.Save(mid))
	require.NoError(t, store.Save(recent))
	require.NoError(t, store.Save(old))

	runs := store.List()
	require.Len(t, runs, 3)
	assert.Equal(t, recent.RunID, runs[0].RunID)
	assert.Equal(t, mid.RunID, runs[1].RunID)
	assert.Equal(t, old.RunID, runs[2].RunID)
}
