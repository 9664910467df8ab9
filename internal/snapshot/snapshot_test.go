package snapshot

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func rec(id int64) models.ConversationRecord {
	return models.ConversationRecord{
		ID:        id,
		SessionID: "20240101_120000",
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second),
		UserInput: fmt.Sprintf("input %d", id),
		Response:  "ok",
		Tags:      []string{},
	}
}

func TestAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	c := Open(Options{Dir: dir, Capacity: 10}, testLogger(&logs))
	assert.Equal(t, 0, c.Len())

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, c.Append(rec(i)))
	}
	assert.Equal(t, int64(3), c.LastID())

	reloaded := Open(Options{Dir: dir, Capacity: 10}, testLogger(&logs))
	require.Equal(t, 3, reloaded.Len())
	got := reloaded.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
	assert.True(t, rec(3).Timestamp.Equal(got[1].Timestamp))
	assert.Empty(t, logs.String())
}

func TestCapacityAndWindow(t *testing.T) {
	c := Open(Options{Dir: t.TempDir(), Capacity: 5}, testLogger(&bytes.Buffer{}))
	for i := int64(1); i <= 8; i++ {
		require.NoError(t, c.Append(rec(i)))
	}
	assert.Equal(t, 5, c.Len())

	window := c.Window(3)
	require.Len(t, window, 3)
	assert.Equal(t, int64(6), window[0].ID)
	assert.Equal(t, int64(8), window[2].ID)

	assert.Len(t, c.Window(0), 5)
	assert.Len(t, c.Recent(100), 5)
	assert.Nil(t, c.Recent(0))
}

func TestCorruptFilesResetToEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conversations.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "learning_data.json"), []byte("[1,2"), 0o644))

	var logs bytes.Buffer
	c := Open(Options{Dir: dir}, testLogger(&logs))
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Patterns(""))
	assert.Contains(t, logs.String(), "resetting conversation snapshot")
	assert.Contains(t, logs.String(), "resetting learning snapshot")

	require.NoError(t, c.Append(rec(1)))
	assert.Equal(t, 1, Open(Options{Dir: dir}, testLogger(&logs)).Len())
}

func TestCorruptSnapshotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	var records []models.ConversationRecord
	err := readJSON(path, &records)
	var corrupt *CorruptSnapshotError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, path, corrupt.Path)
}

func TestAppendFailureLeavesCacheUntouched(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "snap")
	c := Open(Options{Dir: dir}, testLogger(&bytes.Buffer{}))
	require.NoError(t, c.Append(rec(1)))

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("in the way"), 0o644))

	require.Error(t, c.Append(rec(2)))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(1), c.LastID())
}

func TestReplace(t *testing.T) {
	dir := t.TempDir()
	c := Open(Options{Dir: dir, Capacity: 2}, testLogger(&bytes.Buffer{}))
	require.NoError(t, c.Append(rec(9)))

	require.NoError(t, c.Replace([]models.ConversationRecord{rec(1), rec(2), rec(3)}))
	got := c.Recent(10)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)

	require.NoError(t, c.Replace(nil))
	assert.Equal(t, 0, Open(Options{Dir: dir}, testLogger(&bytes.Buffer{})).Len())
}

func TestPatterns(t *testing.T) {
	dir := t.TempDir()
	c := Open(Options{Dir: dir}, testLogger(&bytes.Buffer{}))
	patterns := []models.LearningPattern{
		{ID: 1, Type: models.PatternScreenshotCommands, Frequency: 2, SuccessRate: models.InitialSuccessRate},
		{ID: 2, Type: models.PatternSystemCommands, Frequency: 1, SuccessRate: models.InitialSuccessRate},
	}
	require.NoError(t, c.SetPatterns(patterns))

	reloaded := Open(Options{Dir: dir}, testLogger(&bytes.Buffer{}))
	assert.Len(t, reloaded.Patterns(""), 2)
	shots := reloaded.Patterns(models.PatternScreenshotCommands)
	require.Len(t, shots, 1)
	assert.Equal(t, 2, shots[0].Frequency)
}

func TestConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	c := Open(Options{Dir: dir, Capacity: 100}, testLogger(&bytes.Buffer{}))

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, c.Append(rec(id)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, c.Len())
	assert.Equal(t, 20, Open(Options{Dir: dir, Capacity: 100}, testLogger(&bytes.Buffer{})).Len())

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

const earlierLearningFile = `{
  "patterns": {
    "screenshot_commands": [
      {
        "data": {
          "trigger": "screenshot",
          "response_type": "system_action",
          "context": "user wants screenshot"
        },
        "frequency": 7,
        "last_used": "2024-11-02T08:30:15.123456",
        "success_rate": 0.8
      }
    ],
    "system_commands": [
      {
        "data": {
          "trigger": "system_command",
          "response_type": "system_action",
          "context": "user wants system command"
        },
        "frequency": 2,
        "last_used": "2024-11-01T19:00:00",
        "success_rate": 0.8
      }
    ]
  },
  "preferences": {}
}`

func TestLoadsEarlierLearningFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "learning_data.json"), []byte(earlierLearningFile), 0o644))

	var logs bytes.Buffer
	c := Open(Options{Dir: dir}, testLogger(&logs))
	assert.NotContains(t, logs.String(), "resetting learning snapshot")

	shots := c.Patterns(models.PatternScreenshotCommands)
	require.Len(t, shots, 1)
	assert.Equal(t, models.PatternScreenshotCommands, shots[0].Type)
	assert.Equal(t, 7, shots[0].Frequency)
	assert.Equal(t, "screenshot", shots[0].Data.Trigger)
	want := time.Date(2024, 11, 2, 8, 30, 15, 123456000, time.Local)
	assert.True(t, shots[0].LastUsed.Equal(want))

	all := c.Patterns("")
	require.Len(t, all, 2)
	assert.Equal(t, models.PatternScreenshotCommands, all[0].Type)
	assert.Equal(t, models.PatternSystemCommands, all[1].Type)
}
