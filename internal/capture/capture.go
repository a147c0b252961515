// Package capture defines the boundary between the pipeline and whatever
// produces inbox snapshots. The pipeline never scrapes; it consumes
// conversations from a Source. The snapshot-file source covers offline runs,
// replays, and tests.
package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

// Source produces one capture of a stream's conversations.
type Source interface {
	Capture(ctx context.Context, stream model.Stream) ([]model.Conversation, error)
}

// Snapshot is the on-disk capture format: conversations keyed by stream.
type Snapshot map[model.Stream][]model.Conversation

// SnapshotSource reads captures from a JSON snapshot file. The file holds
// either a Snapshot map or a bare conversation array; a bare array serves
// whichever stream is asked for.
type SnapshotSource struct {
	path string
}

// NewSnapshotSource creates a source backed by the file at path.
func NewSnapshotSource(path string) *SnapshotSource {
	return &SnapshotSource{path: path}
}

func (s *SnapshotSource) Capture(ctx context.Context, stream model.Stream) ([]model.Conversation, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, eris.Wrapf(err, "capture: read snapshot %s", s.path)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err == nil {
		return snap[stream], nil
	}

	var convs []model.Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, eris.Wrapf(err, "capture: parse snapshot %s", s.path)
	}
	return convs, nil
}

// WriteSnapshot saves a capture to dir as a timestamped backup file and
// returns its path.
func WriteSnapshot(dir string, stream model.Stream, convs []model.Conversation) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "capture: create snapshot dir")
	}

	name := string(stream) + "_" + time.Now().UTC().Format("20060102T150405Z") + ".json"
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(Snapshot{stream: convs}, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "capture: marshal snapshot")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "capture: write snapshot %s", path)
	}
	return path, nil
}
