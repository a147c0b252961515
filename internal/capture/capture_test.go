package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSnapshotSource_KeyedByStream(t *testing.T) {
	path := writeFile(t, `{
		"messages": [{"username": "alice", "display_name": "Alice", "last_message": "hi", "timestamp": "2h"}],
		"message_requests": [{"username": "bob", "display_name": "Bob", "last_message": "yo", "timestamp": "1d"}]
	}`)
	src := NewSnapshotSource(path)

	msgs, err := src.Capture(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Username)

	reqs, err := src.Capture(context.Background(), model.StreamRequests)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "bob", reqs[0].Username)
}

func TestSnapshotSource_BareArray(t *testing.T) {
	path := writeFile(t, `[{"username": "carol", "display_name": "Carol", "last_message": "hey", "timestamp": "3h"}]`)
	src := NewSnapshotSource(path)

	convs, err := src.Capture(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "carol", convs[0].Username)
}

func TestSnapshotSource_MissingStreamIsEmpty(t *testing.T) {
	path := writeFile(t, `{"messages": []}`)
	src := NewSnapshotSource(path)

	convs, err := src.Capture(context.Background(), model.StreamRequests)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestSnapshotSource_MissingFile(t *testing.T) {
	src := NewSnapshotSource(filepath.Join(t.TempDir(), "nope.json"))
	_, err := src.Capture(context.Background(), model.StreamMessages)
	require.Error(t, err)
}

func TestSnapshotSource_Malformed(t *testing.T) {
	src := NewSnapshotSource(writeFile(t, `{not json`))
	_, err := src.Capture(context.Background(), model.StreamMessages)
	require.Error(t, err)
}

func TestWriteSnapshot_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	convs := []model.Conversation{
		{Username: "alice", DisplayName: "Alice", LastMessage: "hi", Timestamp: "2h"},
	}

	path, err := WriteSnapshot(dir, model.StreamMessages, convs)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "messages_")

	got, err := NewSnapshotSource(path).Capture(context.Background(), model.StreamMessages)
	require.NoError(t, err)
	assert.Equal(t, convs, got)
}
