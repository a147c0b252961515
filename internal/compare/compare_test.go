package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-pipeline/internal/model"
)

func conv(user, msg string) model.Conversation {
	return model.Conversation{Username: user, DisplayName: user, LastMessage: msg}
}

func TestRuns_NilPrevious_AllNew(t *testing.T) {
	current := []model.Conversation{conv("alice", "hello"), conv("bob", "hi")}

	d := Runs(current, nil)

	assert.Equal(t, current, d.New)
	assert.Empty(t, d.Updated)
	assert.Empty(t, d.Unchanged)
}

func TestRuns_Classification(t *testing.T) {
	previous := &model.RunRecord{
		RunID:   1,
		Records: []model.Conversation{conv("user1", "hello")},
	}

	tests := []struct {
		name      string
		current   []model.Conversation
		new       int
		updated   int
		unchanged int
	}{
		{"identical message is unchanged", []model.Conversation{conv("user1", "hello")}, 0, 0, 1},
		{"changed message is updated", []model.Conversation{conv("user1", "goodbye")}, 0, 1, 0},
		{"unknown username is new", []model.Conversation{conv("user2", "hi")}, 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Runs(tt.current, previous)
			assert.Len(t, d.New, tt.new)
			assert.Len(t, d.Updated, tt.updated)
			assert.Len(t, d.Unchanged, tt.unchanged)
		})
	}
}

func TestRuns_UpdatedCarriesPreviousMessage(t *testing.T) {
	previous := &model.RunRecord{
		Records: []model.Conversation{conv("user1", "hello")},
	}

	d := Runs([]model.Conversation{conv("user1", "goodbye")}, previous)

	require.Len(t, d.Updated, 1)
	assert.Equal(t, "hello", d.Updated[0].PreviousMessage)
	assert.Equal(t, "goodbye", d.Updated[0].LastMessage)
}

func TestRuns_DuplicateUsername_LastWins(t *testing.T) {
	// Two records for the same username in the previous run: the lookup map
	// keeps the later one, so only "second" counts as the prior message.
	previous := &model.RunRecord{
		Records: []model.Conversation{conv("dup", "first"), conv("dup", "second")},
	}

	d := Runs([]model.Conversation{conv("dup", "second")}, previous)
	assert.Len(t, d.Unchanged, 1)

	d = Runs([]model.Conversation{conv("dup", "first")}, previous)
	require.Len(t, d.Updated, 1)
	assert.Equal(t, "second", d.Updated[0].PreviousMessage)
}

func TestDiff_ToAppend_OrderAndContents(t *testing.T) {
	d := Diff{
		New: []model.Conversation{conv("a", "1"), conv("b", "2")},
		Updated: []Updated{
			{Conversation: conv("c", "3"), PreviousMessage: "old"},
		},
		Unchanged: []model.Conversation{conv("d", "4")},
	}

	got := d.ToAppend()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Username)
	assert.Equal(t, "b", got[1].Username)
	assert.Equal(t, "c", got[2].Username)
}
