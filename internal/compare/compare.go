// Package compare classifies a capture run against the previous one.
package compare

import "github.com/sells-group/inbox-pipeline/internal/model"

// Updated is a conversation whose last message changed since the previous
// run. PreviousMessage carries the superseded text for audit.
type Updated struct {
	model.Conversation
	PreviousMessage string `json:"previous_message"`
}

// Diff is the comparator's classification of one capture run.
type Diff struct {
	New       []model.Conversation `json:"new"`
	Updated   []Updated            `json:"updated"`
	Unchanged []model.Conversation `json:"unchanged"`
}

// ToAppend returns the conversations that should enter the ledger: new ones
// followed by updated ones, preserving capture order within each class.
func (d Diff) ToAppend() []model.Conversation {
	out := make([]model.Conversation, 0, len(d.New)+len(d.Updated))
	out = append(out, d.New...)
	for _, u := range d.Updated {
		out = append(out, u.Conversation)
	}
	return out
}

// Runs classifies current against previous. A nil previous run marks every
// conversation new. The lookup map is keyed by username and built in record
// order, so a duplicate username within one run resolves to its last
// occurrence. That limitation is deliberate and pinned by tests.
func Runs(current []model.Conversation, previous *model.RunRecord) Diff {
	if previous == nil {
		return Diff{New: current}
	}

	prevByUser := make(map[string]model.Conversation, len(previous.Records))
	for _, c := range previous.Records {
		prevByUser[c.Username] = c
	}

	var d Diff
	for _, cur := range current {
		prev, seen := prevByUser[cur.Username]
		switch {
		case !seen:
			d.New = append(d.New, cur)
		case prev.LastMessage != cur.LastMessage:
			d.Updated = append(d.Updated, Updated{
				Conversation:    cur,
				PreviousMessage: prev.LastMessage,
			})
		default:
			d.Unchanged = append(d.Unchanged, cur)
		}
	}
	return d
}
