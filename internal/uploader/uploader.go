// Package uploader syncs ledger entries to Airtable. Entries go up in fixed
// batches of 10 with a short pause between calls; a failed batch is logged
// and the remaining batches are still attempted. There is no intra-run
// retry: sync is best effort and the next invocation uploads whatever is
// still pending.
package uploader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-pipeline/internal/model"
	"github.com/sells-group/inbox-pipeline/pkg/airtable"
)

// batchDelay is the pause between batch uploads, keeping well under
// Airtable's request budget even with the client-side limiter.
const batchDelay = 200 * time.Millisecond

// Uploader writes pipeline output to one Airtable table.
type Uploader struct {
	client airtable.Client
	table  string
	delay  time.Duration
}

// New constructs an Uploader for the given table.
func New(client airtable.Client, table string) *Uploader {
	return &Uploader{client: client, table: table, delay: batchDelay}
}

// Batches splits entries into slices of at most size, preserving order.
func Batches(entries []model.CleanedEntry, size int) [][]model.CleanedEntry {
	if size <= 0 || len(entries) == 0 {
		return nil
	}
	var out [][]model.CleanedEntry
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		out = append(out, entries[start:end])
	}
	return out
}

func entryFields(e model.CleanedEntry) airtable.Fields {
	return airtable.Fields{
		"Name":      e.Name,
		"Username":  e.Username,
		"Message":   e.Message,
		"Timestamp": e.Timestamp,
	}
}

// UploadEntries pushes entries in batches. It returns how many records were
// created; per-batch failures are logged, not returned.
func (u *Uploader) UploadEntries(ctx context.Context, entries []model.CleanedEntry) (int, error) {
	batches := Batches(entries, airtable.MaxBatchSize)
	if len(batches) == 0 {
		return 0, nil
	}

	uploaded := 0
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}

		records := make([]airtable.Record, len(batch))
		for j, e := range batch {
			records[j] = airtable.Record{Fields: entryFields(e)}
		}

		created, err := u.client.CreateRecords(ctx, u.table, records)
		if err != nil {
			zap.L().Warn("batch upload failed, continuing",
				zap.String("table", u.table),
				zap.Int("batch", i+1),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		} else {
			uploaded += len(created)
		}

		if u.delay > 0 && i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return uploaded, ctx.Err()
			case <-time.After(u.delay):
			}
		}
	}

	zap.L().Info("upload finished",
		zap.String("table", u.table),
		zap.Int("uploaded", uploaded),
		zap.Int("total", len(entries)),
		zap.Int("batches", len(batches)))
	return uploaded, nil
}

// messagePrefixLen bounds the message text used to match existing records;
// Airtable formulas choke on very long quoted strings.
const messagePrefixLen = 50

// ApplySearchResult patches the discovery outcome onto the record previously
// created for the entry, located by username and message prefix. Only found
// URLs are written; a not-found outcome leaves its column untouched.
func (u *Uploader) ApplySearchResult(ctx context.Context, entry model.CleanedEntry, result model.SearchResult) error {
	fields := airtable.Fields{}
	if result.Website.Status == model.SearchFound {
		fields["pr-site"] = result.Website.Result
	}
	if result.LinkedIn.Status == model.SearchFound {
		fields["pr-linkedin"] = result.LinkedIn.Result
	}

	prefix := entry.Message
	if runes := []rune(prefix); len(runes) > messagePrefixLen {
		prefix = string(runes[:messagePrefixLen])
	}
	formula := fmt.Sprintf(`AND({Username} = %s, LEFT({Message}, %d) = %s)`,
		quoteFormula(entry.Username), messagePrefixLen, quoteFormula(prefix))

	records, err := u.client.ListRecords(ctx, u.table, airtable.ListOptions{
		FilterByFormula: formula,
		MaxRecords:      1,
	})
	if err != nil {
		return eris.Wrapf(err, "uploader: find record for entry %d", entry.ID)
	}
	if len(records) == 0 {
		return eris.Errorf("uploader: no record found for entry %d (@%s)", entry.ID, entry.Username)
	}
	if len(fields) == 0 {
		return nil
	}

	_, err = u.client.UpdateRecord(ctx, u.table, records[0].ID, fields)
	return eris.Wrapf(err, "uploader: update record for entry %d", entry.ID)
}

// quoteFormula wraps s in single quotes for an Airtable formula, escaping
// embedded quotes.
func quoteFormula(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
