package airtable

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-pipeline/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("key", "appBase123", WithBaseURL(srv.URL))
}

func TestCreateRecords(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/appBase123/Messages", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var in recordsEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Len(t, in.Records, 2)
		assert.Equal(t, "alice", in.Records[0].Fields["Username"])

		out := recordsEnvelope{Records: in.Records}
		for i := range out.Records {
			out.Records[i].ID = "rec" + string(rune('A'+i))
		}
		json.NewEncoder(w).Encode(out)
	})

	created, err := client.CreateRecords(context.Background(), "Messages", []Record{
		{Fields: Fields{"Name": "Alice", "Username": "alice", "Message": "hi", "Timestamp": "2h"}},
		{Fields: Fields{"Name": "Bob", "Username": "bob", "Message": "yo", "Timestamp": "3h"}},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "recA", created[0].ID)
}

func TestCreateRecords_RejectsOversizedBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	records := make([]Record, MaxBatchSize+1)
	_, err := client.CreateRecords(context.Background(), "Messages", records)
	require.Error(t, err)
}

func TestUpdateRecord(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/appBase123/Messages/rec42", r.URL.Path)

		var in Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "https://acme.com", in.Fields["pr-site"])

		json.NewEncoder(w).Encode(Record{ID: "rec42", Fields: in.Fields})
	})

	rec, err := client.UpdateRecord(context.Background(), "Messages", "rec42", Fields{
		"pr-site":     "https://acme.com",
		"pr-linkedin": "https://linkedin.com/company/acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec42", rec.ID)
}

func TestListRecords_FilterAndLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, `{Username} = "alice"`, r.URL.Query().Get("filterByFormula"))
		assert.Equal(t, "1", r.URL.Query().Get("maxRecords"))

		json.NewEncoder(w).Encode(recordsEnvelope{Records: []Record{
			{ID: "rec1", Fields: Fields{"Username": "alice"}},
		}})
	})

	records, err := client.ListRecords(context.Background(), "Messages", ListOptions{
		FilterByFormula: `{Username} = "alice"`,
		MaxRecords:      1,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec1", records[0].ID)
}

func TestDo_RateLimitedStatusIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.ListRecords(context.Background(), "Messages", ListOptions{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestDo_UnprocessableIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown field", http.StatusUnprocessableEntity)
	})

	_, err := client.CreateRecords(context.Background(), "Messages", []Record{{Fields: Fields{}}})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
