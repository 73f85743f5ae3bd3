package sink

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoswarm/internal/types"
)

func sampleRecord(i int) Record {
	return Record{
		Kind: KindDelivery,
		Message: types.SwarmMessage{
			ID:   fmt.Sprintf("msg-%d", i),
			Kind: types.KindPropose,
			From: "tester",
		},
		Role:   "ProposalAgent",
		Result: &types.SwarmResult{OK: true},
	}
}

func TestJSONLSink_AppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "bus.jsonl")

	s, err := NewJSONLSink(path)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(sampleRecord(i)))
	}
	require.NoError(t, s.Close())

	// Reopening appends, never truncates.
	s, err = NewJSONLSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(sampleRecord(3)))
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "every line is one JSON object")
		assert.Equal(t, KindDelivery, rec.Kind)
		assert.Equal(t, fmt.Sprintf("msg-%d", lines), rec.Message.ID)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 4, lines)
}

func TestJSONLSink_ConcurrentAppendsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.jsonl")

	s, err := NewJSONLSink(path)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				assert.NoError(t, s.Append(sampleRecord(w*perWriter+i)))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, s.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, writers*perWriter, lines)
}

func TestSQLiteSink_AppendInsertsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	s, err := NewSQLiteSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Append(sampleRecord(0)))
	rec := sampleRecord(1)
	rec.Kind = KindError
	rec.Error = "handler exhausted retries"
	require.NoError(t, s.Append(rec))
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var total int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM bus_events`).Scan(&total))
	assert.Equal(t, 2, total)

	var raw string
	require.NoError(t, db.QueryRow(
		`SELECT record FROM bus_events WHERE kind = ?`, string(KindError)).Scan(&raw))
	var stored Record
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "msg-1", stored.Message.ID)
	assert.Equal(t, "handler exhausted retries", stored.Error)
}
