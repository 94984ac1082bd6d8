package eventlog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitdownseungpyo/ethercatsupervisor/internal/fleet"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := Open(context.Background(), path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrations(t *testing.T) {
	db := openTestDB(t)

	transitions, err := db.RecentTransitions(10)
	require.NoError(t, err)
	require.Empty(t, transitions)

	faults, err := db.RecentFaults(10)
	require.NoError(t, err)
	require.Empty(t, faults)
}

func TestRecordAndQueryTransitions(t *testing.T) {
	db := openTestDB(t)

	db.RecordTransition(fleet.InitCommand, fleet.Init1, "operator issued INIT")
	db.RecordTransition(fleet.Init1, fleet.InitComplete, "guard satisfied")

	recs, err := db.RecentTransitions(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// newest first
	require.Equal(t, fleet.Init1.String(), recs[0].From)
	require.Equal(t, fleet.InitComplete.String(), recs[0].To)
	require.Equal(t, "guard satisfied", recs[0].Reason)
}

func TestRecordAndQueryFaults(t *testing.T) {
	db := openTestDB(t)

	db.RecordFault("0x7305: Overcurrent")

	recs, err := db.RecentFaults(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "0x7305: Overcurrent", recs[0].Description)
	require.False(t, recs[0].OccurredAt.IsZero())
}

func TestRecentTransitionsRespectsLimit(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		db.RecordTransition(fleet.InitCommand, fleet.Init1, "repeat")
	}

	recs, err := db.RecentTransitions(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestDBSatisfiesEventSink(t *testing.T) {
	var _ fleet.EventSink = (*DB)(nil)
}
