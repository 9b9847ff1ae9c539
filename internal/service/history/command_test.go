package history

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/journal"
)

func writeJournal(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "journal.cbor")

	file, err := journal.Open(path)
	require.NoError(t, err)

	at := time.Date(2026, 7, 1, 14, 0, 0, 0, time.UTC)
	point := shed.PointRef{Device: "VMA-1-1", Role: shed.RoleSetpoint, Address: "10.0.0.1", Point: "analogValue 1103"}

	for _, rec := range []journal.Record{
		{Timestamp: at, EventID: "e1", Kind: journal.KindEventStarted, Policy: "setpoint", Actor: "op@bms", Duration: time.Hour},
		journal.Record{Timestamp: at, EventID: "e1", Kind: journal.KindOverride, Value: "75", Priority: 12}.WithPoint(point),
		journal.Record{Timestamp: at.Add(time.Hour), EventID: "e1", Kind: journal.KindRelease, Priority: 12}.WithPoint(point),
		{Timestamp: at.Add(time.Hour), EventID: "e1", Kind: journal.KindEventFinished, Status: "completed"},
		{Timestamp: at.Add(2 * time.Hour), EventID: "e2", Kind: journal.KindEventStarted, Policy: "setpoint"},
		journal.Record{Timestamp: at.Add(2 * time.Hour), EventID: "e2", Kind: journal.KindOverride, Value: "75", Priority: 12}.WithPoint(point),
	} {
		file.Record(rec)
	}

	require.NoError(t, file.Close())

	return path
}

func TestRunListsEvents(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	err := Run(t.Context(), &Options{JournalPath: writeJournal(t), Output: &out})
	require.NoError(t, err)

	text := out.String()
	require.Contains(t, text, "EVENT")
	require.Contains(t, text, "completed")
	require.Contains(t, text, "incomplete")
	require.Contains(t, text, "VMA-1-1/setpoint")
	require.NotContains(t, text, "TIME")
}

func TestRunListsRecordsOfOneEvent(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	err := Run(t.Context(), &Options{JournalPath: writeJournal(t), EventID: "e1", Output: &out})
	require.NoError(t, err)

	text := out.String()
	require.Contains(t, text, "EVENT_STARTED")
	require.Contains(t, text, "value=75 priority=12")
	require.Contains(t, text, "EVENT_FINISHED")
}

func TestRunWithoutJournal(t *testing.T) {
	t.Parallel()

	err := Run(t.Context(), &Options{JournalPath: filepath.Join(t.TempDir(), "missing.cbor")})
	require.Error(t, err)
}
