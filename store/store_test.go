package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadProgramRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	defer s.Close()

	rec := ProgramRecord{
		ID:            "prog-1",
		AppliedAtUnix: 1700000000,
		Constants:     3,
		CodeBytes:     42,
		LocalCount:    2,
		Blob:          []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	require.NoError(t, s.SaveProgram(ctx, rec))

	got, err := s.LoadProgram(ctx, "prog-1")
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestSaveProgramUpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	defer s.Close()

	rec := ProgramRecord{ID: "prog-1", AppliedAtUnix: 1, Constants: 1, CodeBytes: 1, LocalCount: 0, Blob: []byte{1}}
	require.NoError(t, s.SaveProgram(ctx, rec))
	rec.AppliedAtUnix = 2
	rec.Blob = []byte{2}
	require.NoError(t, s.SaveProgram(ctx, rec))

	got, err := s.LoadProgram(ctx, "prog-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), got.AppliedAtUnix)
	require.Equal(t, []byte{2}, got.Blob)
}

func TestSaveAndLoadRecordingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveRecording(ctx, "rec-1", 3, []byte("PDR1...")))
	blob, err := s.LoadRecording(ctx, "rec-1")
	require.NoError(t, err)
	require.Equal(t, []byte("PDR1..."), blob)
}

func TestLoadProgramMissingErrors(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite://file::memory:?cache=shared")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadProgram(ctx, "nope")
	require.Error(t, err)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "mongodb://localhost/db")
	require.Error(t, err)
}

func TestOpenRejectsMissingScheme(t *testing.T) {
	_, err := Open(context.Background(), "/tmp/db.sqlite")
	require.Error(t, err)
}
