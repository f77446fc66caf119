package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/punchsync/internal/punch"
	"github.com/roach88/punchsync/internal/store"
)

// testOptions returns root options bound to a fresh database file and an
// empty environment.
func testOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	return &RootOptions{
		Format:   format,
		Database: filepath.Join(t.TempDir(), "test.db"),
		lookup:   func(string) (string, bool) { return "", false },
	}
}

// seedDirectory registers device X1 and employee 42 in organization 1.
func seedDirectory(t *testing.T, dbPath string) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.UpsertDevice(ctx, punch.Device{Serial: "X1", OrganizationID: 1}))
	require.NoError(t, st.UpsertEmployee(ctx, punch.Employee{ID: 42, OrganizationID: 1, Name: "Asha", Active: true}))
}

// openStore opens the test database for assertions.
func openStore(t *testing.T, dbPath string) *store.Store {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// execute runs cmd with args and returns everything written to stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

type nopSink struct{}

func (nopSink) Submit(punch.RawTransaction) bool { return true }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
