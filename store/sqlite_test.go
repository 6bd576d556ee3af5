package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pmc.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, newSQLiteStore)
}

func TestSQLiteInitIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Init(context.Background()))
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1.5, -3.25, 1e-7}
	require.Equal(t, v, decodeVector(encodeVector(v)))
}
