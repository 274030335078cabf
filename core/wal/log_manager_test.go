package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	lm, err := NewLogManager(t.TempDir(), nil)
	require.NoError(t, err)
	defer lm.Close()

	lsn1, err := lm.Append(RecordUpdatePage, 1, nil)
	require.NoError(t, err)
	lsn2, err := lm.Append(RecordUpdatePage, 1, []byte("payload"))
	require.NoError(t, err)

	require.Equal(t, int64(1), lsn1)
	require.Equal(t, int64(2), lsn2)
}

func TestFlushIsSafeWithNothingBuffered(t *testing.T) {
	lm, err := NewLogManager(t.TempDir(), nil)
	require.NoError(t, err)
	defer lm.Close()

	require.NoError(t, lm.Flush())
}
