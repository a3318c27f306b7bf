package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultrag/vaultrag/internal/errors"
)

func TestSyncLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "vault.lock")

	lock := NewSyncLock(path)
	require.NoError(t, lock.Acquire())
	lock.Release()

	// Reacquirable after release.
	require.NoError(t, lock.Acquire())
	lock.Release()
}

func TestSyncLock_ContentionFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.lock")

	first := NewSyncLock(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second := NewSyncLock(path)
	err := second.Acquire()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSyncInProgress, errors.GetCode(err))
}

func TestSyncLock_ReleaseWithoutAcquireIsSafe(t *testing.T) {
	lock := NewSyncLock(filepath.Join(t.TempDir(), "vault.lock"))
	lock.Release()
	lock.Release()
}
