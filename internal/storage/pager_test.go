package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPager(t *testing.T) *Pager {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	pager, err := NewPager(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pager.Close() })
	return pager
}

func TestNewPager_CreatesEmptyFile(t *testing.T) {
	pager := newTestPager(t)
	require.Equal(t, int64(0), pager.Size())

	info, err := os.Stat(pager.Path())
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Size())
}

func TestPager_ExtendGrowsByOnePage(t *testing.T) {
	pager := newTestPager(t)

	offset, err := pager.Extend()
	require.NoError(t, err)
	require.Equal(t, uint64(0), offset)
	require.Equal(t, int64(PageSize), pager.Size())

	offset, err = pager.Extend()
	require.NoError(t, err)
	require.Equal(t, uint64(PageSize), offset)
	require.Equal(t, int64(2*PageSize), pager.Size())

	info, err := os.Stat(pager.Path())
	require.NoError(t, err)
	require.Equal(t, int64(2*PageSize), info.Size())
	require.Zero(t, info.Size()%PageSize)
}

func TestPager_WriteReadRoundTrip(t *testing.T) {
	pager := newTestPager(t)
	_, err := pager.Extend()
	require.NoError(t, err)
	_, err = pager.Extend()
	require.NoError(t, err)

	data := bytes.Repeat([]byte{0x5A}, PageSize)
	require.NoError(t, pager.WritePage(PageSize, data))
	require.NoError(t, pager.Sync())

	dst := make([]byte, PageSize)
	require.NoError(t, pager.ReadPage(PageSize, dst))
	require.Equal(t, data, dst)

	// The untouched first slot reads back zero-filled.
	require.NoError(t, pager.ReadPage(0, dst))
	require.Equal(t, make([]byte, PageSize), dst)
}

func TestPager_BufferSizeValidation(t *testing.T) {
	pager := newTestPager(t)
	_, err := pager.Extend()
	require.NoError(t, err)

	require.Error(t, pager.ReadPage(0, make([]byte, 10)))
	require.Error(t, pager.WritePage(0, make([]byte, PageSize+1)))
}

func TestPager_AccessPastLength(t *testing.T) {
	pager := newTestPager(t)

	err := pager.ReadPage(0, make([]byte, PageSize))
	require.ErrorIs(t, err, ErrCorrupt)

	err = pager.WritePage(PageSize, make([]byte, PageSize))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestNewPager_MisalignedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.db")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), FileMode0644))

	_, err := NewPager(path)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestPager_Stats(t *testing.T) {
	pager := newTestPager(t)
	_, err := pager.Extend()
	require.NoError(t, err)

	require.NoError(t, pager.WritePage(0, make([]byte, PageSize)))
	require.NoError(t, pager.ReadPage(0, make([]byte, PageSize)))
	require.NoError(t, pager.ReadPage(0, make([]byte, PageSize)))
	require.NoError(t, pager.Sync())

	stats := pager.Stats()
	require.Equal(t, uint64(2), stats.Reads)
	require.Equal(t, uint64(1), stats.Writes)
	require.Equal(t, uint64(1), stats.Syncs)
}

func TestNewPager_SecondOpenIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.db")
	pager, err := NewPager(path)
	require.NoError(t, err)
	defer func() { _ = pager.Close() }()

	_, err = NewPager(path)
	require.ErrorIs(t, err, ErrDatabaseLocked)
}
