package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/tuannm99/pagestore/internal/storage"
)

var (
	// DefaultMaxFrames is used when the caller does not size the cache.
	DefaultMaxFrames = 128

	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("bufferpool: manager is closed")
)

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	IO           storage.PagerStats
	CachedFrames int
	MaxFrames    int
	LivePages    int
	FileSize     int64
}

// Manager mediates between callers and the database file: it assigns page
// IDs through the page directory, caches frames with LRU replacement, and
// keeps memory and disk consistent with a write-back discipline. Every
// public operation except Unpin is one critical section under the manager
// mutex; Unpin touches only the frame's own lock and pin count. Frame
// content is additionally guarded per frame so pinned handles stay usable
// after eviction.
type Manager struct {
	mu    sync.Mutex
	pager *storage.Pager
	dir   *storage.PageDirectory
	cache *Cache

	closed  bool
	corrupt bool
}

// NewManager opens or creates the database file at path with a cache of
// maxFrames frames. If maxFrames < 1, DefaultMaxFrames is used. Reopening
// a non-empty file requires its directory snapshot sidecar; a missing or
// inconsistent snapshot is reported as corrupt.
func NewManager(path string, maxFrames int) (*Manager, error) {
	if maxFrames < 1 {
		maxFrames = DefaultMaxFrames
	}

	pager, err := storage.NewPager(path)
	if err != nil {
		return nil, err
	}

	dir := storage.NewPageDirectory()
	if pager.Size() > 0 {
		dir, err = storage.LoadPageDirectory(directoryPath(path))
		if err != nil {
			_ = pager.Close()
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: non-empty database file without directory snapshot", storage.ErrCorrupt)
			}
			return nil, err
		}
		if int64(dir.SlotCount())*storage.PageSize != pager.Size() {
			_ = pager.Close()
			return nil, fmt.Errorf("%w: directory accounts for %d slots but file length is %d",
				storage.ErrCorrupt, dir.SlotCount(), pager.Size())
		}
	}

	slog.Debug("bufferpool: opened database",
		"path", path,
		"maxFrames", maxFrames,
		"livePages", dir.LiveCount())

	return &Manager{
		pager: pager,
		dir:   dir,
		cache: NewCache(maxFrames),
	}, nil
}

func directoryPath(dbPath string) string {
	return dbPath + ".dir"
}

// guardLocked rejects operations on a closed or corrupt manager.
func (m *Manager) guardLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.corrupt {
		return storage.ErrCorrupt
	}
	return nil
}

// failed latches the corrupt state when err indicates a broken invariant,
// then hands err back.
func (m *Manager) failed(err error) error {
	if errors.Is(err, storage.ErrCorrupt) {
		m.corrupt = true
	}
	return err
}

// NewPage allocates a page and faults its frame into the cache. A freed
// file slot is recycled when one exists; otherwise the file grows by one
// page. Returns the new page ID.
func (m *Manager) NewPage() (storage.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardLocked(); err != nil {
		return storage.InvalidPageID, err
	}

	reused := m.dir.CanAccommodate()
	if !reused {
		if _, err := m.pager.Extend(); err != nil {
			return storage.InvalidPageID, m.failed(err)
		}
	}

	pageID, offset := m.dir.RegisterNewPage()

	buf := make([]byte, storage.PageSize)
	frame, err := storage.NewFrame(pageID, offset, buf)
	if err != nil {
		_ = m.dir.Remove(pageID)
		return storage.InvalidPageID, err
	}
	if reused {
		// The recycled slot still holds the deleted page's bytes on
		// disk; the fresh page starts zeroed, so the frame must be
		// written back before it can be dropped.
		frame.MarkDirty()
	} else {
		if err := m.pager.ReadPage(offset, buf); err != nil {
			_ = m.dir.Remove(pageID)
			return storage.InvalidPageID, m.failed(err)
		}
	}

	if err := m.putFrameLocked(frame); err != nil {
		_ = m.dir.Remove(pageID)
		return storage.InvalidPageID, err
	}

	slog.Debug("bufferpool: allocated page",
		"pageID", pageID,
		"offset", offset,
		"reusedSlot", reused)
	return pageID, nil
}

// ReadPage returns a copy of the page content.
func (m *Manager) ReadPage(pageID storage.PageID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	frame, err := m.loadFrameLocked(pageID)
	if err != nil {
		return nil, err
	}
	return frame.CopyOut(), nil
}

// WritePage replaces the page content and marks the frame dirty. Nothing
// reaches disk until the frame is evicted or explicitly flushed.
func (m *Manager) WritePage(pageID storage.PageID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardLocked(); err != nil {
		return err
	}
	if len(data) != storage.PageSize {
		return fmt.Errorf("bufferpool: page write must be %d bytes, got %d", storage.PageSize, len(data))
	}

	frame, err := m.loadFrameLocked(pageID)
	if err != nil {
		return err
	}
	return frame.CopyIn(data)
}

// DeletePage retires the page ID, recycles its file slot and drops any
// resident frame without flushing it. The file never shrinks.
func (m *Manager) DeletePage(pageID storage.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardLocked(); err != nil {
		return err
	}

	if err := m.dir.Remove(pageID); err != nil {
		return fmt.Errorf("%w: page %d", storage.ErrPageNotFound, pageID)
	}
	m.cache.Evict(pageID)

	slog.Debug("bufferpool: deleted page", "pageID", pageID)
	return nil
}

// FlushPage writes the page content to its file slot and clears the dirty
// bit. A page that is not cached, or cached clean, causes no disk write.
// FlushPage never reads from disk.
func (m *Manager) FlushPage(pageID storage.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardLocked(); err != nil {
		return err
	}

	frame := m.cache.Peek(pageID)
	if frame == nil || !frame.Dirty() {
		return nil
	}

	if err := frame.FlushWith(m.pager.WritePage); err != nil {
		return m.failed(err)
	}
	return m.failed(m.pager.Sync())
}

// FlushAll writes every dirty cached frame, stopping at the first error,
// then syncs the file and saves the directory snapshot.
func (m *Manager) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardLocked(); err != nil {
		return err
	}
	return m.flushAllLocked()
}

func (m *Manager) flushAllLocked() error {
	for _, frame := range m.cache.Frames() {
		if !frame.Dirty() {
			continue
		}
		if err := frame.FlushWith(m.pager.WritePage); err != nil {
			return m.failed(err)
		}
	}
	if err := m.pager.Sync(); err != nil {
		return m.failed(err)
	}
	return m.dir.Save(directoryPath(m.pager.Path()))
}

// FetchFrame returns the shared frame handle for pageID with one pin
// taken. The caller must Unpin it; a pinned frame is never evicted.
func (m *Manager) FetchFrame(pageID storage.PageID) (*storage.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardLocked(); err != nil {
		return nil, err
	}

	frame, err := m.loadFrameLocked(pageID)
	if err != nil {
		return nil, err
	}
	frame.Pin()
	return frame, nil
}

// Unpin releases a pin taken with FetchFrame, optionally marking the
// frame dirty first.
func (m *Manager) Unpin(frame *storage.Frame, dirty bool) error {
	if frame == nil {
		return nil
	}
	if dirty {
		frame.MarkDirty()
	}
	frame.Unpin()
	return nil
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		IO:           m.pager.Stats(),
		CachedFrames: m.cache.Len(),
		MaxFrames:    m.cache.Capacity(),
		LivePages:    m.dir.LiveCount(),
		FileSize:     m.pager.Size(),
	}
}

// Close flushes all dirty frames, saves the directory snapshot and
// releases the database file. Further operations return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if !m.corrupt {
		if err := m.flushAllLocked(); err != nil {
			return err
		}
	}

	m.closed = true
	return m.pager.Close()
}

// loadFrameLocked resolves pageID to a cached frame, faulting it in from
// disk on a miss and evicting (flushing when dirty) a victim if the cache
// is full.
func (m *Manager) loadFrameLocked(pageID storage.PageID) (*storage.Frame, error) {
	if frame := m.cache.Lookup(pageID); frame != nil {
		return frame, nil
	}

	offset, ok := m.dir.Lookup(pageID)
	if !ok {
		return nil, fmt.Errorf("%w: page %d", storage.ErrPageNotFound, pageID)
	}

	buf := make([]byte, storage.PageSize)
	if err := m.pager.ReadPage(offset, buf); err != nil {
		return nil, m.failed(err)
	}

	frame, err := storage.NewFrame(pageID, offset, buf)
	if err != nil {
		return nil, err
	}
	if err := m.putFrameLocked(frame); err != nil {
		return nil, err
	}

	slog.Debug("bufferpool: faulted in page", "pageID", pageID, "offset", offset)
	return frame, nil
}

// putFrameLocked inserts frame into the cache and settles the eviction:
// a dirty victim is written to its slot before being dropped. If that
// write fails, the insertion is rolled back so the cache state stays
// consistent: the victim returns to the head, the new frame is not
// committed.
func (m *Manager) putFrameLocked(frame *storage.Frame) error {
	victim, err := m.cache.Put(frame)
	if err != nil {
		return err
	}
	if victim == nil || !victim.Dirty() {
		return nil
	}

	if err := victim.FlushWith(m.pager.WritePage); err != nil {
		m.cache.Evict(frame.PageID())
		if _, perr := m.cache.Put(victim); perr != nil {
			// A slot was just vacated, so reinsertion cannot fail;
			// if it somehow does the cache is beyond repair.
			m.corrupt = true
			return m.failed(fmt.Errorf("%w: lost evicted frame for page %d",
				storage.ErrCorrupt, victim.PageID()))
		}
		return m.failed(err)
	}
	return nil
}
