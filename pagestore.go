// Package pagestore is a single-node, file-backed storage core: a buffer
// pool over a database file of uniform 4 KiB pages, with stable page IDs,
// LRU frame replacement and write-back flushing.
package pagestore

import (
	"fmt"

	"github.com/tuannm99/pagestore/internal"
	"github.com/tuannm99/pagestore/internal/bufferpool"
	"github.com/tuannm99/pagestore/internal/storage"
)

// PageSize is the fixed page and frame size in bytes.
const PageSize = storage.PageSize

// PageID identifies a page; see storage.PageID.
type PageID = storage.PageID

// Frame is a pinned in-memory page handle; see storage.Frame.
type Frame = storage.Frame

// Stats mirrors bufferpool.Stats for callers of this package.
type Stats = bufferpool.Stats

// DB is a handle to one database file.
type DB struct {
	manager *bufferpool.Manager
}

// Open opens or creates the database file at path with a frame cache of
// maxFrames pages.
func Open(path string, maxFrames int) (*DB, error) {
	manager, err := bufferpool.NewManager(path, maxFrames)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &DB{manager: manager}, nil
}

// OpenFromConfig opens the database described by the YAML config at
// configPath.
func OpenFromConfig(configPath string) (*DB, error) {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return Open(cfg.Storage.File, cfg.Storage.MaxFrames)
}

// NewPage allocates a fresh zeroed page and returns its ID.
func (db *DB) NewPage() (PageID, error) {
	return db.manager.NewPage()
}

// ReadPage returns a copy of the page content.
func (db *DB) ReadPage(pageID PageID) ([]byte, error) {
	return db.manager.ReadPage(pageID)
}

// WritePage replaces the page content; the change reaches disk on
// eviction or flush.
func (db *DB) WritePage(pageID PageID, data []byte) error {
	return db.manager.WritePage(pageID, data)
}

// DeletePage retires the page; its file slot is recycled for later
// allocations.
func (db *DB) DeletePage(pageID PageID) error {
	return db.manager.DeletePage(pageID)
}

// FlushPage writes the page to disk if it is cached dirty.
func (db *DB) FlushPage(pageID PageID) error {
	return db.manager.FlushPage(pageID)
}

// FlushAll writes every dirty cached page to disk.
func (db *DB) FlushAll() error {
	return db.manager.FlushAll()
}

// FetchFrame pins and returns the shared frame handle for pageID. The
// caller must release it with Unpin.
func (db *DB) FetchFrame(pageID PageID) (*Frame, error) {
	return db.manager.FetchFrame(pageID)
}

// Unpin releases a frame obtained from FetchFrame.
func (db *DB) Unpin(frame *Frame, dirty bool) error {
	return db.manager.Unpin(frame, dirty)
}

// Stats returns I/O and cache counters.
func (db *DB) Stats() Stats {
	return db.manager.Stats()
}

// Close flushes dirty pages and releases the database file.
func (db *DB) Close() error {
	return db.manager.Close()
}
