package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// PagerStats counts physical I/O against the database file.
type PagerStats struct {
	Reads  uint64
	Writes uint64
	Syncs  uint64
}

// Pager owns the database file handle and provides page-granular access.
// The file length is kept a multiple of PageSize at all times; deletion
// never shrinks it.
type Pager struct {
	file     *os.File
	path     string
	fileSize int64

	reads  atomic.Uint64
	writes atomic.Uint64
	syncs  atomic.Uint64
}

// NewPager opens or creates the database file and takes an exclusive
// advisory lock on it. A file whose length is not page aligned is refused.
func NewPager(path string) (*Pager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, fmt.Errorf("open database file: %w", err)
	}

	if err := lockFile(file); err != nil {
		_ = file.Close()
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = unlockFile(file)
		_ = file.Close()
		return nil, fmt.Errorf("stat database file: %w", err)
	}

	if info.Size()%PageSize != 0 {
		_ = unlockFile(file)
		_ = file.Close()
		return nil, fmt.Errorf("%w: file length %d is not a multiple of %d", ErrCorrupt, info.Size(), PageSize)
	}

	return &Pager{
		file:     file,
		path:     path,
		fileSize: info.Size(),
	}, nil
}

// Size returns the current file length in bytes.
func (p *Pager) Size() int64 {
	return p.fileSize
}

// Path returns the database file path.
func (p *Pager) Path() string {
	return p.path
}

// ReadPage reads exactly one page at offset into dst.
// A short read inside the current file length means the file changed
// underneath us and surfaces as ErrCorrupt.
func (p *Pager) ReadPage(offset uint64, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("dst must be exactly %d bytes", PageSize)
	}
	if int64(offset)+PageSize > p.fileSize {
		return fmt.Errorf("%w: read at offset %d past file length %d", ErrCorrupt, offset, p.fileSize)
	}

	if _, err := p.file.ReadAt(dst, int64(offset)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: short read at offset %d", ErrCorrupt, offset)
		}
		return NewIOError("read", offset, err)
	}

	p.reads.Add(1)
	return nil
}

// WritePage writes exactly one page from src to offset.
func (p *Pager) WritePage(offset uint64, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("src must be exactly %d bytes", PageSize)
	}
	if int64(offset)+PageSize > p.fileSize {
		return fmt.Errorf("%w: write at offset %d past file length %d", ErrCorrupt, offset, p.fileSize)
	}

	n, err := p.file.WriteAt(src, int64(offset))
	if err != nil {
		return NewIOError("write", offset, err)
	}
	if n != PageSize {
		return NewIOError("write", offset, io.ErrShortWrite)
	}

	p.writes.Add(1)
	return nil
}

// Extend grows the file by one page. The new slot is zero-filled by the
// filesystem. Returns the offset of the new slot.
func (p *Pager) Extend() (uint64, error) {
	offset := uint64(p.fileSize)
	if err := p.file.Truncate(p.fileSize + PageSize); err != nil {
		return 0, NewIOError("extend", offset, err)
	}
	p.fileSize += PageSize

	slog.Debug("pager: extended file", "path", p.path, "newSize", p.fileSize)
	return offset, nil
}

// Sync flushes file content to stable storage.
func (p *Pager) Sync() error {
	if err := p.file.Sync(); err != nil {
		return NewIOError("sync", 0, err)
	}
	p.syncs.Add(1)
	return nil
}

// Stats returns a snapshot of the I/O counters.
func (p *Pager) Stats() PagerStats {
	return PagerStats{
		Reads:  p.reads.Load(),
		Writes: p.writes.Load(),
		Syncs:  p.syncs.Load(),
	}
}

// Close releases the advisory lock and closes the file.
func (p *Pager) Close() error {
	if err := unlockFile(p.file); err != nil {
		slog.Error("pager: unlock database file", "path", p.path, "err", err)
	}
	return p.file.Close()
}
