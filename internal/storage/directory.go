package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// PageDirectory maps live page IDs to byte offsets within the database
// file and recycles offsets of deleted pages through a LIFO free list.
//
// The directory holds no lock of its own; the buffer pool manager
// serializes all access under its mutex.
type PageDirectory struct {
	live    map[PageID]uint64
	free    []uint64 // offsets of deleted pages, most recently freed last
	highest PageID
}

func NewPageDirectory() *PageDirectory {
	return &PageDirectory{
		live: make(map[PageID]uint64),
	}
}

// RegisterNewPage mints the next page ID and binds it to an offset:
// a recycled one when the free list is non-empty, otherwise the first
// offset past every slot handed out so far. The caller extends the file
// when the returned offset lies at or beyond its current length.
func (d *PageDirectory) RegisterNewPage() (PageID, uint64) {
	if d.highest == math.MaxUint32 {
		panic("storage: page id counter overflow")
	}
	d.highest++

	var offset uint64
	if n := len(d.free); n > 0 {
		offset = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		// Live and free offsets together tile the file contiguously,
		// so the next fresh slot starts right after them.
		offset = uint64(len(d.live)) * PageSize
	}

	d.live[d.highest] = offset
	return d.highest, offset
}

// Lookup returns the offset bound to pageID, if the page is live.
func (d *PageDirectory) Lookup(pageID PageID) (uint64, bool) {
	offset, ok := d.live[pageID]
	return offset, ok
}

// Remove unbinds pageID and pushes its offset onto the free list.
// The ID itself is retired for good.
func (d *PageDirectory) Remove(pageID PageID) error {
	offset, ok := d.live[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrDirectoryMiss, pageID)
	}
	delete(d.live, pageID)
	d.free = append(d.free, offset)
	return nil
}

// CanAccommodate reports whether a register could reuse a freed offset
// without extending the file.
func (d *PageDirectory) CanAccommodate() bool {
	return len(d.free) > 0
}

// LiveCount returns the number of live pages.
func (d *PageDirectory) LiveCount() int {
	return len(d.live)
}

// SlotCount returns the total number of file slots the directory accounts
// for, live and free together. The file length is always SlotCount pages.
func (d *PageDirectory) SlotCount() int {
	return len(d.live) + len(d.free)
}

// HighestPageID returns the largest page ID ever assigned.
func (d *PageDirectory) HighestPageID() PageID {
	return d.highest
}

// Directory snapshot layout (little endian):
//
//	u32 highest_page_id
//	u32 live_count, then live_count * (u32 page_id, u64 offset)
//	u32 free_count, then free_count * u64 offset
//
// The snapshot is advisory state for reopening a database file; it is
// rewritten wholesale and carries no recovery guarantees.

// Save persists the directory snapshot to path.
func (d *PageDirectory) Save(path string) error {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, uint32(d.highest)); err != nil {
		return fmt.Errorf("encode highest page id: %w", err)
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(d.live))); err != nil {
		return fmt.Errorf("encode live count: %w", err)
	}
	for pageID, offset := range d.live {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(pageID)); err != nil {
			return fmt.Errorf("encode page id: %w", err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, offset); err != nil {
			return fmt.Errorf("encode offset: %w", err)
		}
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(d.free))); err != nil {
		return fmt.Errorf("encode free count: %w", err)
	}
	for _, offset := range d.free {
		if err := binary.Write(&buf, binary.LittleEndian, offset); err != nil {
			return fmt.Errorf("encode free offset: %w", err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), FileMode0644); err != nil {
		return fmt.Errorf("write directory snapshot: %w", err)
	}
	return nil
}

// LoadPageDirectory reads a snapshot written by Save.
func LoadPageDirectory(path string) (*PageDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewReader(data)

	d := NewPageDirectory()

	var highest uint32
	if err := binary.Read(buf, binary.LittleEndian, &highest); err != nil {
		return nil, fmt.Errorf("%w: directory snapshot header: %v", ErrCorrupt, err)
	}
	d.highest = PageID(highest)

	var liveCount uint32
	if err := binary.Read(buf, binary.LittleEndian, &liveCount); err != nil {
		return nil, fmt.Errorf("%w: directory snapshot live count: %v", ErrCorrupt, err)
	}
	for i := uint32(0); i < liveCount; i++ {
		var pageID uint32
		var offset uint64
		if err := binary.Read(buf, binary.LittleEndian, &pageID); err != nil {
			return nil, fmt.Errorf("%w: directory snapshot live entry: %v", ErrCorrupt, err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("%w: directory snapshot live entry: %v", ErrCorrupt, err)
		}
		if PageID(pageID) == InvalidPageID || PageID(pageID) > d.highest || offset%PageSize != 0 {
			return nil, fmt.Errorf("%w: directory snapshot entry (page %d, offset %d)", ErrCorrupt, pageID, offset)
		}
		d.live[PageID(pageID)] = offset
	}

	var freeCount uint32
	if err := binary.Read(buf, binary.LittleEndian, &freeCount); err != nil {
		return nil, fmt.Errorf("%w: directory snapshot free count: %v", ErrCorrupt, err)
	}
	for i := uint32(0); i < freeCount; i++ {
		var offset uint64
		if err := binary.Read(buf, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("%w: directory snapshot free entry: %v", ErrCorrupt, err)
		}
		if offset%PageSize != 0 {
			return nil, fmt.Errorf("%w: directory snapshot free offset %d", ErrCorrupt, offset)
		}
		d.free = append(d.free, offset)
	}

	return d, nil
}
