// Package index implements a disk-resident B+Tree ordered index on top of
// the buffer pool, keyed by a fixed-width int64 key and valued by a row
// identifier, plus a forward iterator over its leaves.
package index

import "github.com/jobala/petro/storage/disk"

// pageType tags a B+Tree page as internal or leaf.
type pageType int32

const (
	invalidPage pageType = iota
	internalPageType
	leafPageType
)

// HeaderPageID is the fixed page id of the root-page-id dictionary.
const HeaderPageID = disk.HEADER_PAGE_ID

// commonHeaderSize is the size, in bytes, of the header shared by every
// B+Tree page: page_type, lsn, size, max_size, parent_page_id, page_id —
// six int32 fields.
const commonHeaderSize = 6 * 4

// RID identifies a row in a heap file by the page holding it and its slot
// within that page.
type RID struct {
	PageID disk.PageID
	Slot   uint32
}

// ridSize is the fixed, bit-exact width of a serialized RID.
const ridSize = 8

// leafEntrySize is the width of one (key, RID) slot in a leaf page.
const leafEntrySize = 8 + ridSize

// internalEntrySize is the width of one (key, child page id) slot in an
// internal page.
const internalEntrySize = 8 + 4
