package store

// DataStore is the write side used by indexing. Both Store (direct SQLite)
// and BatchedStore (in-memory buffering for parallel indexing) implement it.
type DataStore interface {
	// ReplaceFile drops every document previously written for f.Location
	// and writes docs in its place.
	ReplaceFile(f *File, docs []*Document) error

	// FileByLocation returns the file record, or nil when not indexed.
	FileByLocation(location string) (*File, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
