package store

import "sync"

// BatchedStore buffers per-file document sets in memory so parallel
// workers can build documents without touching SQLite. CommitBatch writes
// the buffer in one transaction.
//
// Thread safety: the mutex protects the buffer. FileByLocation passes
// through to the underlying Store, which is safe for concurrent reads.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	Files []BatchedFile
}

// BatchedFile is one buffered ReplaceFile call.
type BatchedFile struct {
	File      File
	Documents []*Document
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{store: s}
}

func (b *BatchedStore) ReplaceFile(f *File, docs []*Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// A later buffered write for the same location wins.
	for i := range b.Files {
		if b.Files[i].File.Location == f.Location {
			b.Files[i] = BatchedFile{File: *f, Documents: docs}
			return nil
		}
	}
	b.Files = append(b.Files, BatchedFile{File: *f, Documents: docs})
	return nil
}

func (b *BatchedStore) FileByLocation(location string) (*File, error) {
	return b.store.FileByLocation(location)
}

// Len returns the number of buffered files.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Files)
}
