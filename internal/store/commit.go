package store

import "fmt"

// CommitBatch writes every file buffered in a BatchedStore within a single
// transaction, replacing prior documents for each location. The batch is
// emptied on success.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	if len(batch.Files) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for i := range batch.Files {
		bf := &batch.Files[i]
		if err := replaceFileTx(tx, &bf.File, bf.Documents); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	batch.Files = nil
	return nil
}
