package store

import (
	"database/sql"
	"fmt"
	"time"
)

// --- File operations ---

func (s *Store) FileByLocation(location string) (*File, error) {
	f := &File{}
	var hash, docsHash sql.NullString
	var last sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, location, hash, docs_hash, last_indexed FROM files WHERE location = ?", location,
	).Scan(&f.ID, &f.Location, &hash, &docsHash, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by location: %w", err)
	}
	f.Hash = hash.String
	f.DocsHash = docsHash.String
	f.LastIndexed = last.Time
	return f, nil
}

// Files returns every indexed file ordered by location.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT id, location, hash, docs_hash, last_indexed FROM files ORDER BY location")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()

	var out []*File
	for rows.Next() {
		f := &File{}
		var hash, docsHash sql.NullString
		var last sql.NullTime
		if err := rows.Scan(&f.ID, &f.Location, &hash, &docsHash, &last); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.Hash = hash.String
		f.DocsHash = docsHash.String
		f.LastIndexed = last.Time
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Document operations ---

// ReplaceFile writes docs for f in a single transaction, replacing any
// documents previously stored for the same location. f.ID is set.
func (s *Store) ReplaceFile(f *File, docs []*Document) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("replace file: begin: %w", err)
	}
	defer tx.Rollback()

	if err := replaceFileTx(tx, f, docs); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceFileTx(tx *sql.Tx, f *File, docs []*Document) error {
	if f.LastIndexed.IsZero() {
		f.LastIndexed = time.Now()
	}
	// Deleting the file row cascades to documents and pairs.
	if _, err := tx.Exec("DELETE FROM files WHERE location = ?", f.Location); err != nil {
		return fmt.Errorf("replace file %s: delete: %w", f.Location, err)
	}
	res, err := tx.Exec(
		"INSERT INTO files (location, hash, docs_hash, last_indexed) VALUES (?, ?, ?, ?)",
		f.Location, f.Hash, f.DocsHash, f.LastIndexed,
	)
	if err != nil {
		return fmt.Errorf("replace file %s: insert: %w", f.Location, err)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("replace file %s: last insert id: %w", f.Location, err)
	}

	docStmt, err := tx.Prepare("INSERT INTO documents (file_id, ordinal) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("replace file: prepare document: %w", err)
	}
	defer docStmt.Close()
	pairStmt, err := tx.Prepare(
		"INSERT INTO pairs (document_id, field, value, value_ci, indexed, stored) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("replace file: prepare pair: %w", err)
	}
	defer pairStmt.Close()

	for i, doc := range docs {
		res, err := docStmt.Exec(f.ID, i)
		if err != nil {
			return fmt.Errorf("replace file %s: document %d: %w", f.Location, i, err)
		}
		docID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("replace file %s: document id: %w", f.Location, err)
		}
		for _, p := range doc.Pairs {
			if _, err := pairStmt.Exec(docID, p.Field, p.Value, lower(p.Value), boolToInt(p.Indexed), boolToInt(p.Stored)); err != nil {
				return fmt.Errorf("replace file %s: pair %s=%q: %w", f.Location, p.Field, p.Value, err)
			}
		}
	}
	return nil
}

// DocumentsForFile returns the documents stored for location, with all
// pairs (indexed or not), in the order they were written.
func (s *Store) DocumentsForFile(location string) ([]*Document, error) {
	rows, err := s.db.Query(`
		SELECT d.id, p.field, p.value, p.indexed, p.stored
		FROM files f
		JOIN documents d ON d.file_id = f.id
		JOIN pairs p ON p.document_id = d.id
		WHERE f.location = ?
		ORDER BY d.ordinal, p.id`, location)
	if err != nil {
		return nil, fmt.Errorf("documents for %s: %w", location, err)
	}
	defer rows.Close()

	var out []*Document
	var cur *Document
	lastID := int64(-1)
	for rows.Next() {
		var docID int64
		var p Pair
		if err := rows.Scan(&docID, &p.Field, &p.Value, &p.Indexed, &p.Stored); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		if docID != lastID {
			cur = NewDocument(location)
			out = append(out, cur)
			lastID = docID
		}
		cur.Pairs = append(cur.Pairs, p)
	}
	return out, rows.Err()
}

// Stats reports file and document counts.
func (s *Store) Stats() (files, documents int, err error) {
	if err = s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&files); err != nil {
		return 0, 0, fmt.Errorf("stats: files: %w", err)
	}
	if err = s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&documents); err != nil {
		return 0, 0, fmt.Errorf("stats: documents: %w", err)
	}
	return files, documents, nil
}
