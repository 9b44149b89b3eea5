package store

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrSchemaMismatch is returned when a snapshot was written with a
// different signature schema than the receiving store uses.
var ErrSchemaMismatch = errors.New("snapshot schema mismatch")

// snapshotFormat is bumped when the snapshot record layout changes.
const snapshotFormat uint16 = 1

type snapshotHeader struct {
	Format uint16 `msgpack:"format"`
	Schema string `msgpack:"schema"`
	Files  int    `msgpack:"files"`
}

type snapshotFile struct {
	Location  string           `msgpack:"location"`
	Hash      string           `msgpack:"hash"`
	DocsHash  string           `msgpack:"docs_hash"`
	Documents []snapshotRecord `msgpack:"documents"`
}

type snapshotRecord struct {
	Pairs []snapshotPair `msgpack:"pairs"`
}

type snapshotPair struct {
	Field   string `msgpack:"f"`
	Value   string `msgpack:"v"`
	Indexed bool   `msgpack:"i"`
	Stored  bool   `msgpack:"s"`
}

// ExportSnapshot writes every file whose location passes keep (all files
// when keep is nil) as a zstd-compressed msgpack stream. It returns the
// number of files written.
func (s *Store) ExportSnapshot(w io.Writer, keep func(location string) bool) (int, error) {
	schema, err := s.Metadata(MetaSignatureSchema)
	if err != nil {
		return 0, fmt.Errorf("export snapshot: %w", err)
	}
	files, err := s.Files()
	if err != nil {
		return 0, fmt.Errorf("export snapshot: %w", err)
	}
	var selected []*File
	for _, f := range files {
		if keep == nil || keep(f.Location) {
			selected = append(selected, f)
		}
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("export snapshot: zstd: %w", err)
	}
	enc := msgpack.NewEncoder(zw)

	if err := enc.Encode(&snapshotHeader{Format: snapshotFormat, Schema: schema, Files: len(selected)}); err != nil {
		zw.Close()
		return 0, fmt.Errorf("export snapshot: header: %w", err)
	}
	for _, f := range selected {
		docs, err := s.DocumentsForFile(f.Location)
		if err != nil {
			zw.Close()
			return 0, fmt.Errorf("export snapshot: %w", err)
		}
		rec := snapshotFile{Location: f.Location, Hash: f.Hash, DocsHash: f.DocsHash}
		for _, d := range docs {
			var sr snapshotRecord
			for _, p := range d.Pairs {
				sr.Pairs = append(sr.Pairs, snapshotPair{Field: p.Field, Value: p.Value, Indexed: p.Indexed, Stored: p.Stored})
			}
			rec.Documents = append(rec.Documents, sr)
		}
		if err := enc.Encode(&rec); err != nil {
			zw.Close()
			return 0, fmt.Errorf("export snapshot: %s: %w", f.Location, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("export snapshot: flush: %w", err)
	}
	return len(selected), nil
}

// ImportSnapshot reads a stream produced by ExportSnapshot and replaces the
// documents of every file it contains, in one transaction. A store with no
// recorded schema adopts the snapshot's.
func (s *Store) ImportSnapshot(r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("import snapshot: zstd: %w", err)
	}
	defer zr.Close()
	dec := msgpack.NewDecoder(zr)

	var hdr snapshotHeader
	if err := dec.Decode(&hdr); err != nil {
		return 0, fmt.Errorf("import snapshot: header: %w", err)
	}
	if hdr.Format != snapshotFormat {
		return 0, fmt.Errorf("import snapshot: format %d: %w", hdr.Format, ErrSchemaMismatch)
	}
	local, err := s.Metadata(MetaSignatureSchema)
	if err != nil {
		return 0, fmt.Errorf("import snapshot: %w", err)
	}
	if local != "" && hdr.Schema != local {
		return 0, fmt.Errorf("import snapshot: schema %q, index uses %q: %w", hdr.Schema, local, ErrSchemaMismatch)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("import snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < hdr.Files; i++ {
		var rec snapshotFile
		if err := dec.Decode(&rec); err != nil {
			return 0, fmt.Errorf("import snapshot: file %d: %w", i, err)
		}
		docs := make([]*Document, 0, len(rec.Documents))
		for _, sr := range rec.Documents {
			d := NewDocument(rec.Location)
			for _, p := range sr.Pairs {
				d.AddPair(p.Field, p.Value, p.Indexed, p.Stored)
			}
			docs = append(docs, d)
		}
		f := &File{Location: rec.Location, Hash: rec.Hash, DocsHash: rec.DocsHash}
		if err := replaceFileTx(tx, f, docs); err != nil {
			return 0, fmt.Errorf("import snapshot: %w", err)
		}
	}
	if local == "" && hdr.Schema != "" {
		if _, err := tx.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", MetaSignatureSchema, hdr.Schema); err != nil {
			return 0, fmt.Errorf("import snapshot: schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import snapshot: commit: %w", err)
	}
	return hdr.Files, nil
}
