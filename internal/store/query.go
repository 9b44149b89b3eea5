package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnsupportedMatchKind is returned for match kinds a query cannot serve.
var ErrUnsupportedMatchKind = errors.New("unsupported match kind")

// MatchKind selects how a query value is compared against field values.
type MatchKind int

const (
	Exact MatchKind = iota
	Prefix
	CaseInsensitivePrefix
	CamelCase
	CaseInsensitiveCamelCase
	Regexp
	CaseInsensitiveRegexp
)

var matchKindNames = map[MatchKind]string{
	Exact:                    "exact",
	Prefix:                   "prefix",
	CaseInsensitivePrefix:    "ci-prefix",
	CamelCase:                "camel",
	CaseInsensitiveCamelCase: "ci-camel",
	Regexp:                   "regexp",
	CaseInsensitiveRegexp:    "ci-regexp",
}

func (k MatchKind) String() string {
	if n, ok := matchKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("MatchKind(%d)", int(k))
}

// ParseMatchKind converts a name produced by MatchKind.String back.
func ParseMatchKind(s string) (MatchKind, error) {
	for k, n := range matchKindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMatchKind, s)
}

// NewMatcher returns a predicate applying kind/value to a whole field value.
// Regular expressions must match the entire value. Camel-case patterns
// split at upper-case letters; each hunk must start a word in order.
func NewMatcher(kind MatchKind, value string) (func(string) bool, error) {
	switch kind {
	case Exact:
		return func(s string) bool { return s == value }, nil
	case Prefix:
		return func(s string) bool { return strings.HasPrefix(s, value) }, nil
	case CaseInsensitivePrefix:
		lv := lower(value)
		return func(s string) bool { return strings.HasPrefix(lower(s), lv) }, nil
	case CamelCase, CaseInsensitiveCamelCase:
		re, err := regexp.Compile(camelCasePattern(value))
		if err != nil {
			return nil, fmt.Errorf("camel case %q: %w", value, err)
		}
		if kind == CamelCase {
			return re.MatchString, nil
		}
		lv := lower(value)
		return func(s string) bool {
			return strings.HasPrefix(lower(s), lv) || re.MatchString(s)
		}, nil
	case Regexp, CaseInsensitiveRegexp:
		pattern := "^(?:" + value + ")$"
		if kind == CaseInsensitiveRegexp {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("regexp %q: %w", value, err)
		}
		return re.MatchString, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedMatchKind, kind)
}

// camelCasePattern turns "FoBa" into ^Fo[^A-Z]*Ba.*
func camelCasePattern(value string) string {
	var sb strings.Builder
	sb.WriteByte('^')
	start := 0
	for i, r := range value {
		if i > start && (unicode.IsUpper(r) || unicode.IsDigit(r)) {
			sb.WriteString(regexp.QuoteMeta(value[start:i]))
			sb.WriteString("[^A-Z]*")
			start = i
		}
	}
	sb.WriteString(regexp.QuoteMeta(value[start:]))
	sb.WriteString(".*")
	return sb.String()
}

// resultChunk bounds IN (...) lists.
const resultChunk = 500

// Query returns the documents having an indexed pair on field that
// matches value under kind. Each result carries the stored values of the
// requested fields, or of every stored field when none are named. Results
// are ordered by document insertion.
func (s *Store) Query(field, value string, kind MatchKind, fields ...string) ([]*Result, error) {
	ids, err := s.matchDocuments(field, value, kind)
	if err != nil {
		return nil, fmt.Errorf("query %s %s %q: %w", field, kind, value, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	results, err := s.loadResults(ids, fields)
	if err != nil {
		return nil, fmt.Errorf("query %s %s %q: %w", field, kind, value, err)
	}
	return results, nil
}

func (s *Store) matchDocuments(field, value string, kind MatchKind) ([]int64, error) {
	var (
		query string
		args  []any
	)
	switch kind {
	case Exact:
		query = "SELECT DISTINCT document_id FROM pairs WHERE field = ? AND indexed = 1 AND value = ? ORDER BY document_id"
		args = []any{field, value}
	case Prefix:
		query = "SELECT DISTINCT document_id FROM pairs WHERE field = ? AND indexed = 1 AND value >= ? AND substr(value, 1, ?) = ? ORDER BY document_id"
		args = []any{field, value, utf8.RuneCountInString(value), value}
	case CaseInsensitivePrefix:
		lv := lower(value)
		query = "SELECT DISTINCT document_id FROM pairs WHERE field = ? AND indexed = 1 AND value_ci >= ? AND substr(value_ci, 1, ?) = ? ORDER BY document_id"
		args = []any{field, lv, utf8.RuneCountInString(lv), lv}
	default:
		return s.scanDocuments(field, value, kind)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanDocuments serves the pattern kinds SQLite cannot express by walking
// every indexed value of field.
func (s *Store) scanDocuments(field, value string, kind MatchKind) ([]int64, error) {
	match, err := NewMatcher(kind, value)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query("SELECT document_id, value FROM pairs WHERE field = ? AND indexed = 1 ORDER BY document_id", field)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	last := int64(-1)
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		if id == last || !match(v) {
			continue
		}
		ids = append(ids, id)
		last = id
	}
	return ids, rows.Err()
}

func (s *Store) loadResults(ids []int64, fields []string) ([]*Result, error) {
	byID := make(map[int64]*Result, len(ids))
	results := make([]*Result, 0, len(ids))

	for _, chunk := range chunkIDs(ids, resultChunk) {
		rows, err := s.db.Query(
			"SELECT d.id, f.location FROM documents d JOIN files f ON f.id = d.file_id WHERE d.id IN ("+placeholderList(len(chunk))+") ORDER BY d.id",
			int64sToArgs(chunk)...,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			r := &Result{}
			if err := rows.Scan(&r.DocumentID, &r.Location); err != nil {
				rows.Close()
				return nil, err
			}
			byID[r.DocumentID] = r
			results = append(results, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		query := "SELECT document_id, field, value FROM pairs WHERE stored = 1 AND document_id IN (" + placeholderList(len(chunk)) + ")"
		args := int64sToArgs(chunk)
		if len(fields) > 0 {
			query += " AND field IN (" + placeholderList(len(fields)) + ")"
			args = append(args, stringsToArgs(fields)...)
		}
		query += " ORDER BY document_id, id"

		rows, err = s.db.Query(query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id int64
			var f, v string
			if err := rows.Scan(&id, &f, &v); err != nil {
				rows.Close()
				return nil, err
			}
			if r, ok := byID[id]; ok {
				r.add(f, v)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return results, nil
}
