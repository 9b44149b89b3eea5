package store

import "strings"

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// int64sToArgs converts []int64 to []any for use with database/sql.
func int64sToArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// stringsToArgs converts []string to []any for use with database/sql.
func stringsToArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

// chunkIDs splits ids into slices of at most n, keeping SQLite under its
// bound-variable limit.
func chunkIDs(ids []int64, n int) [][]int64 {
	var chunks [][]int64
	for len(ids) > n {
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
