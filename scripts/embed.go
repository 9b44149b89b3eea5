// Package scripts holds the Risor scripts shipped with the indexer.
package scripts

import "embed"

// FS contains every .risor file in this directory.
//
//go:embed *.risor
var FS embed.FS
