package pyindex

import "errors"

// ErrIndexVersion is returned by New when the database was written with a
// different signature encoding than this build reads.
var ErrIndexVersion = errors.New("index signature schema mismatch")

// RootClass is the class every class without explicit bases inherits from.
const RootClass = "object"
