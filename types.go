package pyindex

import (
	"github.com/jward/pyindex/internal/runtime"
	"github.com/jward/pyindex/internal/signature"
	"github.com/jward/pyindex/internal/store"
)

// Public type aliases for internal types used in the Engine and Index API.

type Store = store.Store
type File = store.File
type Result = store.Result
type MatchKind = store.MatchKind
type Flags = signature.Flags
type Policy = runtime.Policy

// Match kinds accepted by Index queries.
const (
	Exact                    = store.Exact
	Prefix                   = store.Prefix
	CaseInsensitivePrefix    = store.CaseInsensitivePrefix
	CamelCase                = store.CamelCase
	CaseInsensitiveCamelCase = store.CaseInsensitiveCamelCase
	Regexp                   = store.Regexp
	CaseInsensitiveRegexp    = store.CaseInsensitiveRegexp
)

// Symbol flags.
const (
	FlagPrivate     = signature.Private
	FlagDeprecated  = signature.Deprecated
	FlagStatic      = signature.Static
	FlagConstructor = signature.Constructor
	FlagDocumented  = signature.Documented
	FlagDocOnly     = signature.DocOnly
)
