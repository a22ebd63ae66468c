// Package symbol holds the position/identity data model shared between the
// LSP client, the normalizer, and the artifact extractor.
package symbol

import (
	"fmt"
	"strings"
)

// Position is a zero-based (line, character) pair, matching LSP's wire
// convention. User-facing display adds 1 to both fields.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Contains reports whether p lies within [r.Start, r.End), the half-open
// convention LSP ranges use.
func (r Range) Contains(p Position) bool {
	if p.Line < r.Start.Line || p.Line > r.End.Line {
		return false
	}
	if p.Line == r.Start.Line && p.Character < r.Start.Character {
		return false
	}
	if p.Line == r.End.Line && p.Character >= r.End.Character {
		return false
	}
	return true
}

// Range is an inclusive start, exclusive end pair of Positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location names a Range inside a file URI.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// Kind is the coarse classification a SymbolIdentity carries, derived from
// the innermost LSP document-symbol kind code.
type Kind int

const (
	KindOther Kind = iota
	KindFreeFunction
	KindMethod
	KindType
)

func (k Kind) String() string {
	switch k {
	case KindFreeFunction:
		return "FreeFunction"
	case KindMethod:
		return "Method"
	case KindType:
		return "Type"
	default:
		return "Other"
	}
}

// IsFunction reports whether this kind is callable compiler output can be
// inspected for (MIR/LLVM-IR/asm views require this).
func (k Kind) IsFunction() bool {
	return k == KindFreeFunction || k == KindMethod
}

// LSP SymbolKind codes relevant to the Function/Method classification (the
// rest of the 26-entry taxonomy maps to KindType or KindOther).
const (
	lspKindMethod   = 6
	lspKindFunction = 12
	lspKindClass    = 5
	lspKindStruct   = 23
	lspKindInterface = 11
	lspKindEnum     = 10
)

// KindFromLSP maps an LSP SymbolKind integer code onto our coarse Kind.
func KindFromLSP(code uint32) Kind {
	switch code {
	case lspKindFunction:
		return KindFreeFunction
	case lspKindMethod:
		return KindMethod
	case lspKindClass, lspKindStruct, lspKindInterface, lspKindEnum:
		return KindType
	default:
		return KindOther
	}
}

// PathSegment is one (name, kind) layer of a SymbolPath, outermost first.
type PathSegment struct {
	Name string
	Kind uint32
}

// Path is an ordered sequence of PathSegment, outermost first, innermost
// last.
type Path []PathSegment

// Identity is the fully resolved identity of a symbol: its owning crate,
// the module layers between the crate root and the item, the item's own
// name, and its coarse kind.
type Identity struct {
	CrateName  string
	ModulePath []string
	ItemName   string
	Kind       Kind
}

// WithItemName returns a copy of id with ItemName replaced, used when a
// caller supplies an explicit symbol_name override on a position-based
// call. The override only ever touches the innermost segment.
func (id Identity) WithItemName(name string) Identity {
	id.ItemName = name
	return id
}

// Normalized is the def-path/mangled-prefix view of an Identity used by the
// artifact extractor's selection ladders.
type Normalized struct {
	DefName       string
	ItemName      string
	Mangled       string // optional; empty means unknown
	Target        string // optional; empty means unspecified
	MangledPrefix string
}

// FromIdentity builds a Normalized symbol from an Identity, deriving
// DefName and MangledPrefix deterministically from the same segments. It is
// always re-derived from the (possibly symbol_name-overridden) Identity, so
// MangledPrefix and DefName stay consistent with any override.
func FromIdentity(id Identity, mangled, target string) Normalized {
	segments := make([]string, 0, 2+len(id.ModulePath))
	segments = append(segments, id.CrateName)
	segments = append(segments, id.ModulePath...)
	segments = append(segments, id.ItemName)

	return Normalized{
		DefName:       strings.Join(segments, "::"),
		ItemName:      id.ItemName,
		Mangled:       mangled,
		Target:        target,
		MangledPrefix: mangledPrefix(segments),
	}
}

// mangledPrefix builds the Itanium-style length-prefixed encoding
// "_ZN" ++ concat(len(s)++s for s in segments). It is a prefix of any real
// mangled name for that item regardless of the trailing hash suffix.
func mangledPrefix(segments []string) string {
	var b strings.Builder
	b.WriteString("_ZN")
	for _, s := range segments {
		fmt.Fprintf(&b, "%d%s", len(s), s)
	}
	return b.String()
}
