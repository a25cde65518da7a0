package model

// Font, Fill, Border, Alignment, Protection, and NumberFormat are the
// independently-interned components of a Style. Equality is value equality;
// the styles editor (internal/styleedit) is responsible for deduplicating
// them against xl/styles.xml's <fonts>/<fills>/<borders>/<numFmts> tables.
type Font struct {
	Name      string
	SizePt    float64
	Bold      bool
	Italic    bool
	Underline bool
	Strike    bool
	ColorARGB string
}

type Fill struct {
	PatternType string
	FgColorARGB string
	BgColorARGB string
}

type BorderEdge struct {
	Style     string
	ColorARGB string
}

type Border struct {
	Left, Right, Top, Bottom, Diagonal BorderEdge
}

type Alignment struct {
	Horizontal   string
	Vertical     string
	WrapText     bool
	TextRotation int32
	Indent       uint32
}

type Protection struct {
	Locked bool
	Hidden bool
}

type NumberFormat struct {
	// BuiltinID is non-zero for one of the ~50 built-in number format IDs;
	// Code is the custom format code otherwise (and is empty for a pure
	// builtin reference).
	BuiltinID uint32
	Code      string
}

// Style is the value type deduplicated by StyleTable. Two cells sharing the
// same Style resolve to the same StyleID.
type Style struct {
	Font         Font
	Fill         Fill
	Border       Border
	Alignment    Alignment
	Protection   Protection
	NumberFormat NumberFormat
}

// CfStyleOverride is the differential style a conditional-formatting rule
// applies on top of a cell's base Style (xl/styles.xml's <dxfs>). Every
// field is optional: a dxf entry commonly sets only one or two of
// font color / fill / bold / italic, and the unset fields must leave the
// base style untouched rather than overwrite it with a zero value.
type CfStyleOverride struct {
	FontColorARGB *string
	FillARGB      *string
	Bold          *bool
	Italic        *bool
}

// StyleTable is an append-only interning table: Style -> StyleID. Existing
// IDs never change, which is required so that worksheet cells referencing a
// StyleID remain valid across edits (see SPEC_FULL.md styles editor).
type StyleTable struct {
	byID    []Style
	byValue map[Style]uint32
}

// NewStyleTable constructs an empty table ready to accept interning calls.
func NewStyleTable() *StyleTable {
	return &StyleTable{byValue: make(map[Style]uint32)}
}

// Intern returns the StyleID for s, minting a new one if s has not been seen.
func (t *StyleTable) Intern(s Style) uint32 {
	if id, ok := t.byValue[s]; ok {
		return id
	}
	id := uint32(len(t.byID))
	t.byID = append(t.byID, s)
	t.byValue[s] = id
	return id
}

// Lookup returns the Style for a previously interned ID.
func (t *StyleTable) Lookup(id uint32) (Style, bool) {
	if int(id) >= len(t.byID) {
		return Style{}, false
	}
	return t.byID[id], true
}

// Len returns the number of distinct interned styles.
func (t *StyleTable) Len() int { return len(t.byID) }

// SharedStringTable is an append-only interning table for worksheet string
// cells, mirroring xl/sharedStrings.xml. Existing indices are stable across
// edits (SPEC_FULL.md "Rich text / shared strings").
type SharedStringTable struct {
	byIndex []string
	byValue map[string]uint32
}

func NewSharedStringTable() *SharedStringTable {
	return &SharedStringTable{byValue: make(map[string]uint32)}
}

// Intern returns the index for s, appending a new entry if s is novel.
func (t *SharedStringTable) Intern(s string) uint32 {
	if id, ok := t.byValue[s]; ok {
		return id
	}
	id := uint32(len(t.byIndex))
	t.byIndex = append(t.byIndex, s)
	t.byValue[s] = id
	return id
}

// Lookup returns the string for a previously interned index.
func (t *SharedStringTable) Lookup(id uint32) (string, bool) {
	if int(id) >= len(t.byIndex) {
		return "", false
	}
	return t.byIndex[id], true
}

func (t *SharedStringTable) Len() int { return len(t.byIndex) }

// All returns the table contents in index order. Callers must not mutate
// the returned slice.
func (t *SharedStringTable) All() []string { return t.byIndex }
