package model

// Visibility mirrors a worksheet's OOXML <sheet state="..."> attribute.
type Visibility int

const (
	Visible Visibility = iota
	Hidden
	VeryHidden
)

// DateSystem distinguishes the 1900 and 1904 epoch conventions a workbook
// may declare via workbookPr/@date1904.
type DateSystem int

const (
	DateSystem1900 DateSystem = iota
	DateSystem1904
)

// Hyperlink associates a cell or range with a target (internal cell ref or
// an external URI) plus optional display/tooltip text.
type Hyperlink struct {
	Range       Range
	Target      string
	IsExternal  bool
	DisplayText string
	Tooltip     string
}

// RowProps captures a per-row height/visibility override.
type RowProps struct {
	Height  float64
	Hidden  bool
	Custom  bool // explicit override vs. sheet default
}

// ColProps captures a per-column width/visibility override.
type ColProps struct {
	Width  float64
	Hidden bool
	Custom bool
}

// Worksheet is one sheet's entity state: identity, cell map, and the
// structural metadata the package reader recovers from worksheet XML.
type Worksheet struct {
	ID         SheetID
	Name       string
	Visibility Visibility

	Cells map[CellRef]*Cell

	MergedRegions []Range
	Hyperlinks    []Hyperlink

	RowOverrides map[uint32]RowProps
	ColOverrides map[uint32]ColProps
}

// NewWorksheet constructs an empty worksheet with the given id/name.
func NewWorksheet(id SheetID, name string) *Worksheet {
	return &Worksheet{
		ID:           id,
		Name:         name,
		Cells:        make(map[CellRef]*Cell),
		RowOverrides: make(map[uint32]RowProps),
		ColOverrides: make(map[uint32]ColProps),
	}
}

// Cell returns the cell at ref, or nil if the cell has never been touched
// (an untouched cell is implicitly Empty).
func (w *Worksheet) Cell(ref CellRef) *Cell {
	return w.Cells[ref]
}

// SetCell installs (or replaces) the cell at ref.
func (w *Worksheet) SetCell(ref CellRef, c Cell) {
	w.Cells[ref] = &c
}

// DefinedName is a workbook- or sheet-scoped named range or constant.
type DefinedName struct {
	Name       string
	ScopeSheet *SheetID // nil for workbook scope
	RefersTo   string   // raw formula text, e.g. "Sheet1!$A$1:$B$2"
	Hidden     bool
}

// ThemeColor is one of the 12 theme palette slots (dk1, lt1, dk2, lt2,
// accent1..6, hlink, folHlink).
type ThemeColor struct {
	Name string
	ARGB string
}

// Workbook is the top-level entity container: ordered worksheets plus the
// shared interning tables and workbook-level metadata.
//
// Sheets holds the worksheet tab order (what workbook.xml's sheetIdList
// serializes); SheetID is a stable handle assigned once at creation and
// never reused or renumbered, so inserting, reordering, or renaming a sheet
// never invalidates a model.CellID any other sheet's graph or cells already
// hold.
type Workbook struct {
	Sheets       []*Worksheet
	sheetsByID   map[SheetID]int // SheetID -> index into Sheets
	sheetsByName map[string]SheetID
	nextSheetID  SheetID

	Styles        *StyleTable
	SharedStrings *SharedStringTable
	DefinedNames  []DefinedName
	Theme         []ThemeColor
	DateSystem    DateSystem

	// FullCalcOnLoad mirrors workbook.xml/@fullCalcOnLoad; set by the recalc
	// policy after formula edits (SPEC_FULL.md Part Edit Pipeline).
	FullCalcOnLoad bool
}

// NewWorkbook constructs an empty workbook with fresh interning tables.
func NewWorkbook() *Workbook {
	return &Workbook{
		sheetsByID:    make(map[SheetID]int),
		sheetsByName:  make(map[string]SheetID),
		Styles:        NewStyleTable(),
		SharedStrings: NewSharedStringTable(),
	}
}

// AddSheet appends a new worksheet at the end of the tab order and returns
// it.
func (wb *Workbook) AddSheet(name string) *Worksheet {
	return wb.InsertSheet(name, len(wb.Sheets))
}

// InsertSheet creates a new worksheet named name and inserts it into the
// tab order at index, clamping index into [0, len(Sheets)]. The new
// worksheet's SheetID is freshly minted and never collides with an
// existing or previously-removed sheet's ID.
func (wb *Workbook) InsertSheet(name string, index int) *Worksheet {
	if index < 0 {
		index = 0
	}
	if index > len(wb.Sheets) {
		index = len(wb.Sheets)
	}
	id := wb.nextSheetID
	wb.nextSheetID++
	ws := NewWorksheet(id, name)

	wb.Sheets = append(wb.Sheets, nil)
	copy(wb.Sheets[index+1:], wb.Sheets[index:])
	wb.Sheets[index] = ws

	wb.sheetsByName[name] = id
	wb.reindex()
	return ws
}

// RenameSheet changes the name of the worksheet identified by id. Callers
// are responsible for validating the new name (shape and uniqueness)
// before calling; RenameSheet itself only updates the name-lookup index.
func (wb *Workbook) RenameSheet(id SheetID, newName string) bool {
	idx, ok := wb.sheetsByID[id]
	if !ok {
		return false
	}
	ws := wb.Sheets[idx]
	delete(wb.sheetsByName, ws.Name)
	ws.Name = newName
	wb.sheetsByName[newName] = id
	return true
}

// SheetByName looks up a worksheet by its exact stored name.
func (wb *Workbook) SheetByName(name string) (*Worksheet, bool) {
	id, ok := wb.sheetsByName[name]
	if !ok {
		return nil, false
	}
	return wb.SheetByID(id)
}

// SheetByID looks up a worksheet by its stable ID.
func (wb *Workbook) SheetByID(id SheetID) (*Worksheet, bool) {
	idx, ok := wb.sheetsByID[id]
	if !ok {
		return nil, false
	}
	return wb.Sheets[idx], true
}

// SheetIndex returns the worksheet's position in the tab order, or -1 if
// the ID is unknown.
func (wb *Workbook) SheetIndex(id SheetID) int {
	idx, ok := wb.sheetsByID[id]
	if !ok {
		return -1
	}
	return idx
}

func (wb *Workbook) reindex() {
	for i, ws := range wb.Sheets {
		wb.sheetsByID[ws.ID] = i
	}
}
