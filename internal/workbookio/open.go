// Package workbookio bridges the on-disk OOXML package reader
// (internal/opc, internal/offcrypto, internal/styleedit) to the in-memory
// formula/dependency model (internal/model, internal/graph) that the
// scripting sandbox and the dependency graph operate on (spec.md §4.3,
// §4.1). It is the internal/registry.Loader this engine wires in.
package workbookio

import (
	"bytes"
	"context"
	"os"

	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/internal/offcrypto"
	"github.com/vinodismyname/xlcore/internal/opc"
	"github.com/vinodismyname/xlcore/internal/styleedit"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// oleCompoundFileMagic is the leading 8 bytes of every OLE/CFB container,
// which is how an MS-OFFCRYPTO-encrypted .xlsx is wrapped on disk.
var oleCompoundFileMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Open reads path, transparently decrypting an MS-OFFCRYPTO-wrapped
// workbook with password (ignored for a plain ZIP package), and builds the
// in-memory model.Workbook/graph.Graph pair the rest of the engine
// operates on. ctx is accepted for registry.Loader compatibility and future
// cancellation of large-file reads; it is not yet consulted mid-parse.
func Open(ctx context.Context, path, password string) (*model.Workbook, *graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, mcperr.Wrap(mcperr.OpenFailed, err, "reading %s", path)
	}
	return FromBytes(raw, password)
}

// NewLoader binds password into a registry.Loader-shaped closure so a
// Manager can be configured once per opened handle.
func NewLoader(password string) func(ctx context.Context, path string) (*model.Workbook, *graph.Graph, error) {
	return func(ctx context.Context, path string) (*model.Workbook, *graph.Graph, error) {
		return Open(ctx, path, password)
	}
}

// FromBytes is Open's in-memory counterpart, used directly by tests and by
// any caller that already has the file's bytes (e.g. an upload handler).
func FromBytes(raw []byte, password string) (*model.Workbook, *graph.Graph, error) {
	zipBytes := raw
	if bytes.HasPrefix(raw, oleCompoundFileMagic) {
		decrypted, err := offcrypto.Open(bytes.NewReader(raw), password)
		if err != nil {
			return nil, nil, err
		}
		zipBytes = decrypted
	}

	pkg, err := opc.FromBytes(zipBytes)
	if err != nil {
		return nil, nil, err
	}
	return FromPackage(pkg)
}

// FromPackage builds a model.Workbook/graph.Graph from an already-opened
// (and, if applicable, already-decrypted) package.
func FromPackage(pkg *opc.Package) (*model.Workbook, *graph.Graph, error) {
	sheetInfos, err := pkg.WorkbookSheets()
	if err != nil {
		return nil, nil, err
	}
	dateSystem, err := pkg.DateSystem()
	if err != nil {
		return nil, nil, err
	}

	stylesData, _ := pkg.Part("xl/styles.xml")
	stylesPart, err := styleedit.ParseOrDefault(stylesData)
	if err != nil {
		return nil, nil, err
	}

	shared, err := pkg.SharedStrings()
	if err != nil {
		return nil, nil, err
	}

	wb := model.NewWorkbook()
	wb.DateSystem = dateSystem

	xfToStyleID := make(map[uint32]uint32, stylesPart.CellXfsCount())
	resolveXf := func(xf uint32) uint32 {
		if id, ok := xfToStyleID[xf]; ok {
			return id
		}
		style, ok := stylesPart.StyleForXf(xf)
		if !ok {
			style = model.Style{}
		}
		id := wb.Styles.Intern(style)
		xfToStyleID[xf] = id
		return id
	}

	if theme, ok, err := pkg.ThemePalette(); err == nil && ok {
		wb.Theme = theme
	}

	g := graph.New(config.DirtyMarkLimit)

	for _, info := range sheetInfos {
		ws := wb.AddSheet(info.Name)
		ws.Visibility = info.Visibility

		data, ok := pkg.Part(info.PartName)
		if !ok {
			continue
		}
		cells, err := opc.ParseSheetData(data, info.PartName, shared, resolveXf)
		if err != nil {
			return nil, nil, err
		}
		ws.Cells = cells

		for ref, cell := range cells {
			if !cell.HasFormula {
				continue
			}
			cellID := model.CellID{SheetID: ws.ID, Cell: ref}
			// No formula grammar is available at this boundary (spec.md §4.1
			// assumes one supplied externally): register the node with no
			// precedents so a later full recalc pass can discover them.
			g.UpdateCellDependencies(cellID, graph.CellDependencies{})
		}
	}

	return wb, g, nil
}
