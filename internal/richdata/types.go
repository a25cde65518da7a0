// Package richdata resolves the "Place In Cell" image chain: worksheet
// cell @vm -> xl/metadata.xml value-metadata index -> rich-value
// record -> rich-value relationship index -> relationship ID -> image
// part (spec.md §4.6).
package richdata

import "github.com/vinodismyname/xlcore/internal/model"

// EmbeddedImage is one resolved cell-anchored image.
type EmbeddedImage struct {
	SheetPart       string
	Cell            model.CellRef
	ImagePart       string
	Bytes           []byte
	AltText         string
	HyperlinkTarget string
	Decorative      bool
}

// relIndexBase is the disambiguated base for rich-value-relationship
// indices and metadata vm offsets (spec.md §4.6).
type relIndexBase int

const (
	baseUnknown relIndexBase = iota
	baseZero
	baseOne
)

// richValueImage is one parsed rdrichvalue.xml record that describes a
// local image: its relationship-table identifier, CalcOrigin code, and
// optional alt text.
type richValueImage struct {
	localImageIdentifier uint32
	calcOrigin           uint32
	altText              string
	hasAltText           bool
}

// structurePositions records, for one rdrichvaluestructure.xml
// "_localImage" structure, which positional <v> child of an <rv> holds
// which named field.
type structurePositions struct {
	isLocalImage         bool
	localImageIdentifier int
	hasLocalImageIdent   bool
	calcOrigin           int
	hasCalcOrigin        bool
	text                 int
	hasText              bool
}
