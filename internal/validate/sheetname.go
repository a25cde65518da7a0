// Package validate holds the shape-validation rules shared by every caller
// that can rename or create a worksheet or feed scripted cell input into a
// workbook: sheet-name validation (spec.md §6), cell-input coercion for
// scripted edits, and range-bound checks against the configured per-call
// limits.
package validate

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/cases"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// SheetNameErrorKind enumerates the canonical sheet-name validation
// failures.
type SheetNameErrorKind int

const (
	// EmptyName: the name is empty after trimming surrounding whitespace.
	EmptyName SheetNameErrorKind = iota
	// TooLong: the name exceeds 31 UTF-16 code units.
	TooLong
	// InvalidCharacter: the name contains one of \ / ? * [ ] :
	InvalidCharacter
	// LeadingOrTrailingApostrophe: the name begins or ends with '.
	LeadingOrTrailingApostrophe
	// DuplicateName: the name collides with an existing one under Unicode
	// case folding.
	DuplicateName
)

func (k SheetNameErrorKind) String() string {
	switch k {
	case EmptyName:
		return "EmptyName"
	case TooLong:
		return "TooLong"
	case InvalidCharacter:
		return "InvalidCharacter"
	case LeadingOrTrailingApostrophe:
		return "LeadingOrTrailingApostrophe"
	case DuplicateName:
		return "DuplicateName"
	default:
		return "Unknown"
	}
}

// SheetNameError carries the canonical variant plus, for InvalidCharacter,
// the offending rune.
type SheetNameError struct {
	Kind SheetNameErrorKind
	Char rune
}

func (e *SheetNameError) Error() string {
	switch e.Kind {
	case EmptyName:
		return "sheet name must not be empty"
	case TooLong:
		return "sheet name exceeds 31 characters"
	case InvalidCharacter:
		return fmt.Sprintf("sheet name contains invalid character %q", e.Char)
	case LeadingOrTrailingApostrophe:
		return "sheet name must not begin or end with an apostrophe"
	case DuplicateName:
		return "sheet name is already in use"
	default:
		return "invalid sheet name"
	}
}

const maxSheetNameUTF16Units = 31

const forbiddenSheetNameChars = `\/?*[]:`

// foldCaser performs Unicode full case folding (e.g. "straße" and "STRASSE"
// fold to the same key), unlike strings.ToUpper/ToLower which only apply
// simple 1:1 case mapping.
var foldCaser = cases.Fold()

// FoldSheetName returns the Unicode-case-folded form of name, used as the
// uniqueness key for duplicate detection.
func FoldSheetName(name string) string {
	return foldCaser.String(name)
}

// ValidateSheetName checks name against the shape rules (non-empty after
// trimming, ≤31 UTF-16 code units, no forbidden characters, no leading or
// trailing apostrophe) and, when existingFolded is non-nil, checks
// name's Unicode-case-folded form against it for duplicates. It returns the
// trimmed name and a *SheetNameError (wrapped in a *mcperr.Error with code
// mcperr.InvalidSheet) on failure.
func ValidateSheetName(name string, existingFolded map[string]struct{}) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", sheetNameErr(&SheetNameError{Kind: EmptyName})
	}
	if unitCount(trimmed) > maxSheetNameUTF16Units {
		return "", sheetNameErr(&SheetNameError{Kind: TooLong})
	}
	if c := firstForbiddenChar(trimmed); c != 0 {
		return "", sheetNameErr(&SheetNameError{Kind: InvalidCharacter, Char: c})
	}
	if strings.HasPrefix(trimmed, "'") || strings.HasSuffix(trimmed, "'") {
		return "", sheetNameErr(&SheetNameError{Kind: LeadingOrTrailingApostrophe})
	}
	if existingFolded != nil {
		if _, dup := existingFolded[FoldSheetName(trimmed)]; dup {
			return "", sheetNameErr(&SheetNameError{Kind: DuplicateName})
		}
	}
	return trimmed, nil
}

func sheetNameErr(e *SheetNameError) error {
	return mcperr.Wrap(mcperr.InvalidSheet, e, "%s", e.Error())
}

func unitCount(s string) int {
	n := 0
	for _, r := range s {
		n += len(utf16.Encode([]rune{r}))
	}
	return n
}

func firstForbiddenChar(s string) rune {
	for _, r := range s {
		if strings.ContainsRune(forbiddenSheetNameChars, r) {
			return r
		}
	}
	return 0
}

// FoldedNameSet builds the existingFolded lookup ValidateSheetName expects
// from a slice of current sheet names.
func FoldedNameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[FoldSheetName(n)] = struct{}{}
	}
	return set
}
