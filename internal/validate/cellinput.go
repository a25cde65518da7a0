package validate

import (
	"fmt"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// CoercedCell is the result of applying the scripted cell-input coercion
// rules to one JSON-decoded scalar: either a literal value (Value set,
// IsFormula false) or formula display text (Formula set, IsFormula true).
// Both are unset for a null input, meaning "clear to empty".
type CoercedCell struct {
	Value     any
	IsFormula bool
	Formula   string
	IsEmpty   bool
}

// CoerceCellInput applies the scripted cell-input coercion rules:
//   - nil -> empty cell.
//   - a string beginning with a single quote -> literal text of the remainder.
//   - a string whose trimmed form begins with '=' -> formula, normalized via
//     its display form (leading '=' and surrounding whitespace stripped);
//     normalizing to an empty formula body is rejected.
//   - bool or a numeric type -> that typed value, unchanged.
//   - any other scalar -> its string form.
func CoerceCellInput(input any) (CoercedCell, error) {
	if input == nil {
		return CoercedCell{IsEmpty: true}, nil
	}

	switch v := input.(type) {
	case string:
		if rest, ok := strings.CutPrefix(v, "'"); ok {
			return CoercedCell{Value: rest}, nil
		}
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "=") {
			formula := strings.TrimSpace(strings.TrimPrefix(trimmed, "="))
			if formula == "" {
				return CoercedCell{}, mcperr.New(mcperr.Validation, "formula body is empty after normalization")
			}
			return CoercedCell{IsFormula: true, Formula: formula}, nil
		}
		return CoercedCell{Value: v}, nil
	case bool, float64, int, int64, uint32:
		return CoercedCell{Value: v}, nil
	default:
		// Any other JSON scalar (arrays/objects never reach here; the RPC
		// dispatcher rejects non-scalar cell values before coercion).
		return CoercedCell{Value: fmt.Sprintf("%v", v)}, nil
	}
}
