package validate

import (
	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// RangeBounds is a zero-based, inclusive row/column rectangle as received
// over the scripting RPC wire, before it is translated into model.Range.
type RangeBounds struct {
	StartRow, StartCol uint64
	EndRow, EndCol     uint64
}

// EnforceRangeLimits validates that b is not inverted and fits within the
// configured per-axis (config.MaxRangeDim) and per-call
// (config.MaxRangeCellsPerCall) bounds. The per-axis check compares each
// span before adding 1, and the cell product is taken only once both axes
// are bounded, so a pathological near-MaxUint64 input cannot wrap around
// and slip past the checks. It returns the validated (rowCount, colCount)
// pair.
func EnforceRangeLimits(b RangeBounds) (rowCount, colCount uint64, err error) {
	if b.StartRow > b.EndRow || b.StartCol > b.EndCol {
		return 0, 0, mcperr.New(mcperr.InvalidRange,
			"range [%d,%d]-[%d,%d] is inverted", b.StartRow, b.StartCol, b.EndRow, b.EndCol)
	}

	rowSpan := b.EndRow - b.StartRow
	colSpan := b.EndCol - b.StartCol
	if rowSpan >= config.MaxRangeDim || colSpan >= config.MaxRangeDim {
		return 0, 0, mcperr.New(mcperr.RangeDimensionTooBig,
			"range exceeds the per-axis limit of %d rows or columns", config.MaxRangeDim)
	}

	rowCount = rowSpan + 1
	colCount = colSpan + 1

	// rowCount and colCount are both bounded by MaxRangeDim here, so their
	// product fits comfortably in a uint64; no overflow is possible.
	cellCount := rowCount * colCount
	if cellCount > config.MaxRangeCellsPerCall {
		return 0, 0, mcperr.New(mcperr.RangeTooLarge,
			"range covers %d cells; the per-call limit is %d", cellCount, config.MaxRangeCellsPerCall)
	}

	return rowCount, colCount, nil
}
