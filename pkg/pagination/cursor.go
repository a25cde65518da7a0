// Package pagination implements the opaque, self-describing cursor used
// to page through large range reads without the caller having to track
// row/column offsets itself.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Unit is the counting unit a cursor's offset and page size are expressed in.
type Unit string

const (
	UnitCells Unit = "cells"
	UnitRows  Unit = "rows"
)

// Cursor is the canonical pagination token, pre-encoding. Field names are
// kept short since the struct is serialized to minified JSON and then
// base64-encoded into the wire token.
//
//   - v:   cursor schema version
//   - wid: workbook handle the cursor was issued for
//   - s:   sheet name
//   - r:   the normalized A1 range being paged (unqualified by sheet)
//   - u:   counting unit: "cells" or "rows"
//   - off: offset in unit from the start of the range
//   - ps:  page size in the chosen unit
//   - wbv: workbook revision the cursor was issued against, 0 if untracked
//   - iat: issued-at unix timestamp
type Cursor struct {
	V   int    `json:"v"`
	Wid string `json:"wid"`
	S   string `json:"s"`
	R   string `json:"r"`
	U   Unit   `json:"u"`
	Off int    `json:"off"`
	Ps  int    `json:"ps"`
	Wbv int64  `json:"wbv"`
	Iat int64  `json:"iat"`
}

// EncodeCursor validates c, serializes it to JSON, and returns a
// URL-safe, unpadded base64 token.
func EncodeCursor(c Cursor) (string, error) {
	if err := validate(&c); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor reverses EncodeCursor and re-validates the decoded cursor.
func DecodeCursor(token string) (*Cursor, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return nil, errors.New("pagination: empty cursor token")
	}
	data, err := base64.RawURLEncoding.DecodeString(t)
	if err != nil {
		return nil, fmt.Errorf("pagination: invalid base64 cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("pagination: invalid cursor json: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func validate(c *Cursor) error {
	if c.V <= 0 {
		c.V = 1
	}
	if c.Iat == 0 {
		c.Iat = time.Now().Unix()
	}
	if strings.TrimSpace(c.Wid) == "" {
		return errors.New("pagination: cursor missing workbook handle")
	}
	if strings.TrimSpace(c.S) == "" {
		return errors.New("pagination: cursor missing sheet name")
	}
	if strings.TrimSpace(c.R) == "" {
		return errors.New("pagination: cursor missing range")
	}
	switch c.U {
	case UnitCells, UnitRows:
	default:
		return fmt.Errorf("pagination: invalid cursor unit %q", string(c.U))
	}
	if c.Off < 0 {
		return errors.New("pagination: cursor offset must be >= 0")
	}
	if c.Ps <= 0 {
		return errors.New("pagination: cursor page size must be > 0")
	}
	if c.Wbv < 0 {
		c.Wbv = 0
	}
	return nil
}

// NextOffset returns the offset to resume from after a page of n units
// has been returned starting at curr.
func NextOffset(curr, n int) int {
	if curr < 0 {
		curr = 0
	}
	if n <= 0 {
		return curr
	}
	return curr + n
}
