package pagination

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCursorRoundTrips(t *testing.T) {
	c := Cursor{
		V:   1,
		Wid: "wb-123",
		S:   "Sheet1",
		R:   "A1:D100",
		U:   UnitRows,
		Off: 200,
		Ps:  1000,
	}
	tok, err := EncodeCursor(c)
	require.NoError(t, err)
	require.False(t, strings.ContainsAny(tok, "+/="))

	out, err := DecodeCursor(tok)
	require.NoError(t, err)
	require.Equal(t, c.Wid, out.Wid)
	require.Equal(t, c.S, out.S)
	require.Equal(t, c.R, out.R)
	require.Equal(t, c.U, out.U)
	require.Equal(t, c.Off, out.Off)
	require.Equal(t, c.Ps, out.Ps)
}

func TestDecodeCursorRejectsMalformedTokens(t *testing.T) {
	cases := []string{
		"",
		"!!!",
		mustB64(t, `not-json`),
		mustB64(t, `{"v":1}`),
		mustB64(t, `{"v":1,"wid":"x","s":"","r":"A1:B2","u":"cells","off":0,"ps":10}`),
		mustB64(t, `{"v":1,"wid":"x","s":"S","r":"A1","u":"bad","off":0,"ps":10}`),
		mustB64(t, `{"v":1,"wid":"x","s":"S","r":"A1","u":"rows","off":-1,"ps":10}`),
		mustB64(t, `{"v":1,"wid":"x","s":"S","r":"A1","u":"rows","off":0,"ps":0}`),
	}
	for _, tok := range cases {
		_, err := DecodeCursor(tok)
		require.Error(t, err)
	}
}

func TestNextOffsetAdvancesByPageSize(t *testing.T) {
	require.Equal(t, 50, NextOffset(0, 50))
	require.Equal(t, 0, NextOffset(0, -1)) // a non-positive page does not advance
	require.Equal(t, 150, NextOffset(100, 50))
}

func mustB64(t *testing.T, s string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}
