package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeID(t *testing.T) {
	const tsUS = uint64(1754310896789000)
	id, err := EncodeID(tsUS, 1, RealmSandbox)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "ISCC:"))

	gotTS, gotSID, err := DecodeID(id)
	require.NoError(t, err)
	assert.Equal(t, tsUS, gotTS)
	assert.Equal(t, uint16(1), gotSID)
}

func TestEncodeIDComposition(t *testing.T) {
	// The decoded body must recompose as (ts << 12) | server_id.
	id, err := EncodeID(42, 4095, RealmOperational)
	require.NoError(t, err)
	body, err := DecodeIDBytes(id)
	require.NoError(t, err)
	var v uint64
	for _, b := range body {
		v = v<<8 | uint64(b)
	}
	assert.Equal(t, uint64(42)<<12|4095, v)
}

func TestEncodeIDLimits(t *testing.T) {
	_, err := EncodeID(MaxTimestamp, 0, RealmSandbox)
	assert.NoError(t, err)

	_, err = EncodeID(MaxTimestamp+1, 0, RealmSandbox)
	assert.Error(t, err)
}

func TestDecodeIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"MAIWGQRD43YZQUAA",      // missing prefix
		"ISCC:",                 // empty body
		"ISCC:????",             // bad alphabet
		"ISCC:AAAA",             // wrong length
		"ISCC:GABSG47DX77X7AAA", // wrong header
		"iscc:MAIWGQRD43YZQUAA", // lowercase scheme
	}
	for _, c := range cases {
		_, _, err := DecodeID(c)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", c)
	}
}

func TestIDFromBodyRoundtrip(t *testing.T) {
	id, err := EncodeID(1746171541264773, 0, RealmSandbox)
	require.NoError(t, err)
	body, err := DecodeIDBytes(id)
	require.NoError(t, err)
	assert.Equal(t, id, IDFromBody(body, RealmSandbox))
}

func sumCode(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 18)
	raw[0], raw[1] = 0x55, 0x00
	for i := 2; i < 18; i++ {
		raw[i] = byte(i)
	}
	return "ISCC:" + b32.EncodeToString(raw)
}

func TestParseCodeSum(t *testing.T) {
	code, err := ParseCode(sumCode(t))
	require.NoError(t, err)
	assert.Equal(t, 2, code.UnitCount())
	assert.Equal(t, []MainType{MTData, MTInstance}, code.UnitTypes)
	assert.False(t, code.Wide)
	assert.Len(t, code.InstanceDigest(), 8)
}

func TestParseCodeWithOptionalUnits(t *testing.T) {
	// SubType TEXT, length nibble 5: Meta + Content (+ Data + Instance).
	raw := make([]byte, 2+4*8)
	raw[0], raw[1] = 0x50, 0x05
	code, err := ParseCode("ISCC:" + b32.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, []MainType{MTMeta, MTContent, MTData, MTInstance}, code.UnitTypes)
	assert.True(t, code.HasUnit(MTMeta))
	assert.False(t, code.HasUnit(MTSemantic))
}

func TestParseCodeWide(t *testing.T) {
	raw := make([]byte, 2+32)
	raw[0], raw[1] = 0x57, 0x00
	code, err := ParseCode("ISCC:" + b32.EncodeToString(raw))
	require.NoError(t, err)
	assert.True(t, code.Wide)
	assert.Len(t, code.InstanceDigest(), 16)
}

func TestParseCodeRejectsNonComposite(t *testing.T) {
	// A 256-bit Instance-Code is a unit, not a composite.
	raw := append([]byte{0x40, 0x07}, make([]byte, 32)...)
	_, err := ParseCode("ISCC:" + b32.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseCodeRejectsBodyMismatch(t *testing.T) {
	raw := make([]byte, 2+8) // SUM needs 16 body bytes
	raw[0], raw[1] = 0x55, 0x00
	_, err := ParseCode("ISCC:" + b32.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseUnit(t *testing.T) {
	raw := append([]byte{0x20, 0x07}, make([]byte, 32)...)
	unit, err := ParseUnit("ISCC:" + b32.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, MTContent, unit.MainType)
	assert.Equal(t, 256, unit.Bits)
	assert.Len(t, unit.Digest, 32)
}

func TestParseUnitRejectsComposite(t *testing.T) {
	_, err := ParseUnit(sumCode(t))
	assert.ErrorIs(t, err, ErrMalformed)
}
