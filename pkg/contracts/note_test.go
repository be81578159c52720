package contracts

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNote = `{
  "iscc_code": "ISCC:KACYPXW445FTYNJ3",
  "datahash": "1e20c7",
  "nonce": "001f00000000000000000000000000aa",
  "timestamp": "2025-08-04T12:34:56.789Z",
  "signature": {
    "version": "ISCC-SIG v1.0",
    "pubkey": "z6MkpFn1...",
    "proof": "z2a..."
  }
}`

func TestParseNotePreservesRawBytes(t *testing.T) {
	note, err := ParseNote([]byte(sampleNote))
	require.NoError(t, err)
	assert.Equal(t, sampleNote, string(note.Raw))
	assert.Equal(t, "ISCC:KACYPXW445FTYNJ3", note.IsccCode)
	assert.Equal(t, "ISCC-SIG v1.0", note.Signature.Version)
}

func TestParseNoteRejectsUnknownFields(t *testing.T) {
	_, err := ParseNote([]byte(`{"iscc_code":"x","surprise":true}`))
	assert.Error(t, err)
}

func TestParseNoteRejectsTrailingData(t *testing.T) {
	_, err := ParseNote([]byte(sampleNote + `{"again":1}`))
	assert.Error(t, err)
}

func TestParseNoteRejectsOversized(t *testing.T) {
	big := `{"iscc_code":"` + strings.Repeat("A", MaxNoteBytes) + `"}`
	_, err := ParseNote([]byte(big))
	assert.Error(t, err)
}

func TestParsedTimestamp(t *testing.T) {
	note, err := ParseNote([]byte(sampleNote))
	require.NoError(t, err)
	ts, err := note.ParsedTimestamp()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 4, 12, 34, 56, 789000000, time.UTC), ts.UTC())
}

func TestSubjectDID(t *testing.T) {
	note, err := ParseNote([]byte(sampleNote))
	require.NoError(t, err)
	assert.Equal(t, "did:key:z6MkpFn1...", note.SubjectDID())

	note.Signature.Controller = "did:web:claims.example.com"
	assert.Equal(t, "did:web:claims.example.com", note.SubjectDID())
}

func TestErrorHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindMalformed:      400,
		KindBadSignature:   401,
		KindDuplicateNonce: 409,
		KindStale:          410,
		KindFuture:         410,
		KindWrongHub:       422,
		KindBusy:           429,
		KindTransient:      500,
		KindClockExhausted: 503,
		KindNotFound:       404,
	}
	for kind, want := range cases {
		assert.Equal(t, want, NewError(kind, "", "x").HTTPStatus(), "kind %s", kind)
	}
}
