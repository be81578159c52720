package validator

import (
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/hubtest"
)

var hubClock = time.Date(2025, 8, 4, 12, 34, 56, 789000000, time.UTC)

func newValidator(serverID uint16) *Validator {
	return New(serverID, 10*time.Minute, WithClock(func() time.Time { return hubClock }))
}

func parse(t *testing.T, raw []byte) *contracts.IsccNote {
	t.Helper()
	note, err := contracts.ParseNote(raw)
	require.NoError(t, err)
	return note
}

func kindOf(t *testing.T, err error) contracts.Kind {
	t.Helper()
	require.Error(t, err)
	return contracts.AsError(err).Kind
}

func TestValidateHappyPath(t *testing.T) {
	k := hubtest.NewKeyholder()
	raw := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: hubClock})
	assert.NoError(t, newValidator(1).Validate(parse(t, raw)))
}

func TestValidateWrongHub(t *testing.T) {
	k := hubtest.NewKeyholder()
	raw := k.SignedNote(hubtest.NoteOpts{ServerID: 2, Timestamp: hubClock})
	err := newValidator(1).Validate(parse(t, raw))
	assert.Equal(t, contracts.KindWrongHub, kindOf(t, err))
}

func TestValidateStaleAndFuture(t *testing.T) {
	k := hubtest.NewKeyholder()

	stale := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: hubClock.Add(-94 * time.Minute)})
	err := newValidator(1).Validate(parse(t, stale))
	assert.Equal(t, contracts.KindStale, kindOf(t, err))

	future := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: hubClock.Add(11 * time.Minute)})
	err = newValidator(1).Validate(parse(t, future))
	assert.Equal(t, contracts.KindFuture, kindOf(t, err))

	// Exactly at the tolerance boundary is accepted.
	edge := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: hubClock.Add(-10 * time.Minute)})
	assert.NoError(t, newValidator(1).Validate(parse(t, edge)))
}

func TestValidateBadSignature(t *testing.T) {
	k := hubtest.NewKeyholder()
	raw := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: hubClock, Tamper: true})
	err := newValidator(1).Validate(parse(t, raw))
	assert.Equal(t, contracts.KindBadSignature, kindOf(t, err))
}

func TestValidateSignatureBindsContent(t *testing.T) {
	// Re-signing intact bytes verifies; altering any signed field breaks
	// verification.
	k := hubtest.NewKeyholder()
	raw := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: hubClock})
	note := parse(t, raw)
	require.NoError(t, newValidator(1).Validate(note))

	tampered := []byte(string(raw))
	for i := range tampered {
		if tampered[i] == '1' {
			tampered[i] = '2'
			break
		}
	}
	mutNote, err := contracts.ParseNote(tampered)
	if err != nil {
		t.Skip("mutation hit structural JSON")
	}
	err = newValidator(1).Validate(mutNote)
	assert.Error(t, err)
}

func TestValidateMalformedFields(t *testing.T) {
	k := hubtest.NewKeyholder()
	base := func() map[string]any {
		content := make([]byte, 32)
		_, _ = rand.Read(content)
		return map[string]any{
			"iscc_code": hubtest.SumCode(content),
			"datahash":  "1e20" + hex.EncodeToString(content),
			"nonce":     hubtest.Nonce(1, ""),
			"timestamp": hubClock.Format(contracts.TimestampLayout),
		}
	}

	cases := map[string]func(doc map[string]any){
		"uppercase datahash": func(d map[string]any) { d["datahash"] = "1E20" + d["datahash"].(string)[4:] },
		"short datahash":     func(d map[string]any) { d["datahash"] = "1e20abcd" },
		"wrong prefix":       func(d map[string]any) { d["datahash"] = "1f20" + d["datahash"].(string)[4:] },
		"short nonce":        func(d map[string]any) { d["nonce"] = "001f" },
		"non-hex nonce":      func(d map[string]any) { d["nonce"] = "zz" + d["nonce"].(string)[2:] },
		"no ms precision":    func(d map[string]any) { d["timestamp"] = "2025-08-04T12:34:56Z" },
		"offset timezone":    func(d map[string]any) { d["timestamp"] = "2025-08-04T12:34:56.789+00:00" },
		"bad iscc code":      func(d map[string]any) { d["iscc_code"] = "ISCC:????" },
		"empty gateway":      func(d map[string]any) { d["gateway"] = "" },
		"relative gateway":   func(d map[string]any) { d["gateway"] = "/resolve/{iscc_id}" },
		"ftp gateway":        func(d map[string]any) { d["gateway"] = "ftp://example.com/{iscc_id}" },
		"unknown variable":   func(d map[string]any) { d["gateway"] = "https://example.com/{foo}" },
		"unbalanced braces":  func(d map[string]any) { d["gateway"] = "https://example.com/{iscc_id" },
		"stray close brace":  func(d map[string]any) { d["gateway"] = "}https://example.com/{iscc_id}" },
		"empty units":        func(d map[string]any) { d["units"] = []string{} },
		"bad unit":           func(d map[string]any) { d["units"] = []string{"ISCC:????"} },
		"bad metahash":       func(d map[string]any) { d["metahash"] = "not-a-hash" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := base()
			mutate(doc)
			raw := k.Sign(doc)
			note, err := contracts.ParseNote(raw)
			if err != nil {
				return // rejected even earlier, fine
			}
			err = newValidator(1).Validate(note)
			assert.Equal(t, contracts.KindMalformed, kindOf(t, err))
		})
	}
}

func TestValidateDatahashMismatch(t *testing.T) {
	k := hubtest.NewKeyholder()
	content := make([]byte, 32)
	_, _ = rand.Read(content)
	other := make([]byte, 32)
	_, _ = rand.Read(other)
	doc := map[string]any{
		"iscc_code": hubtest.SumCode(content),
		"datahash":  "1e20" + hex.EncodeToString(other),
		"nonce":     hubtest.Nonce(1, ""),
		"timestamp": hubClock.Format(contracts.TimestampLayout),
	}
	err := newValidator(1).Validate(parse(t, k.Sign(doc)))
	require.Error(t, err)
	typed := contracts.AsError(err)
	assert.Equal(t, contracts.KindMalformed, typed.Kind)
	assert.Equal(t, "datahash", typed.Field)
}

func TestValidateSignatureVersionPinned(t *testing.T) {
	k := hubtest.NewKeyholder()
	content := make([]byte, 32)
	_, _ = rand.Read(content)
	doc := map[string]any{
		"iscc_code": hubtest.SumCode(content),
		"datahash":  "1e20" + hex.EncodeToString(content),
		"nonce":     hubtest.Nonce(1, ""),
		"timestamp": hubClock.Format(contracts.TimestampLayout),
		"signature": map[string]any{
			"version": "ISCC-SIG v0.9",
			"pubkey":  k.Pubkey,
		},
	}
	err := newValidator(1).Validate(parse(t, k.Sign(doc)))
	assert.Equal(t, contracts.KindMalformed, kindOf(t, err))
}

func TestValidateGatewayTemplates(t *testing.T) {
	k := hubtest.NewKeyholder()
	valid := []string{
		"https://example.com/resolve",
		"https://example.com/{iscc_id}",
		"https://example.com/{iscc_id}/meta{?datahash,pubkey}",
		"http://example.com/c/{iscc_code}",
	}
	for _, g := range valid {
		raw := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: hubClock, Gateway: g})
		assert.NoError(t, newValidator(1).Validate(parse(t, raw)), "gateway %q", g)
	}
}

func TestExpandTemplateMatchesValidation(t *testing.T) {
	values := map[string]string{
		"iscc_id":   "ISCC:MAIWGQRD43YZQUAA",
		"iscc_code": "ISCC:KACYPXW445FTYNJ3",
		"pubkey":    "z6MkpFn1",
		"datahash":  "1e20c7",
	}

	cases := map[string]string{
		"https://example.com/resolve":                  "https://example.com/resolve",
		"https://example.com/{iscc_id}":                "https://example.com/ISCC:MAIWGQRD43YZQUAA",
		"https://example.com/{+iscc_id}":               "https://example.com/ISCC:MAIWGQRD43YZQUAA",
		"https://example.com/r{/iscc_id}":              "https://example.com/r/ISCC:MAIWGQRD43YZQUAA",
		"https://example.com/r{?datahash,pubkey}":      "https://example.com/r?datahash=1e20c7&pubkey=z6MkpFn1",
		"https://example.com/r?x=1{&datahash}":         "https://example.com/r?x=1&datahash=1e20c7",
		"https://example.com/{iscc_code}{#iscc_id}":    "https://example.com/ISCC:KACYPXW445FTYNJ3#ISCC:MAIWGQRD43YZQUAA",
		"https://example.com/{iscc_id}/meta":           "https://example.com/ISCC:MAIWGQRD43YZQUAA/meta",
	}
	for template, want := range cases {
		// Everything expanded must have been admissible as a gateway.
		require.NoError(t, checkGateway(template), "gateway %q", template)
		assert.Equal(t, want, ExpandTemplate(template, values), "template %q", template)
	}
}

func TestExpandTemplateDropsMissingVariables(t *testing.T) {
	// Variables missing from the value map expand to nothing rather than
	// surviving as literal template text.
	got := ExpandTemplate("https://example.com/{iscc_id}", map[string]string{})
	assert.Equal(t, "https://example.com/", got)
}

func TestValidateUnitsPresence(t *testing.T) {
	k := hubtest.NewKeyholder()
	content := make([]byte, 32)
	_, _ = rand.Read(content)

	// A SUM composite has no Content unit, so declaring one is rejected.
	doc := map[string]any{
		"iscc_code": hubtest.SumCode(content),
		"datahash":  "1e20" + hex.EncodeToString(content),
		"nonce":     hubtest.Nonce(1, ""),
		"timestamp": hubClock.Format(contracts.TimestampLayout),
		"units":     []string{hubtest.ContentUnit(content)},
	}
	err := newValidator(1).Validate(parse(t, k.Sign(doc)))
	assert.Equal(t, contracts.KindMalformed, kindOf(t, err))
}

func TestValidateUnknownFieldRejected(t *testing.T) {
	k := hubtest.NewKeyholder()
	content := make([]byte, 32)
	_, _ = rand.Read(content)
	doc := map[string]any{
		"iscc_code": hubtest.SumCode(content),
		"datahash":  "1e20" + hex.EncodeToString(content),
		"nonce":     hubtest.Nonce(1, ""),
		"timestamp": hubClock.Format(contracts.TimestampLayout),
		"extra":     "field",
	}
	_, err := contracts.ParseNote(k.Sign(doc))
	assert.Error(t, err)
}
