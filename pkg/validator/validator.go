// Package validator admits or rejects IsccNotes before sequencing.
//
// Checks run in a fixed order and the first failure is returned: shape,
// format, nonce-prefix, clock-skew, gateway, units, signature. Validation
// never touches the event store.
package validator

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/iscc/iscc-hub-go/pkg/canonicalize"
	"github.com/iscc/iscc-hub-go/pkg/codec"
	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/crypto"
)

const (
	datahashPrefix = "1e20"
	hashLength     = 68
	nonceLength    = 32
)

// gatewayVariables are the RFC 6570 variables a gateway template may use.
var gatewayVariables = map[string]bool{
	"iscc_id":   true,
	"iscc_code": true,
	"pubkey":    true,
	"datahash":  true,
}

// Validator checks declarations against this HUB's identity and clock.
type Validator struct {
	serverID uint16
	skew     time.Duration
	now      func() time.Time
}

// Option customizes a Validator.
type Option func(*Validator)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a Validator for the given server-id and clock-skew
// tolerance.
func New(serverID uint16, skew time.Duration, opts ...Option) *Validator {
	v := &Validator{serverID: serverID, skew: skew, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate runs the full admission pipeline on a parsed note. A nil
// return means the note is admissible; otherwise the returned error is a
// *contracts.Error describing the first failure.
func (v *Validator) Validate(note *contracts.IsccNote) error {
	if err := v.checkShape(note); err != nil {
		return err
	}
	code, err := v.checkFormats(note)
	if err != nil {
		return err
	}
	if err := v.checkNoncePrefix(note.Nonce); err != nil {
		return err
	}
	if err := v.checkClockSkew(note.Timestamp); err != nil {
		return err
	}
	if note.Gateway != "" {
		if err := checkGateway(note.Gateway); err != nil {
			return err
		}
	}
	if len(note.Units) > 0 {
		if err := checkUnits(note.Units, code); err != nil {
			return err
		}
	}
	return v.checkSignature(note)
}

// checkShape validates the closed note schema against the raw document.
func (v *Validator) checkShape(note *contracts.IsccNote) error {
	dec := json.NewDecoder(bytes.NewReader(note.Raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return contracts.WrapError(contracts.KindMalformed, "", "invalid JSON", err)
	}
	if err := compiledNoteSchema.Validate(doc); err != nil {
		return contracts.WrapError(contracts.KindMalformed, "", fmt.Sprintf("schema violation: %v", err), err)
	}
	if note.Signature.Version != contracts.SignatureVersion {
		return contracts.NewError(contracts.KindMalformed, "signature.version",
			fmt.Sprintf("expected %q", contracts.SignatureVersion))
	}
	return nil
}

// checkFormats validates the individual field encodings and the
// datahash/Instance-Code cross check. Returns the parsed composite code
// for the later units check.
func (v *Validator) checkFormats(note *contracts.IsccNote) (*codec.Code, error) {
	code, err := codec.ParseCode(note.IsccCode)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindMalformed, "iscc_code", "not a composite ISCC-CODE", err)
	}
	if err := checkMultihash(note.Datahash, "datahash"); err != nil {
		return nil, err
	}
	if note.Metahash != "" {
		if err := checkMultihash(note.Metahash, "metahash"); err != nil {
			return nil, err
		}
	}
	if err := checkHex(note.Nonce, "nonce", nonceLength); err != nil {
		return nil, err
	}
	if _, err := time.Parse(contracts.TimestampLayout, note.Timestamp); err != nil {
		return nil, contracts.NewError(contracts.KindMalformed, "timestamp",
			"must be RFC 3339 UTC with millisecond precision and Z suffix")
	}

	// The Instance-Code portion of the composite must match the leading
	// bytes of the declared datahash (64 bits, 128 for WIDE codes).
	digest, _ := hex.DecodeString(note.Datahash[4:])
	instance := code.InstanceDigest()
	if !bytes.Equal(instance, digest[:len(instance)]) {
		return nil, contracts.NewError(contracts.KindMalformed, "datahash",
			"does not match the Instance-Code portion of iscc_code")
	}
	return code, nil
}

// checkNoncePrefix verifies the first 12 bits of the nonce name this HUB.
func (v *Validator) checkNoncePrefix(nonce string) error {
	raw, _ := hex.DecodeString(nonce)
	got := uint16(raw[0])<<4 | uint16(raw[1])>>4
	if got != v.serverID {
		return contracts.NewError(contracts.KindWrongHub, "nonce",
			fmt.Sprintf("nonce targets server-id %d, this HUB is %d", got, v.serverID))
	}
	return nil
}

// checkClockSkew enforces the declaration timestamp tolerance window.
func (v *Validator) checkClockSkew(ts string) error {
	t, _ := time.Parse(contracts.TimestampLayout, ts)
	now := v.now().UTC()
	diff := now.Sub(t)
	switch {
	case diff > v.skew:
		return contracts.NewError(contracts.KindStale, "timestamp",
			fmt.Sprintf("timestamp is %s behind HUB time, tolerance is %s", diff.Round(time.Second), v.skew))
	case -diff > v.skew:
		return contracts.NewError(contracts.KindFuture, "timestamp",
			fmt.Sprintf("timestamp is %s ahead of HUB time, tolerance is %s", (-diff).Round(time.Second), v.skew))
	}
	return nil
}

// checkSignature verifies the Ed25519 proof over the canonical signing
// input reproduced from the received bytes.
func (v *Validator) checkSignature(note *contracts.IsccNote) error {
	input, err := canonicalize.SigningInput(note.Raw)
	if err != nil {
		return contracts.WrapError(contracts.KindMalformed, "signature", "cannot canonicalize note", err)
	}
	ok, err := crypto.Verify(note.Signature.Pubkey, note.Signature.Proof, input)
	if err != nil {
		return contracts.WrapError(contracts.KindBadSignature, "signature", "malformed key or proof", err)
	}
	if !ok {
		return contracts.NewError(contracts.KindBadSignature, "signature", "Ed25519 verification failed")
	}
	return nil
}

func checkMultihash(value, field string) error {
	if value != strings.ToLower(value) {
		return contracts.NewError(contracts.KindMalformed, field, "must be lowercase")
	}
	if !strings.HasPrefix(value, datahashPrefix) {
		return contracts.NewError(contracts.KindMalformed, field,
			fmt.Sprintf("must start with %q (blake3 multihash prefix)", datahashPrefix))
	}
	return checkHex(value, field, hashLength)
}

func checkHex(value, field string, length int) error {
	if value != strings.ToLower(value) {
		return contracts.NewError(contracts.KindMalformed, field, "must be lowercase")
	}
	if len(value) != length {
		return contracts.NewError(contracts.KindMalformed, field,
			fmt.Sprintf("must be exactly %d characters", length))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return contracts.NewError(contracts.KindMalformed, field, "must be hexadecimal")
	}
	return nil
}

// checkGateway accepts an absolute http(s) URL or an RFC 6570 template
// restricted to the supported variables.
func checkGateway(gateway string) error {
	if gateway != strings.TrimSpace(gateway) {
		return contracts.NewError(contracts.KindMalformed, "gateway", "must not contain surrounding whitespace")
	}
	if strings.Count(gateway, "{") != strings.Count(gateway, "}") {
		return contracts.NewError(contracts.KindMalformed, "gateway", "unbalanced URI template braces")
	}
	vars, err := templateVariables(gateway)
	if err != nil {
		return contracts.NewError(contracts.KindMalformed, "gateway", err.Error())
	}
	for _, name := range vars {
		if !gatewayVariables[name] {
			return contracts.NewError(contracts.KindMalformed, "gateway",
				fmt.Sprintf("unsupported template variable %q", name))
		}
	}
	// With variables substituted out, the remainder must still be an
	// absolute http(s) URL.
	plain := gateway
	for {
		open := strings.Index(plain, "{")
		if open < 0 {
			break
		}
		end := strings.Index(plain[open:], "}")
		if end < 0 {
			return contracts.NewError(contracts.KindMalformed, "gateway", "invalid URI template syntax")
		}
		plain = plain[:open] + "x" + plain[open+end+1:]
	}
	u, err := url.Parse(plain)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return contracts.NewError(contracts.KindMalformed, "gateway",
			"must be an absolute http(s) URL or URI template")
	}
	return nil
}

// templateVariables extracts RFC 6570 variable names, stripping operators
// and value modifiers.
func templateVariables(template string) ([]string, error) {
	var names []string
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			return names, nil
		}
		end := strings.Index(rest[open:], "}")
		if end < 0 {
			return nil, fmt.Errorf("invalid URI template syntax")
		}
		expr := rest[open+1 : open+end]
		rest = rest[open+end+1:]
		_, vars, err := parseExpression(expr)
		if err != nil {
			return nil, err
		}
		names = append(names, vars...)
	}
}

// parseExpression splits one RFC 6570 expression into its operator (0
// for simple expansion) and variable names, stripping the explode and
// prefix modifiers. Validation and expansion both go through here so a
// template is expanded exactly as it was admitted.
func parseExpression(expr string) (byte, []string, error) {
	if expr == "" {
		return 0, nil, fmt.Errorf("invalid URI template syntax")
	}
	var op byte
	if strings.ContainsRune("+#./;?&", rune(expr[0])) {
		op = expr[0]
		expr = expr[1:]
	}
	var names []string
	for _, name := range strings.Split(expr, ",") {
		name = strings.TrimSuffix(name, "*")
		if i := strings.Index(name, ":"); i >= 0 {
			name = name[:i]
		}
		if name == "" {
			return 0, nil, fmt.Errorf("invalid URI template syntax")
		}
		names = append(names, name)
	}
	return op, names, nil
}

// ExpandTemplate substitutes variables into a gateway template that
// passed checkGateway, covering the expression forms validation
// accepts. Plain URLs come back unchanged; expressions whose variables
// all miss the value map expand to nothing.
func ExpandTemplate(template string, values map[string]string) string {
	var out strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.Index(rest[open:], "}")
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:open])
		out.WriteString(expandExpression(rest[open+1:open+end], values))
		rest = rest[open+end+1:]
	}
}

func expandExpression(expr string, values map[string]string) string {
	op, names, err := parseExpression(expr)
	if err != nil {
		return ""
	}
	var parts []string
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			continue
		}
		switch op {
		case '+', '#':
			parts = append(parts, value)
		case ';', '?', '&':
			parts = append(parts, name+"="+url.QueryEscape(value))
		default:
			parts = append(parts, url.PathEscape(value))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	switch op {
	case '#':
		return "#" + strings.Join(parts, ",")
	case '.':
		return "." + strings.Join(parts, ".")
	case '/':
		return "/" + strings.Join(parts, "/")
	case ';':
		return ";" + strings.Join(parts, ";")
	case '?':
		return "?" + strings.Join(parts, "&")
	case '&':
		return "&" + strings.Join(parts, "&")
	default:
		return strings.Join(parts, ",")
	}
}

// checkUnits verifies each entry decodes as an ISCC-UNIT whose main type
// is present in the composite code. Ordering and completeness are not
// enforced.
func checkUnits(units []string, code *codec.Code) error {
	for i, u := range units {
		unit, err := codec.ParseUnit(u)
		if err != nil {
			return contracts.WrapError(contracts.KindMalformed, "units",
				fmt.Sprintf("units[%d] is not a valid ISCC-UNIT", i), err)
		}
		if !code.HasUnit(unit.MainType) {
			return contracts.NewError(contracts.KindMalformed, "units",
				fmt.Sprintf("units[%d] main type %d is not part of iscc_code", i, unit.MainType))
		}
	}
	return nil
}
