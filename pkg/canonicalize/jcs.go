// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization for the byte-exact signing inputs of IsccNotes
// and IsccReceipts.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is marshaled with the standard encoder first so struct tags are
// respected, then transformed: keys sorted by UTF-16 code units, no HTML
// escaping, ECMAScript number formatting.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// Raw canonicalizes a raw JSON document without an intermediate decode,
// preserving the exact value forms the client serialized.
func Raw(doc []byte) ([]byte, error) {
	out, err := jcs.Transform(doc)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 digest of the canonical form of v.
func CanonicalHash(v any) ([32]byte, error) {
	b, err := JCS(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// HashHex returns the SHA-256 hex digest of raw bytes.
func HashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SigningInput derives the signing input for an ISCC-SIG v1.0 signature
// from the raw JSON document as received: the document with the
// signature.proof member removed, in RFC 8785 canonical form.
//
// It operates on the received bytes rather than a re-serialization of
// decoded structs, so the bytes the client signed are reproduced exactly.
func SigningInput(doc []byte) ([]byte, error) {
	top, err := decodeObject(doc)
	if err != nil {
		return nil, err
	}
	rawSig, ok := top["signature"]
	if !ok {
		return nil, fmt.Errorf("canonicalize: document has no signature member")
	}
	sig, err := decodeObject(rawSig)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: signature: %w", err)
	}
	delete(sig, "proof")
	sigBytes, err := encodeObject(sig)
	if err != nil {
		return nil, err
	}
	top["signature"] = sigBytes
	docBytes, err := encodeObject(top)
	if err != nil {
		return nil, err
	}
	return Raw(docBytes)
}

// decodeObject splits one JSON object into its raw members. Member values
// stay as received, so nested number and string forms are untouched.
func decodeObject(doc []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var m map[string]json.RawMessage
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("canonicalize: not a JSON object: %w", err)
	}
	return m, nil
}

func encodeObject(m map[string]json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
