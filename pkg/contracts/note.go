// Package contracts defines the shared domain types of the HUB: the
// client-submitted IsccNote, the server-minted Event, the IsccReceipt
// verifiable credential, and the error taxonomy.
package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SignatureVersion is the pinned ISCC-SIG version accepted by this HUB.
const SignatureVersion = "ISCC-SIG v1.0"

// TimestampLayout is the RFC 3339 UTC millisecond form required for the
// client-side declaration timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// MaxNoteBytes bounds the serialized IsccNote size.
const MaxNoteBytes = 8192

// Signature is the Ed25519 signature record attached to an IsccNote.
type Signature struct {
	Version    string `json:"version"`
	Controller string `json:"controller,omitempty"`
	KeyID      string `json:"keyid,omitempty"`
	Pubkey     string `json:"pubkey"`
	Proof      string `json:"proof"`
}

// IsccNote is a signed content declaration as submitted by a keyholder.
// It is immutable once received; Raw retains the received bytes so the
// signing input can be reproduced exactly.
type IsccNote struct {
	IsccCode  string    `json:"iscc_code"`
	Datahash  string    `json:"datahash"`
	Nonce     string    `json:"nonce"`
	Timestamp string    `json:"timestamp"`
	Gateway   string    `json:"gateway,omitempty"`
	Units     []string  `json:"units,omitempty"`
	Metahash  string    `json:"metahash,omitempty"`
	Signature Signature `json:"signature"`

	// Raw is the note exactly as received. Never re-serialize Raw from
	// the decoded fields; receipts and signature checks depend on it.
	Raw json.RawMessage `json:"-"`
}

// ParseNote decodes raw bytes into an IsccNote while retaining the
// original byte form. Unknown fields and non-object payloads are
// rejected; field-level semantics are the validator's job.
func ParseNote(raw []byte) (*IsccNote, error) {
	if len(raw) > MaxNoteBytes {
		return nil, fmt.Errorf("note exceeds maximum size of %d bytes", MaxNoteBytes)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var n IsccNote
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("invalid note: %w", err)
	}
	// Trailing data after the object is not a valid note.
	if dec.More() {
		return nil, fmt.Errorf("invalid note: trailing data after JSON object")
	}
	n.Raw = append(json.RawMessage(nil), raw...)
	return &n, nil
}

// ParsedTimestamp parses the client declaration timestamp. The validator
// guarantees the layout for admitted notes.
func (n *IsccNote) ParsedTimestamp() (time.Time, error) {
	return time.Parse(TimestampLayout, n.Timestamp)
}

// SubjectDID derives the declaring party's DID: the signature controller
// when present, otherwise did:key from the public key.
func (n *IsccNote) SubjectDID() string {
	if n.Signature.Controller != "" {
		return n.Signature.Controller
	}
	return "did:key:" + n.Signature.Pubkey
}
