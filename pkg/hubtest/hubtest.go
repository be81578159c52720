// Package hubtest builds valid signed IsccNotes for tests, the way a
// self-sovereign keyholder would.
package hubtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iscc/iscc-hub-go/pkg/canonicalize"
	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/crypto"
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Keyholder is a client identity that signs declarations.
type Keyholder struct {
	priv ed25519.PrivateKey
	// Pubkey is the multikey form carried in note signatures.
	Pubkey string
}

// NewKeyholder creates a random client keypair.
func NewKeyholder() *Keyholder {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Keyholder{
		priv:   priv,
		Pubkey: crypto.EncodeMultibase(append([]byte{0xED, 0x01}, pub...)),
	}
}

// NoteOpts parameterizes a generated note.
type NoteOpts struct {
	ServerID  uint16
	Timestamp time.Time
	// NonceTail fills the nonce after the 12-bit server prefix; random
	// when empty.
	NonceTail string
	Gateway   string
	Units     []string
	Metahash  string
	// Tamper flips a byte of the proof after signing.
	Tamper bool
}

// SignedNote builds a well-formed, correctly signed note and returns its
// raw JSON bytes.
func (k *Keyholder) SignedNote(opts NoteOpts) []byte {
	content := make([]byte, 32)
	if _, err := rand.Read(content); err != nil {
		panic(err)
	}
	datahash := "1e20" + hex.EncodeToString(content)
	isccCode := SumCode(content)

	doc := map[string]any{
		"iscc_code": isccCode,
		"datahash":  datahash,
		"nonce":     Nonce(opts.ServerID, opts.NonceTail),
		"timestamp": opts.Timestamp.UTC().Format(contracts.TimestampLayout),
	}
	if opts.Gateway != "" {
		doc["gateway"] = opts.Gateway
	}
	if len(opts.Units) > 0 {
		doc["units"] = opts.Units
	}
	if opts.Metahash != "" {
		doc["metahash"] = opts.Metahash
	}
	doc["signature"] = map[string]any{
		"version": contracts.SignatureVersion,
		"pubkey":  k.Pubkey,
	}
	return k.sign(doc, opts.Tamper)
}

// Sign signs an arbitrary note document in place and returns the raw
// bytes, for malformed-input tests.
func (k *Keyholder) Sign(doc map[string]any) []byte {
	if _, ok := doc["signature"]; !ok {
		doc["signature"] = map[string]any{
			"version": contracts.SignatureVersion,
			"pubkey":  k.Pubkey,
		}
	}
	return k.sign(doc, false)
}

func (k *Keyholder) sign(doc map[string]any, tamper bool) []byte {
	unsigned, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	input, err := canonicalize.Raw(unsigned)
	if err != nil {
		panic(err)
	}
	sig := ed25519.Sign(k.priv, input)
	if tamper {
		sig[0] ^= 0xFF
	}
	doc["signature"].(map[string]any)["proof"] = crypto.EncodeMultibase(sig)
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return raw
}

// Nonce builds a 128-bit hex nonce whose first 12 bits name serverID.
func Nonce(serverID uint16, tail string) string {
	if tail == "" {
		b := make([]byte, 15)
		if _, err := rand.Read(b); err != nil {
			panic(err)
		}
		tail = hex.EncodeToString(b)[:29]
	}
	if len(tail) != 29 {
		panic(fmt.Sprintf("nonce tail must be 29 hex chars, got %d", len(tail)))
	}
	return fmt.Sprintf("%03x", serverID) + tail
}

// SumCode builds a composite ISCC-CODE of subtype SUM whose
// Instance-Code matches the first 64 bits of the given content hash.
func SumCode(contentHash []byte) string {
	body := make([]byte, 0, 18)
	body = append(body, 0x55, 0x00) // MainType ISCC, SubType SUM, V0
	dataUnit := make([]byte, 8)
	if _, err := rand.Read(dataUnit); err != nil {
		panic(err)
	}
	body = append(body, dataUnit...)
	body = append(body, contentHash[:8]...)
	return "ISCC:" + b32.EncodeToString(body)
}

// ContentUnit renders a 256-bit Content-Code ISCC-UNIT over the digest.
func ContentUnit(digest []byte) string {
	raw := append([]byte{0x20, 0x07}, digest[:32]...) // MainType CONTENT, SubType TEXT, V0, 256 bit
	return "ISCC:" + b32.EncodeToString(raw)
}
