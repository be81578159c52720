package crypto

import (
	"errors"
	"fmt"
	"math/big"
)

// Multibase base58-btc wire forms used by ISCC-SIG v1.0:
//
//	pubkey: "z" + base58btc(0xED 0x01 || 32-byte Ed25519 public key)
//	seckey: "z" + base58btc(0x80 0x26 || 32-byte Ed25519 seed)
//	proof:  "z" + base58btc(64-byte Ed25519 signature)

const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	errMultibase = errors.New("invalid multibase value")

	b58Index [256]int8
)

func init() {
	for i := range b58Index {
		b58Index[i] = -1
	}
	for i := 0; i < len(b58Alphabet); i++ {
		b58Index[b58Alphabet[i]] = int8(i)
	}
}

// multicodec prefixes per the multiformats table.
var (
	ed25519PubPrefix  = []byte{0xED, 0x01}
	ed25519PrivPrefix = []byte{0x80, 0x26}
)

func base58Encode(b []byte) string {
	zeros := 0
	for zeros < len(b) && b[zeros] == 0 {
		zeros++
	}
	n := new(big.Int).SetBytes(b)
	radix := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append(out, b58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, b58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, errMultibase
	}
	zeros := 0
	for zeros < len(s) && s[zeros] == b58Alphabet[0] {
		zeros++
	}
	n := new(big.Int)
	radix := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		d := b58Index[s[i]]
		if d < 0 {
			return nil, fmt.Errorf("%w: character %q", errMultibase, s[i])
		}
		n.Mul(n, radix)
		n.Add(n, big.NewInt(int64(d)))
	}
	body := n.Bytes()
	out := make([]byte, zeros+len(body))
	copy(out[zeros:], body)
	return out, nil
}

// EncodeMultibase renders bytes as a multibase base58-btc string.
func EncodeMultibase(b []byte) string {
	return "z" + base58Encode(b)
}

// DecodeMultibase parses a multibase base58-btc string.
func DecodeMultibase(s string) ([]byte, error) {
	if len(s) < 2 || s[0] != 'z' {
		return nil, fmt.Errorf("%w: must start with 'z'", errMultibase)
	}
	return base58Decode(s[1:])
}

func stripPrefix(b, prefix []byte, want int) ([]byte, error) {
	if len(b) != len(prefix)+want {
		return nil, fmt.Errorf("%w: wrong length %d", errMultibase, len(b))
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return nil, fmt.Errorf("%w: wrong multicodec prefix", errMultibase)
		}
	}
	return b[len(prefix):], nil
}
