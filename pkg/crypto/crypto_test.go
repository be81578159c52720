package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultibaseRoundtrip(t *testing.T) {
	cases := [][]byte{
		{0x00},
		{0x00, 0x00, 0x01},
		{0xED, 0x01, 0xFF},
		[]byte("the quick brown fox"),
	}
	for _, c := range cases {
		enc := EncodeMultibase(c)
		assert.Equal(t, byte('z'), enc[0])
		dec, err := DecodeMultibase(enc)
		require.NoError(t, err)
		assert.Equal(t, c, dec)
	}
}

func TestDecodeMultibaseRejects(t *testing.T) {
	for _, s := range []string{"", "z", "x123", "z0OIl"} {
		_, err := DecodeMultibase(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestSignerKeyRoundtrip(t *testing.T) {
	signer, err := NewEd25519Signer("key-0")
	require.NoError(t, err)

	restored, err := NewSignerFromSecret(signer.SecretMultibase(), "key-0")
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKeyMultibase(), restored.PublicKeyMultibase())
}

func TestSignVerify(t *testing.T) {
	signer, err := NewEd25519Signer("key-0")
	require.NoError(t, err)

	msg := []byte("canonical payload")
	proof := EncodeMultibase(signer.Sign(msg))

	ok, err := Verify(signer.PublicKeyMultibase(), proof, msg)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(signer.PublicKeyMultibase(), proof, []byte("canonical payloaD"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassphraseDerivationIsDeterministic(t *testing.T) {
	a, err := NewSignerFromPassphrase("correct horse battery staple", "key-0")
	require.NoError(t, err)
	b, err := NewSignerFromPassphrase("correct horse battery staple", "key-0")
	require.NoError(t, err)
	c, err := NewSignerFromPassphrase("something else", "key-0")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKeyMultibase(), b.PublicKeyMultibase())
	assert.NotEqual(t, a.PublicKeyMultibase(), c.PublicKeyMultibase())

	_, err = NewSignerFromPassphrase("", "key-0")
	assert.Error(t, err)
}

func TestDecodePubkeyRejectsWrongPrefix(t *testing.T) {
	// A secret-key multicodec prefix is not a public key.
	signer, err := NewEd25519Signer("key-0")
	require.NoError(t, err)
	_, err = DecodePubkey(signer.SecretMultibase())
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedProof(t *testing.T) {
	signer, err := NewEd25519Signer("key-0")
	require.NoError(t, err)
	_, err = Verify(signer.PublicKeyMultibase(), "ztooshort", []byte("m"))
	assert.Error(t, err)
}
