package main

import (
	"fmt"
	"io"

	"github.com/iscc/iscc-hub-go/pkg/crypto"
)

// runKeygenCmd generates a fresh HUB keypair and prints both halves in
// multibase form. The secret goes into the seckey config option.
func runKeygenCmd(stdout, stderr io.Writer) int {
	signer, err := crypto.NewEd25519Signer("key-0")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "pubkey %s\nseckey %s\n",
		signer.PublicKeyMultibase(), signer.SecretMultibase())
	return 0
}
