// Package receipt issues IsccReceipts: W3C Verifiable Credentials that
// bind an admitted declaration to its minted ISCC-ID, signed by the HUB
// key with an eddsa-jcs-2022 Data Integrity proof.
//
// A receipt is a pure function of the committed event. Re-issuing for the
// same event yields byte-identical output, so receipts are rebuilt on
// demand rather than stored.
package receipt

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/iscc/iscc-hub-go/pkg/canonicalize"
	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/crypto"
)

// Issuer signs receipts on behalf of one HUB identity.
type Issuer struct {
	signer crypto.Signer
	did    string
}

// NewIssuer creates an Issuer. domain names the HUB for the did:web
// issuer identity.
func NewIssuer(signer crypto.Signer, domain string) *Issuer {
	return &Issuer{signer: signer, did: "did:web:" + domain}
}

// DID returns the HUB's issuer DID.
func (i *Issuer) DID() string { return i.did }

// VerificationMethod returns the DID URL of the HUB signing key.
func (i *Issuer) VerificationMethod() string {
	keyID := i.signer.KeyID()
	if keyID == "" {
		keyID = i.signer.PublicKeyMultibase()
	}
	return i.did + "#" + keyID
}

// Issue builds the signed IsccReceipt for a committed event.
func (i *Issuer) Issue(ev *contracts.Event) (*contracts.IsccReceipt, error) {
	note, err := contracts.ParseNote(ev.Note)
	if err != nil {
		return nil, fmt.Errorf("issue receipt: stored note: %w", err)
	}

	vc := &contracts.IsccReceipt{
		Context:      []string{contracts.VCContext},
		Type:         []string{"VerifiableCredential", "IsccReceipt"},
		Issuer:       i.did,
		IssuanceDate: issuanceDate(ev.TsUS),
		CredentialSubject: contracts.CredentialSubject{
			ID: note.SubjectDID(),
			Declaration: contracts.Declaration{
				Seq:      ev.Seq,
				IsccID:   ev.IsccID,
				TsUS:     ev.TsUS,
				IsccNote: ev.Note,
			},
		},
	}

	proof := &contracts.Proof{
		Type:               "DataIntegrityProof",
		Cryptosuite:        "eddsa-jcs-2022",
		Created:            vc.IssuanceDate,
		VerificationMethod: i.VerificationMethod(),
		ProofPurpose:       "assertionMethod",
	}
	input, err := signingInput(vc, proof)
	if err != nil {
		return nil, fmt.Errorf("issue receipt: %w", err)
	}
	proof.ProofValue = crypto.EncodeMultibase(i.signer.Sign(input))
	vc.Proof = proof
	return vc, nil
}

// Verify checks a receipt's Data Integrity proof against a multikey
// public key.
func Verify(vc *contracts.IsccReceipt, pubkey string) (bool, error) {
	if vc.Proof == nil {
		return false, fmt.Errorf("receipt has no proof")
	}
	proof := *vc.Proof
	proofValue := proof.ProofValue
	proof.ProofValue = ""

	unsecured := *vc
	unsecured.Proof = nil

	input, err := signingInput(&unsecured, &proof)
	if err != nil {
		return false, err
	}
	return crypto.Verify(pubkey, proofValue, input)
}

// signingInput follows the eddsa-jcs-2022 cryptosuite: the SHA-256 of the
// canonical proof options concatenated with the SHA-256 of the canonical
// unsecured document.
func signingInput(vc *contracts.IsccReceipt, proof *contracts.Proof) ([]byte, error) {
	opts := struct {
		Context            []string `json:"@context"`
		Type               string   `json:"type"`
		Cryptosuite        string   `json:"cryptosuite"`
		Created            string   `json:"created"`
		VerificationMethod string   `json:"verificationMethod"`
		ProofPurpose       string   `json:"proofPurpose"`
	}{vc.Context, proof.Type, proof.Cryptosuite, proof.Created, proof.VerificationMethod, proof.ProofPurpose}

	optsHash, err := canonicalize.CanonicalHash(opts)
	if err != nil {
		return nil, fmt.Errorf("canonicalize proof options: %w", err)
	}
	docHash, err := canonicalize.CanonicalHash(vc)
	if err != nil {
		return nil, fmt.Errorf("canonicalize credential: %w", err)
	}
	input := make([]byte, 0, 2*sha256.Size)
	input = append(input, optsHash[:]...)
	input = append(input, docHash[:]...)
	return input, nil
}

// issuanceDate renders the microsecond event timestamp as RFC 3339 UTC.
func issuanceDate(tsUS uint64) string {
	t := time.UnixMicro(int64(tsUS)).UTC()
	return t.Format("2006-01-02T15:04:05.000000Z")
}
