package contracts

import "encoding/json"

// VCContext is the W3C Verifiable Credentials v2 context URI.
const VCContext = "https://www.w3.org/ns/credentials/v2"

// Proof is a W3C Data Integrity proof using the eddsa-jcs-2022
// cryptosuite.
type Proof struct {
	Type               string `json:"type"`
	Cryptosuite        string `json:"cryptosuite"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// Declaration is the credentialSubject payload binding the verbatim note
// to its minted identity.
type Declaration struct {
	Seq      uint64          `json:"seq"`
	IsccID   string          `json:"iscc_id"`
	TsUS     uint64          `json:"ts_us"`
	IsccNote json.RawMessage `json:"iscc_note"`
}

// CredentialSubject identifies the declaring party and the declaration.
type CredentialSubject struct {
	ID          string      `json:"id"`
	Declaration Declaration `json:"declaration"`
}

// IsccReceipt is the HUB-signed verifiable credential returned for an
// admitted declaration. It is a pure function of the committed event;
// re-issuing it for the same event yields identical bytes.
type IsccReceipt struct {
	Context           []string          `json:"@context"`
	Type              []string          `json:"type"`
	Issuer            string            `json:"issuer"`
	IssuanceDate      string            `json:"issuanceDate"`
	CredentialSubject CredentialSubject `json:"credentialSubject"`
	Proof             *Proof            `json:"proof,omitempty"`
}
