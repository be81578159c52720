package contracts

import (
	"encoding/binary"
	"encoding/json"
	"time"
)

// Event is one committed entry of the append-only declaration log.
// Events are created only by the sequencer, never mutated or deleted.
type Event struct {
	// Seq is the gapless sequence number, starting at 1.
	Seq uint64 `json:"seq"`
	// IsccID is the canonical ISCC-ID string minted for the declaration.
	IsccID string `json:"iscc_id"`
	// TsUS is the 52-bit microsecond timestamp embedded in IsccID,
	// strictly increasing across events of this HUB.
	TsUS uint64 `json:"ts_us"`
	// ServerID is the 12-bit server-id embedded in IsccID.
	ServerID uint16 `json:"server_id"`

	// Note is the verbatim IsccNote as received.
	Note json.RawMessage `json:"note"`

	// Projections of note fields for lookup.
	Pubkey   string   `json:"pubkey"`
	Nonce    string   `json:"nonce"`
	Datahash string   `json:"datahash"`
	IsccCode string   `json:"iscc_code"`
	Units    []string `json:"units,omitempty"`
	Metahash string   `json:"metahash,omitempty"`
	Gateway  string   `json:"gateway,omitempty"`

	// ReceivedAt is the ingress wallclock, diagnostic only.
	ReceivedAt time.Time `json:"received_at"`
}

// IDBody returns the raw 8-byte ISCC-ID body (ts_us << 12 | server_id).
func (e *Event) IDBody() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], e.TsUS<<12|uint64(e.ServerID))
	return b
}
