package eventstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/iscc/iscc-hub-go/pkg/canonicalize"
	"github.com/iscc/iscc-hub-go/pkg/contracts"
)

// digestEntry is the canonical per-event encoding folded into the rolling
// log digest. It depends only on committed event state.
type digestEntry struct {
	Seq      uint64          `json:"seq"`
	IsccID   string          `json:"iscc_id"`
	TsUS     uint64          `json:"ts_us"`
	ServerID uint16          `json:"server_id"`
	Note     json.RawMessage `json:"note"`
}

// CanonicalEventBytes renders the canonical encoding of one event as used
// by Digest. Auditors re-derive the same bytes from an exported log.
func CanonicalEventBytes(ev *contracts.Event) ([]byte, error) {
	return canonicalize.JCS(digestEntry{
		Seq:      ev.Seq,
		IsccID:   ev.IsccID,
		TsUS:     ev.TsUS,
		ServerID: ev.ServerID,
		Note:     ev.Note,
	})
}

// Digest computes the 32-byte rolling hash over the canonical encodings
// of events in [from, to]:
//
//	d_0        = SHA-256("iscc-hub-log-v1")
//	d_i        = SHA-256(d_{i-1} || canonical(event_i))
//
// The range must be fully present in the log.
func (s *Store) Digest(ctx context.Context, from, to uint64) ([32]byte, error) {
	var digest [32]byte
	if from == 0 || to < from {
		return digest, fmt.Errorf("invalid digest range [%d, %d]", from, to)
	}
	digest = sha256.Sum256([]byte("iscc-hub-log-v1"))

	next := from
	for next <= to {
		limit := 256
		if remaining := to - next + 1; remaining < uint64(limit) {
			limit = int(remaining)
		}
		events, err := s.Scan(ctx, next, limit)
		if err != nil {
			return digest, err
		}
		if len(events) == 0 {
			return digest, fmt.Errorf("%w: seq %d", ErrNotFound, next)
		}
		for _, ev := range events {
			if ev.Seq != next {
				return digest, fmt.Errorf("%w: seq %d", ErrNotFound, next)
			}
			canon, err := CanonicalEventBytes(ev)
			if err != nil {
				return digest, err
			}
			h := sha256.New()
			h.Write(digest[:])
			h.Write(canon)
			copy(digest[:], h.Sum(nil))
			next++
			if next > to {
				break
			}
		}
	}
	return digest, nil
}
