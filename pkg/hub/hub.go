// Package hub is the ingress façade of the declaration pipeline:
// validate, sequence, issue the receipt.
//
// A declaration moves Received → Validated → Sequenced → Receipted →
// Returned, with terminal Rejected(reason) from any pre-terminal state.
// Once Sequenced, the event is permanent even if the client disconnects;
// resubmitting the identical bytes retrieves the original receipt.
package hub

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/eventstore"
	"github.com/iscc/iscc-hub-go/pkg/receipt"
	"github.com/iscc/iscc-hub-go/pkg/sequencer"
	"github.com/iscc/iscc-hub-go/pkg/validator"
)

// Publisher receives committed events after the fact, best effort.
// The replication feed implements this; a nil Publisher disables it.
type Publisher interface {
	Publish(ctx context.Context, ev *contracts.Event)
}

// Hub wires the declaration pipeline.
type Hub struct {
	validator *validator.Validator
	sequencer *sequencer.Sequencer
	store     *eventstore.Store
	issuer    *receipt.Issuer
	publisher Publisher
	logger    *slog.Logger
}

// New assembles a Hub. publisher may be nil.
func New(v *validator.Validator, seq *sequencer.Sequencer, store *eventstore.Store, issuer *receipt.Issuer, publisher Publisher) *Hub {
	return &Hub{
		validator: v,
		sequencer: seq,
		store:     store,
		issuer:    issuer,
		publisher: publisher,
		logger:    slog.Default().With("component", "hub"),
	}
}

// DeclareResult is the outcome of an admitted declaration.
type DeclareResult struct {
	IsccID  string
	Seq     uint64
	Receipt *contracts.IsccReceipt
	// Replayed is true when the identical note bytes were already
	// admitted and the original receipt is being returned.
	Replayed bool
}

// Declare runs one declaration through the pipeline. Raw bytes in,
// signed receipt or *contracts.Error out.
func (h *Hub) Declare(ctx context.Context, raw []byte) (*DeclareResult, error) {
	note, err := contracts.ParseNote(raw)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindMalformed, "", err.Error(), err)
	}
	if err := h.validator.Validate(note); err != nil {
		return nil, err
	}

	ev, err := h.sequencer.Sequence(ctx, note)
	if err != nil {
		typed := contracts.AsError(err)
		if typed.Kind == contracts.KindDuplicateNonce {
			return h.resolveDuplicate(ctx, note, typed)
		}
		return nil, typed
	}

	rcpt, err := h.issuer.Issue(ev)
	if err != nil {
		// The event is durable; the client can re-fetch via the nonce.
		h.logger.ErrorContext(ctx, "receipt issuance failed for committed event",
			"seq", ev.Seq, "error", err)
		return nil, contracts.WrapError(contracts.KindInternal, "", "receipt issuance failed", err)
	}

	if h.publisher != nil {
		h.publisher.Publish(ctx, ev)
	}
	h.logger.InfoContext(ctx, "declaration admitted",
		"seq", ev.Seq, "iscc_id", ev.IsccID, "pubkey", ev.Pubkey)
	return &DeclareResult{IsccID: ev.IsccID, Seq: ev.Seq, Receipt: rcpt}, nil
}

// resolveDuplicate handles an already-admitted nonce: identical bytes
// replay the original receipt, different bytes surface DUPLICATE_NONCE
// with the existing event attached.
func (h *Hub) resolveDuplicate(ctx context.Context, note *contracts.IsccNote, typed *contracts.Error) (*DeclareResult, error) {
	existing, err := h.store.GetByNonce(ctx, note.Nonce)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindInternal, "nonce", "nonce conflict but event not found", err)
	}
	if bytes.Equal(existing.Note, note.Raw) {
		rcpt, err := h.issuer.Issue(existing)
		if err != nil {
			return nil, contracts.WrapError(contracts.KindInternal, "", "receipt issuance failed", err)
		}
		return &DeclareResult{
			IsccID:   existing.IsccID,
			Seq:      existing.Seq,
			Receipt:  rcpt,
			Replayed: true,
		}, nil
	}
	typed.Existing = existing
	return nil, typed
}

// ReceiptFor rebuilds the receipt for a committed event.
func (h *Hub) ReceiptFor(ev *contracts.Event) (*contracts.IsccReceipt, error) {
	return h.issuer.Issue(ev)
}

// EventBySeq looks up one event by sequence number.
func (h *Hub) EventBySeq(ctx context.Context, seq uint64) (*contracts.Event, error) {
	ev, err := h.store.GetBySeq(ctx, seq)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return ev, nil
}

// EventByIsccID looks up one event by its 8-byte ISCC-ID body.
func (h *Hub) EventByIsccID(ctx context.Context, body [8]byte) (*contracts.Event, error) {
	ev, err := h.store.GetByIsccID(ctx, body)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return ev, nil
}

// Events returns a contiguous slice of the log for bulk export.
func (h *Hub) Events(ctx context.Context, from uint64, limit int) ([]*contracts.Event, error) {
	return h.store.Scan(ctx, from, limit)
}

// LogDigest computes the rolling digest over a committed range.
func (h *Hub) LogDigest(ctx context.Context, from, to uint64) ([32]byte, error) {
	d, err := h.store.Digest(ctx, from, to)
	if err != nil {
		return d, mapLookupErr(err)
	}
	return d, nil
}

func mapLookupErr(err error) error {
	if errors.Is(err, eventstore.ErrNotFound) {
		return contracts.WrapError(contracts.KindNotFound, "", "no such event", err)
	}
	return err
}
