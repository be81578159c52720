// Package sequencer mints ISCC-IDs and commits declaration events.
//
// A single writer lane is mandatory: one commit proceeds at a time per
// HUB instance. That is what guarantees gapless sequence numbers and
// strictly monotone microsecond timestamps; do not attempt optimistic
// concurrency on seq.
package sequencer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/iscc/iscc-hub-go/pkg/codec"
	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/eventstore"
)

const (
	maxRetries = 10
	baseDelay  = 500 * time.Microsecond
	maxDelay   = 50 * time.Millisecond
)

// Sequencer owns the writer lane of the event store.
type Sequencer struct {
	store    *eventstore.Store
	serverID uint16
	realm    codec.Realm

	// lane admits at most queueDepth concurrent waiters; the mutex
	// serializes the commits themselves.
	lane chan struct{}
	mu   sync.Mutex

	nowUS func() uint64
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithClock overrides the microsecond wall clock, for tests.
func WithClock(nowUS func() uint64) Option {
	return func(s *Sequencer) { s.nowUS = nowUS }
}

// New creates a Sequencer. queueDepth bounds how many submissions may
// wait for the writer lane before further ones are rejected as BUSY.
func New(store *eventstore.Store, serverID uint16, realm codec.Realm, queueDepth int, opts ...Option) *Sequencer {
	if queueDepth < 1 {
		queueDepth = 1
	}
	s := &Sequencer{
		store:    store,
		serverID: serverID,
		realm:    realm,
		lane:     make(chan struct{}, queueDepth),
		nowUS:    func() uint64 { return uint64(time.Now().UnixMicro()) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sequence atomically mints the next (seq, ts_us, iscc_id) for an
// admitted note and commits the event. On success the returned event is
// durable. Typed failures: BUSY when the queue is full, DUPLICATE_NONCE
// when the nonce is already admitted, CLOCK_EXHAUSTED on 52-bit
// overflow, TRANSIENT when the commit keeps failing, CANCELLED when the
// context ends before the commit.
func (s *Sequencer) Sequence(ctx context.Context, note *contracts.IsccNote) (*contracts.Event, error) {
	select {
	case s.lane <- struct{}{}:
		defer func() { <-s.lane }()
	default:
		return nil, contracts.NewError(contracts.KindBusy, "", "writer queue is full")
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, contracts.WrapError(contracts.KindCancelled, "", "cancelled before commit", err)
		}
		ev, err := s.commitOne(ctx, note)
		if err == nil {
			return ev, nil
		}
		if typed := contracts.AsError(err); typed.Kind != contracts.KindInternal {
			return nil, typed
		}
		if errors.Is(err, eventstore.ErrDuplicateNonce) {
			return nil, contracts.WrapError(contracts.KindDuplicateNonce, "nonce", "nonce already admitted", err)
		}
		if ctx.Err() != nil {
			return nil, contracts.WrapError(contracts.KindCancelled, "", "cancelled before commit", ctx.Err())
		}
		if !eventstore.IsBusy(err) {
			return nil, contracts.WrapError(contracts.KindTransient, "", "store commit failed", err)
		}
		lastErr = err
		sleepBackoff(attempt)
	}
	return nil, contracts.WrapError(contracts.KindTransient, "", "store commit failed after retries", lastErr)
}

func (s *Sequencer) commitOne(ctx context.Context, note *contracts.IsccNote) (*contracts.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ev *contracts.Event
	err := s.store.WithWriteTx(ctx, func(tx *eventstore.WriteTx) error {
		lastSeq, lastTS, err := tx.Tail(ctx)
		if err != nil {
			return err
		}
		exists, err := tx.NonceExists(ctx, note.Nonce)
		if err != nil {
			return err
		}
		if exists {
			return contracts.NewError(contracts.KindDuplicateNonce, "nonce", "nonce already admitted")
		}

		tsUS := s.nowUS()
		if tsUS <= lastTS {
			tsUS = lastTS + 1
		}
		if tsUS > codec.MaxTimestamp {
			return contracts.NewError(contracts.KindClockExhausted, "", "52-bit microsecond timestamp exhausted")
		}
		isccID, err := codec.EncodeID(tsUS, s.serverID, s.realm)
		if err != nil {
			return err
		}

		ev = &contracts.Event{
			Seq:        lastSeq + 1,
			IsccID:     isccID,
			TsUS:       tsUS,
			ServerID:   s.serverID,
			Note:       note.Raw,
			Pubkey:     note.Signature.Pubkey,
			Nonce:      note.Nonce,
			Datahash:   note.Datahash,
			IsccCode:   note.IsccCode,
			Units:      note.Units,
			Metahash:   note.Metahash,
			Gateway:    note.Gateway,
			ReceivedAt: time.Now().UTC(),
		}
		return tx.Insert(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func sleepBackoff(attempt int) {
	delay := baseDelay << attempt
	delay += time.Duration(rand.Int63n(int64(time.Millisecond)))
	if delay > maxDelay {
		delay = maxDelay
	}
	time.Sleep(delay)
}
