package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iscc/iscc-hub-go/pkg/codec"
	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/crypto"
	"github.com/iscc/iscc-hub-go/pkg/eventstore"
	"github.com/iscc/iscc-hub-go/pkg/hubtest"
	"github.com/iscc/iscc-hub-go/pkg/receipt"
	"github.com/iscc/iscc-hub-go/pkg/sequencer"
	"github.com/iscc/iscc-hub-go/pkg/validator"
)

type fixture struct {
	hub    *Hub
	store  *eventstore.Store
	signer crypto.Signer
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := eventstore.Open(t.TempDir()+"/events.db", codec.RealmSandbox)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	signer, err := crypto.NewEd25519Signer("key-0")
	require.NoError(t, err)

	clock := time.Date(2025, 8, 4, 12, 34, 56, 789000000, time.UTC)
	v := validator.New(1, 10*time.Minute, validator.WithClock(func() time.Time { return clock }))
	seq := sequencer.New(store, 1, codec.RealmSandbox, 256)
	issuer := receipt.NewIssuer(signer, "hub.example.com")

	return &fixture{
		hub:    New(v, seq, store, issuer, nil),
		store:  store,
		signer: signer,
		clock:  clock,
	}
}

func TestDeclareHappyPath(t *testing.T) {
	f := newFixture(t)
	k := hubtest.NewKeyholder()
	raw := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock})

	result, err := f.hub.Declare(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.Seq)
	assert.False(t, result.Replayed)

	tsUS, serverID, err := codec.DecodeID(result.IsccID)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), serverID)
	assert.LessOrEqual(t, tsUS, codec.MaxTimestamp)

	ok, err := receipt.Verify(result.Receipt, f.signer.PublicKeyMultibase())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, string(raw), string(result.Receipt.CredentialSubject.Declaration.IsccNote))
}

func TestDeclareIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	k := hubtest.NewKeyholder()
	raw := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock})

	first, err := f.hub.Declare(context.Background(), raw)
	require.NoError(t, err)

	second, err := f.hub.Declare(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.IsccID, second.IsccID)
	assert.Equal(t, first.Seq, second.Seq)

	// Byte-identical receipts.
	a, err := json.Marshal(first.Receipt)
	require.NoError(t, err)
	b, err := json.Marshal(second.Receipt)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Log length unchanged.
	lastSeq, _, err := f.store.Tail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lastSeq)
}

func TestDeclareDuplicateNonceDifferentBytes(t *testing.T) {
	f := newFixture(t)
	k := hubtest.NewKeyholder()
	nonce := hubtest.Nonce(1, "00000000000000000000000000001")

	first := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock, NonceTail: "00000000000000000000000000001"})
	_, err := f.hub.Declare(context.Background(), first)
	require.NoError(t, err)

	second := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock, NonceTail: "00000000000000000000000000001"})
	_, err = f.hub.Declare(context.Background(), second)
	typed := contracts.AsError(err)
	assert.Equal(t, contracts.KindDuplicateNonce, typed.Kind)
	require.NotNil(t, typed.Existing)
	assert.Equal(t, nonce, typed.Existing.Nonce)
	assert.Equal(t, uint64(1), typed.Existing.Seq)
}

func TestDeclareRejectionsLeaveNoState(t *testing.T) {
	f := newFixture(t)
	k := hubtest.NewKeyholder()

	cases := map[string][]byte{
		"wrong hub":     k.SignedNote(hubtest.NoteOpts{ServerID: 2, Timestamp: f.clock}),
		"stale":         k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock.Add(-94 * time.Minute)}),
		"bad signature": k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock, Tamper: true}),
		"not json":      []byte("not a note"),
	}
	wantKinds := map[string]contracts.Kind{
		"wrong hub":     contracts.KindWrongHub,
		"stale":         contracts.KindStale,
		"bad signature": contracts.KindBadSignature,
		"not json":      contracts.KindMalformed,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.hub.Declare(context.Background(), raw)
			assert.Equal(t, wantKinds[name], contracts.AsError(err).Kind)
		})
	}

	lastSeq, _, err := f.store.Tail(context.Background())
	require.NoError(t, err)
	assert.Zero(t, lastSeq)
}

func TestDeclareConcurrentBurst(t *testing.T) {
	f := newFixture(t)
	k := hubtest.NewKeyholder()

	const n = 100
	raws := make([][]byte, n)
	for i := range raws {
		raws[i] = k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock})
	}

	var wg sync.WaitGroup
	results := make([]*DeclareResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.hub.Declare(context.Background(), raws[i])
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, r := range results {
		require.NotNil(t, r)
		assert.False(t, seen[r.Seq])
		seen[r.Seq] = true
	}
	assert.Len(t, seen, n)

	events, err := f.store.Scan(context.Background(), 1, n)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		if i > 0 {
			assert.Greater(t, ev.TsUS, events[i-1].TsUS)
		}
	}
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	k := hubtest.NewKeyholder()
	raw := k.SignedNote(hubtest.NoteOpts{ServerID: 1, Timestamp: f.clock})
	result, err := f.hub.Declare(context.Background(), raw)
	require.NoError(t, err)

	ev, err := f.hub.EventBySeq(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, result.IsccID, ev.IsccID)

	body, err := codec.DecodeIDBytes(result.IsccID)
	require.NoError(t, err)
	ev, err = f.hub.EventByIsccID(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)

	_, err = f.hub.EventBySeq(context.Background(), 99)
	assert.Equal(t, contracts.KindNotFound, contracts.AsError(err).Kind)

	digest, err := f.hub.LogDigest(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, digest)
}
