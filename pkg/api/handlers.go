package api

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iscc/iscc-hub-go/pkg/codec"
	"github.com/iscc/iscc-hub-go/pkg/contracts"
	"github.com/iscc/iscc-hub-go/pkg/hub"
	"github.com/iscc/iscc-hub-go/pkg/observability"
	"github.com/iscc/iscc-hub-go/pkg/validator"
)

// maxBodyBytes bounds a declaration request body.
const maxBodyBytes = 64 << 10

// Server exposes the HUB over HTTP.
type Server struct {
	hub     *hub.Hub
	obs     *observability.Provider
	version string
}

// NewServer creates the HTTP surface. obs may be nil.
func NewServer(h *hub.Hub, obs *observability.Provider, version string) *Server {
	return &Server{hub: h, obs: obs, version: version}
}

// Routes builds the HTTP handler with middleware applied to the submit
// endpoint.
func (s *Server) Routes(limiter *DeclareLimiter) http.Handler {
	mux := http.NewServeMux()

	declare := http.Handler(http.HandlerFunc(s.handleDeclare))
	if limiter != nil {
		declare = limiter.Middleware(declare)
	}
	mux.Handle("POST /declaration", declare)
	mux.HandleFunc("GET /events/{seq}", s.handleEventBySeq)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /iscc-id/{iscc_id}", s.handleEventByIsccID)
	mux.HandleFunc("GET /log/digest", s.handleLogDigest)
	mux.HandleFunc("GET /health", s.handleHealth)

	return WithRequestID(mux)
}

// declareResponse is the submit endpoint success body.
type declareResponse struct {
	IsccID  string                 `json:"iscc_id"`
	Seq     uint64                 `json:"seq"`
	Receipt *contracts.IsccReceipt `json:"receipt"`
}

func (s *Server) handleDeclare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var done func(error)
	if s.obs != nil {
		ctx, done = s.obs.TrackOperation(ctx, "hub.declare",
			attribute.String("endpoint", "/declaration"))
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		if done != nil {
			done(err)
		}
		WriteBadRequest(w, "cannot read request body")
		return
	}

	result, err := s.hub.Declare(ctx, raw)
	if err != nil {
		typed := contracts.AsError(err)
		if done != nil {
			done(typed)
		}
		if typed.Kind == contracts.KindCancelled {
			// Client is gone; nothing sensible to write.
			return
		}
		var existingReceipt *contracts.IsccReceipt
		if typed.Kind == contracts.KindDuplicateNonce && typed.Existing != nil {
			existingReceipt, _ = s.hub.ReceiptFor(typed.Existing)
		}
		WriteProblem(w, r, typed, existingReceipt)
		return
	}
	if done != nil {
		done(nil)
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, declareResponse{
		IsccID:  result.IsccID,
		Seq:     result.Seq,
		Receipt: result.Receipt,
	})
}

func (s *Server) handleEventBySeq(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil || seq == 0 {
		WriteBadRequest(w, "seq must be a positive integer")
		return
	}
	ev, err := s.hub.EventBySeq(r.Context(), seq)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// eventWithGateway is the /iscc-id response: the event plus the expanded
// gateway redirect hint, when the declaration named one.
type eventWithGateway struct {
	*contracts.Event
	GatewayURL string `json:"gateway_url,omitempty"`
}

func (s *Server) handleEventByIsccID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("iscc_id")
	body, err := codec.DecodeIDBytes(id)
	if err != nil {
		WriteBadRequest(w, "not a valid ISCC-ID")
		return
	}
	ev, err := s.hub.EventByIsccID(r.Context(), body)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventWithGateway{
		Event:      ev,
		GatewayURL: expandGateway(ev),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := strconv.ParseUint(q.Get("from"), 10, 64)
	if err != nil || from == 0 {
		WriteBadRequest(w, "from must be a positive integer")
		return
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 1000 {
			WriteBadRequest(w, "limit must be between 1 and 1000")
			return
		}
	}
	events, err := s.hub.Events(r.Context(), from, limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if events == nil {
		events = []*contracts.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// digestResponse is the /log/digest body.
type digestResponse struct {
	From   uint64 `json:"from"`
	To     uint64 `json:"to"`
	Digest string `json:"digest"`
}

func (s *Server) handleLogDigest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := strconv.ParseUint(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseUint(q.Get("to"), 10, 64)
	if err1 != nil || err2 != nil || from == 0 || to < from {
		WriteBadRequest(w, "from and to must form a valid range")
		return
	}
	digest, err := s.hub.LogDigest(r.Context(), from, to)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, digestResponse{
		From:   from,
		To:     to,
		Digest: hex.EncodeToString(digest[:]),
	})
}

// healthResponse mirrors the health document of the reference network.
type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "pass",
		Version:     s.version,
		Description: "ISCC-HUB service is healthy",
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	typed := contracts.AsError(err)
	if typed.Kind == contracts.KindNotFound {
		WriteProblem(w, r, typed, nil)
		return
	}
	WriteInternal(w, err)
}

// expandGateway substitutes the supported RFC 6570 variables into the
// declaration's gateway template, using the same expression handling
// the validator admitted the template with.
func expandGateway(ev *contracts.Event) string {
	if ev.Gateway == "" {
		return ""
	}
	note, err := contracts.ParseNote(ev.Note)
	if err != nil {
		return ev.Gateway
	}
	return validator.ExpandTemplate(ev.Gateway, map[string]string{
		"iscc_id":   ev.IsccID,
		"iscc_code": ev.IsccCode,
		"pubkey":    note.Signature.Pubkey,
		"datahash":  ev.Datahash,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
