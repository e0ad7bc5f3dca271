package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fundme/internal/hmacauth"
	"fundme/internal/idempotency"
	"fundme/internal/journal"

	"github.com/ethereum/go-ethereum/common"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxBodyBytes         = 1 << 20
)

// operation runs one ledger call. It returns the response body and the
// journal entry to record on success.
type operation func(ctx context.Context, caller common.Address, body []byte) (interface{}, journal.Entry, error)

// idempotent wraps a mutating endpoint. Keys are scoped to the caller and
// bound to the request they were first used with. Only successful outcomes
// are stored; a rejected call changed nothing and may be sent again.
func (s *Server) idempotent(kind journal.Kind, op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if key == "" {
			writeError(w, http.StatusBadRequest, "missing_idempotency_key", "missing X-Idempotency-Key header")
			return
		}
		caller, ok := hmacauth.CallerFromContext(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "caller not authenticated")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
			return
		}
		hash := requestHash(r, body)
		scoped := caller.Hex() + ":" + key

		unlock := s.keys.lock(scoped)
		defer unlock()

		existing, err := s.store.Get(ctx, scoped)
		if err != nil {
			s.logger.Error("idempotency lookup failed", slog.String("op", string(kind)), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "idempotency_unavailable", "idempotency store unavailable")
			return
		}
		if existing != nil {
			if existing.RequestHash != hash {
				s.metrics.incOperation(string(kind), "conflict")
				writeError(w, http.StatusConflict, "idempotency_key_reused", "idempotency key was used with a different request")
				return
			}
			s.metrics.incOperation(string(kind), "replayed")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplayed, "true")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Response)
			return
		}

		logger := s.logger.With(
			slog.String("op", string(kind)),
			slog.String("caller", caller.Hex()),
			slog.String("request_id", requestID(ctx)),
		)

		resp, entry, err := op(ctx, caller, body)
		if err != nil {
			status, code := classify(err)
			s.metrics.incOperation(string(kind), code)
			if status >= http.StatusInternalServerError {
				logger.Error("operation failed", slog.Any("error", err))
			} else {
				logger.Info("operation rejected", slog.String("code", code), slog.Any("error", err))
			}
			writeClassified(w, status, code, err)
			return
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			logger.Error("encode response", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal", "failed to encode response")
			return
		}

		now := time.Now()
		record := idempotency.Record{
			StatusCode:  http.StatusOK,
			Response:    payload,
			RequestHash: hash,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
		}
		if err := s.store.Save(ctx, scoped, record); err != nil {
			logger.Error("idempotency save failed", slog.Any("error", err))
		}

		if s.journal != nil {
			entry.Kind = kind
			entry.Caller = caller
			if _, err := s.journal.Append(ctx, entry); err != nil {
				logger.Error("journal append failed", slog.Any("error", err))
			}
		}

		logger.Info("operation accepted", slog.String("tx_hash", entry.TxHash))
		s.metrics.incOperation(string(kind), "ok")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
