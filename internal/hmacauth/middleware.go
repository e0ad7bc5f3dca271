// Package hmacauth authenticates API callers with a shared-secret HMAC over
// the request timestamp, the claimed caller address and the body.
package hmacauth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	HeaderSignature = "X-Request-Signature"
	HeaderTimestamp = "X-Request-Timestamp"
	HeaderCaller    = "X-Caller-Address"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrMissingCaller    = errors.New("missing caller address")
	ErrInvalidCaller    = errors.New("invalid caller address")
	ErrNotConfigured    = errors.New("request signing is not configured")
)

type callerKey struct{}

// CallerFromContext returns the caller a Verifier authenticated.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller attaches an authenticated caller to ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

type Verifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
	Logger  *slog.Logger

	// AllowUnsigned trusts the caller header when Secret is empty. Without
	// it an empty secret rejects every request.
	AllowUnsigned bool
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := v.verify(r)
		if err != nil {
			if v.Logger != nil {
				v.Logger.Debug("request rejected", "path", r.URL.Path, "err", err)
			}
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// verify checks the signature headers. Without a secret only the caller
// header is checked, and only when AllowUnsigned is set.
func (v *Verifier) verify(r *http.Request) (common.Address, error) {
	callerHeader := r.Header.Get(HeaderCaller)
	if callerHeader == "" {
		return common.Address{}, ErrMissingCaller
	}
	if !common.IsHexAddress(callerHeader) {
		return common.Address{}, ErrInvalidCaller
	}
	caller := common.HexToAddress(callerHeader)
	if v.Secret == "" {
		if !v.AllowUnsigned {
			return common.Address{}, ErrNotConfigured
		}
		return caller, nil
	}

	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return common.Address{}, ErrMissingSignature
	}
	tsHeader := r.Header.Get(HeaderTimestamp)
	if tsHeader == "" {
		return common.Address{}, ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return common.Address{}, ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}

	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return common.Address{}, ErrStaleTimestamp
	}

	bodyBytes, err := readBody(r)
	if err != nil {
		return common.Address{}, err
	}

	expected := Sign(v.Secret, tsHeader, caller, bodyBytes)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return common.Address{}, ErrInvalidSignature
	}
	return caller, nil
}

// Sign computes the hex signature a client sends in X-Request-Signature.
// The caller is signed in its checksummed form.
func Sign(secret, timestamp string, caller common.Address, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(caller.Hex()))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
