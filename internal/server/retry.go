package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fundme/internal/escrow"
	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum/common"
)

var errRetriesExhausted = errors.New("exhausted retries")

// withRetry runs a settlement call, retrying transient failures with
// exponential backoff. A call that keeps failing is written to the DLQ.
func (s *Server) withRetry(ctx context.Context, op string, caller common.Address, call func(context.Context) error) error {
	attempts := s.cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	backoff := s.cfg.Retry.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var err error
	for i := 1; i <= attempts; i++ {
		err = call(ctx)
		if err == nil {
			if i > 1 {
				s.metrics.incRetry("success")
			}
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if i == attempts {
			break
		}

		s.metrics.incRetry("retry")
		s.logger.Warn("retrying settlement",
			slog.String("op", op),
			slog.Int("attempt", i),
			slog.Any("error", err),
		)
		sleep := backoff
		if s.cfg.Retry.MaxBackoff > 0 && sleep > s.cfg.Retry.MaxBackoff {
			sleep = s.cfg.Retry.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}

		if s.cfg.Retry.BackoffMultiplier > 1 {
			backoff = time.Duration(float64(backoff) * s.cfg.Retry.BackoffMultiplier)
		}
	}

	s.metrics.incRetry("failed")
	s.writeDLQ(ctx, op, caller, attempts, err)
	return fmt.Errorf("%w after %d attempts: %w", errRetriesExhausted, attempts, err)
}

// isRetryable reports whether resending may succeed. Ledger rejections are
// final, and so is a dead request context. A transaction that already went
// out is never sent again.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var txErr *escrow.TxError
	if errors.As(err, &txErr) {
		return false
	}
	if fundme.IsPrecondition(err) {
		return false
	}
	if errors.Is(err, fundme.ErrOracleFault) {
		return false
	}
	var bad badRequest
	if errors.As(err, &bad) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

type dlqEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Caller    common.Address `json:"caller"`
	RequestID string         `json:"requestId,omitempty"`
	Attempts  int            `json:"attempts"`
	Error     string         `json:"error"`
}

func (s *Server) writeDLQ(ctx context.Context, op string, caller common.Address, attempts int, execErr error) {
	if s.cfg.Service.DLQPath == "" {
		return
	}

	entry := dlqEntry{
		Timestamp: time.Now().UTC(),
		Operation: op,
		Caller:    caller,
		RequestID: requestID(ctx),
		Attempts:  attempts,
		Error:     execErr.Error(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		s.logger.Error("dlq marshal error", slog.Any("error", err))
		return
	}

	if err := os.MkdirAll(s.cfg.Service.DLQPath, 0o755); err != nil {
		s.logger.Error("dlq mkdir error", slog.Any("error", err))
		return
	}

	filename := fmt.Sprintf("%d-%s-%s.json", time.Now().UnixNano(), op, caller.Hex())
	path := filepath.Join(s.cfg.Service.DLQPath, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.logger.Error("dlq write error", slog.Any("error", err))
	}

	s.updateDLQDepth()
}

func (s *Server) updateDLQDepth() int {
	depth := s.currentDLQDepth()
	if s.metrics != nil {
		s.metrics.setDLQDepth(depth)
	}
	return depth
}

func (s *Server) currentDLQDepth() int {
	if s.cfg.Service.DLQPath == "" {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.Service.DLQPath)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		s.logger.Error("dlq read error", slog.Any("error", err))
		return 0
	}
	return len(entries)
}
