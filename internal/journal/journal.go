// Package journal keeps an append-only record of the ledger calls the API
// accepted, for audit and reconciliation against the chain.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Kind string

const (
	KindFund                  Kind = "fund"
	KindGetFund               Kind = "get_fund"
	KindRefund                Kind = "refund"
	KindTransferOwner         Kind = "transfer_owner"
	KindSetIntegrationAddress Kind = "set_integration_address"
	KindSetFunderAmount       Kind = "set_funder_amount"
)

// Entry is one accepted call. Subject is the other address the call names,
// if any: the new owner, the integration address or the funder.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	Kind      Kind           `json:"kind"`
	Caller    common.Address `json:"caller"`
	Subject   common.Address `json:"subject"`
	Amount    fundme.Wei     `json:"amount"`
	TxHash    string         `json:"txHash"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	// List returns at most limit entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
}

var errLimit = errors.New("limit must be greater than zero")

// prepare fills the generated fields of e.
func prepare(e Entry, now time.Time) (Entry, error) {
	if e.Kind == "" {
		return Entry{}, errors.New("entry kind is required")
	}
	if e.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return Entry{}, err
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	return e, nil
}

// MemoryStore keeps entries in process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, time.Now())
	if err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, errLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, min(limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
