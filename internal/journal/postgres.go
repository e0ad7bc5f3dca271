package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundme/internal/fundme"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore writes to the ledger_journal table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e, err := prepare(e, time.Now())
	if err != nil {
		return Entry{}, err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO ledger_journal (id, kind, caller, subject, amount, tx_hash, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
`, e.ID, string(e.Kind), e.Caller.Hex(), e.Subject.Hex(), e.Amount.String(), e.TxHash, e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("append journal entry: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, errLimit
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, kind, caller, subject, amount::text, tx_hash, created_at
FROM ledger_journal
ORDER BY seq DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e                             Entry
		kind, caller, subject, amount string
	)
	if err := row.Scan(&e.ID, &kind, &caller, &subject, &amount, &e.TxHash, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	wei, err := fundme.ParseWei(amount)
	if err != nil {
		return Entry{}, err
	}
	e.Kind = Kind(kind)
	e.Caller = common.HexToAddress(caller)
	e.Subject = common.HexToAddress(subject)
	e.Amount = wei
	return e, nil
}
