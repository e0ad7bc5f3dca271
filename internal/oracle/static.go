package oracle

import (
	"context"
	"math/big"
	"sync"

	"fundme/internal/fundme"
)

// Static is an in-process stand-in for a price feed. Its answer only
// changes through UpdateAnswer.
type Static struct {
	mu       sync.RWMutex
	answer   *big.Int
	decimals uint8
	err      error
}

func NewStatic(decimals uint8, answer *big.Int) *Static {
	return &Static{decimals: decimals, answer: new(big.Int).Set(answer)}
}

// NewStaticDollars returns a feed quoting whole dollars at decimals.
func NewStaticDollars(decimals uint8, dollars int64) *Static {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return NewStatic(decimals, new(big.Int).Mul(big.NewInt(dollars), scale))
}

func (s *Static) UpdateAnswer(answer *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = new(big.Int).Set(answer)
}

// Fail makes every read return err until called again with nil.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) LatestPrice(_ context.Context) (fundme.Price, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return fundme.Price{}, s.err
	}
	return fundme.Price{Answer: new(big.Int).Set(s.answer), Decimals: s.decimals}, nil
}
