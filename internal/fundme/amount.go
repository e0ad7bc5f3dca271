package fundme

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the fixed-point scale of both native value and USD amounts.
const Decimals = 18

var errNegative = errors.New("negative amount")

// Wei is an amount of native value at 18 decimals.
type Wei struct {
	n uint256.Int
}

// NewWei returns v wei.
func NewWei(v uint64) Wei {
	var w Wei
	w.n.SetUint64(v)
	return w
}

// ParseWei parses a base-10 integer amount of wei.
func ParseWei(s string) (Wei, error) {
	n, err := parseInt(s)
	if err != nil {
		return Wei{}, fmt.Errorf("parse wei %q: %w", s, err)
	}
	return Wei{n: *n}, nil
}

// ParseEther parses a decimal ether amount such as "0.1" into wei.
func ParseEther(s string) (Wei, error) {
	n, err := parseFixed(s, Decimals)
	if err != nil {
		return Wei{}, fmt.Errorf("parse ether %q: %w", s, err)
	}
	return Wei{n: *n}, nil
}

// WeiFromBig converts a non-negative big.Int that fits in 256 bits.
func WeiFromBig(b *big.Int) (Wei, error) {
	if b == nil {
		return Wei{}, nil
	}
	if b.Sign() < 0 {
		return Wei{}, errNegative
	}
	n, overflow := uint256.FromBig(b)
	if overflow {
		return Wei{}, ErrArithmeticOverflow
	}
	return Wei{n: *n}, nil
}

func (w Wei) Big() *big.Int  { return w.n.ToBig() }
func (w Wei) String() string { return w.n.Dec() }
func (w Wei) IsZero() bool   { return w.n.IsZero() }
func (w Wei) Cmp(o Wei) int  { return w.n.Cmp(&o.n) }

// Add returns w+o, failing instead of wrapping.
func (w Wei) Add(o Wei) (Wei, error) {
	var out Wei
	if _, overflow := out.n.AddOverflow(&w.n, &o.n); overflow {
		return Wei{}, ErrArithmeticOverflow
	}
	return out, nil
}

// Sub returns w-o, failing instead of wrapping.
func (w Wei) Sub(o Wei) (Wei, error) {
	var out Wei
	if _, underflow := out.n.SubOverflow(&w.n, &o.n); underflow {
		return Wei{}, ErrArithmeticOverflow
	}
	return out, nil
}

func (w Wei) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *Wei) UnmarshalText(b []byte) error {
	v, err := ParseWei(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// USD is a dollar amount at 18 decimals.
type USD struct {
	n uint256.Int
}

// USDFromDollars returns a whole number of dollars.
func USDFromDollars(dollars uint64) USD {
	var u USD
	u.n.Mul(uint256.NewInt(dollars), scale(Decimals))
	return u
}

// ParseDollars parses a decimal dollar figure such as "600" or "1.5".
func ParseDollars(s string) (USD, error) {
	n, err := parseFixed(s, Decimals)
	if err != nil {
		return USD{}, fmt.Errorf("parse dollars %q: %w", s, err)
	}
	return USD{n: *n}, nil
}

// ParseUSD parses a base-10 integer already at 18 decimals.
func ParseUSD(s string) (USD, error) {
	n, err := parseInt(s)
	if err != nil {
		return USD{}, fmt.Errorf("parse usd %q: %w", s, err)
	}
	return USD{n: *n}, nil
}

func (u USD) Big() *big.Int  { return u.n.ToBig() }
func (u USD) String() string { return u.n.Dec() }
func (u USD) IsZero() bool   { return u.n.IsZero() }
func (u USD) Cmp(o USD) int  { return u.n.Cmp(&o.n) }

// Dollars renders the amount with a decimal point, trimming trailing zeros.
func (u USD) Dollars() string {
	return formatFixed(&u.n, Decimals)
}

func (u USD) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *USD) UnmarshalText(b []byte) error {
	v, err := ParseUSD(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Price is a signed oracle reading with its decimal scale.
type Price struct {
	Answer   *big.Int `json:"answer"`
	Decimals uint8    `json:"decimals"`
}

// Convert returns the USD value of amount at this price. The product is
// computed at 512 bits, so only a result that does not fit 256 bits fails.
// A negative answer is taken as its two's complement, as an unchecked
// uint256 cast would; the result is then near 2^256 and overflows once
// amount exceeds 10^decimals wei.
func (p Price) Convert(amount Wei) (USD, error) {
	if p.Answer == nil {
		return USD{}, fmt.Errorf("%w: empty price answer", ErrOracleFault)
	}
	// 10^78 does not fit in 256 bits.
	if p.Decimals > 77 {
		return USD{}, fmt.Errorf("%w: price scale 10^%d", ErrArithmeticOverflow, p.Decimals)
	}
	price, overflow := uint256.FromBig(p.Answer)
	if overflow {
		return USD{}, ErrArithmeticOverflow
	}
	var out USD
	if _, overflow := out.n.MulDivOverflow(&amount.n, price, scale(p.Decimals)); overflow {
		return USD{}, ErrArithmeticOverflow
	}
	return out, nil
}

// Float approximates the price in whole dollars; for display and metrics only.
func (p Price) Float() float64 {
	if p.Answer == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(p.Answer, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Decimals)), nil)).Float64()
	return f
}

func scale(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

func parseInt(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, errNegative
	}
	return uint256.FromDecimal(s)
}

func parseFixed(s string, decimals int) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return nil, errors.New("empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("more than %d fractional digits", decimals)
	}
	if strings.ContainsAny(frac, "+-") {
		return nil, errors.New("invalid fraction")
	}
	return parseInt(whole + frac + strings.Repeat("0", decimals-len(frac)))
}

func formatFixed(n *uint256.Int, decimals int) string {
	digits := n.Dec()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-decimals], strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
