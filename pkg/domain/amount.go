package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals is the number of decimals between base units and one whole coin.
const EtherDecimals = 18

var etherUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)

// Amount is a non-negative quantity of base units. The zero value is 0.
// Amounts are immutable; arithmetic returns new values.
type Amount struct {
	v *big.Int
}

func NewAmount(units int64) Amount {
	return Amount{v: big.NewInt(units)}
}

// ParseAmount parses a decimal string of base units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, errors.New("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return Amount{v: v}, nil
}

// ParseEther parses a decimal coin value such as "0.1" into base units.
func ParseEther(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, errors.New("empty amount")
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > EtherDecimals {
		return Amount{}, fmt.Errorf("amount %q has more than %d decimals", s, EtherDecimals)
	}
	frac += strings.Repeat("0", EtherDecimals-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return Amount{v: v}, nil
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int { return new(big.Int).Set(a.big()) }

func (a Amount) Sign() int           { return a.big().Sign() }
func (a Amount) IsZero() bool        { return a.Sign() == 0 }
func (a Amount) Cmp(b Amount) int    { return a.big().Cmp(b.big()) }
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }
func (a Amount) Add(b Amount) Amount { return Amount{v: new(big.Int).Add(a.big(), b.big())} }
func (a Amount) Sub(b Amount) Amount { return Amount{v: new(big.Int).Sub(a.big(), b.big())} }
func (a Amount) String() string      { return a.big().String() }

// Float64 approximates the amount in whole coins, for gauges and display only.
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(a.big()), new(big.Float).SetInt(etherUnit)).Float64()
	return f
}

// FormatEther renders the amount as a decimal coin value without trailing zeros.
func (a Amount) FormatEther() string {
	v := a.big()
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
		v = new(big.Int).Neg(v)
	}
	q, r := new(big.Int).QuoRem(v, etherUnit, new(big.Int))
	if r.Sign() == 0 {
		return sign + q.String()
	}
	frac := r.String()
	frac = strings.Repeat("0", EtherDecimals-len(frac)) + frac
	return sign + q.String() + "." + strings.TrimRight(frac, "0")
}

func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Amount) UnmarshalText(b []byte) error {
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

// UnmarshalJSON accepts either a JSON string or a bare integer.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	return a.UnmarshalText([]byte(s))
}
