package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in cents. Prices arrive from the backend as decimal
// strings ("12.50") or plain numbers; both decode exactly.
type Money int64

// Cents builds a Money value from an integer number of cents.
func Cents(c int64) Money { return Money(c) }

// Mul returns m multiplied by a quantity.
func (m Money) Mul(qty int) Money { return m * Money(qty) }

// Add returns m + o.
func (m Money) Add(o Money) Money { return m + o }

// Cents returns the amount in cents.
func (m Money) Cents() int64 { return int64(m) }

// String renders the amount with two decimals, e.g. "-3.05".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney parses a decimal string with at most two fractional digits.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse money: empty value")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if !digits(whole) || !digits(frac) || whole+frac == "" {
		return 0, fmt.Errorf("parse money %q: not a decimal number", s)
	}
	if whole == "" {
		whole = "0"
	}
	if hasFrac {
		// Trailing zeros beyond cents are harmless ("1.500").
		trimmed := strings.TrimRight(frac, "0")
		if len(trimmed) > 2 {
			return 0, fmt.Errorf("parse money %q: more than two decimals", s)
		}
		frac = (frac + "00")[:2]
	} else {
		frac = "00"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", s, err)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return Money(v), nil
}

// MarshalJSON encodes the amount as a decimal string, matching the backend.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts "12.50", 12.5 and 12.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	v, err := ParseMoney(raw)
	if err != nil {
		// Numbers such as 12.5000001 come from float serialization on the server.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return err
		}
		v, err = ParseMoney(strconv.FormatFloat(f, 'f', 2, 64))
		if err != nil {
			return err
		}
	}
	*m = v
	return nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
