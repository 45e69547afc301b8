package challenge

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// ErrNoneAvailable is returned when a profile has no non-blank catalog value.
var ErrNoneAvailable = errors.New("no challenge available")

// Selector draws a catalog field uniformly at random from the fields a
// profile has answered. It keeps no history between calls.
type Selector struct {
	intn func(n int) (int, error)
}

// NewSelector returns a Selector backed by crypto/rand.
func NewSelector() *Selector {
	return &Selector{intn: cryptoIntn}
}

// NewSelectorWithSource returns a Selector that draws indices from intn.
// intn must return a value in [0, n).
func NewSelectorWithSource(intn func(n int) (int, error)) *Selector {
	if intn == nil {
		intn = cryptoIntn
	}
	return &Selector{intn: intn}
}

// Eligible filters the catalog to the fields whose value in answers is
// non-blank, in catalog order.
func Eligible(answers map[string]string) []Field {
	out := make([]Field, 0, len(catalog))
	for _, f := range catalog {
		if strings.TrimSpace(answers[f.Key]) != "" {
			out = append(out, f)
		}
	}
	return out
}

// Select picks one eligible field.
func (s *Selector) Select(answers map[string]string) (Field, error) {
	eligible := Eligible(answers)
	if len(eligible) == 0 {
		return Field{}, ErrNoneAvailable
	}

	intn := cryptoIntn
	if s != nil && s.intn != nil {
		intn = s.intn
	}
	idx, err := intn(len(eligible))
	if err != nil {
		return Field{}, err
	}
	if idx < 0 || idx >= len(eligible) {
		return Field{}, errors.New("challenge index out of range")
	}
	return eligible[idx], nil
}

func cryptoIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
