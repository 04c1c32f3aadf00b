package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrNotFound is returned when no live challenge exists for a generation,
// either because it was never issued, was already consumed, or expired.
var ErrNotFound = errors.New("challenge not found")

const (
	DefaultTTL    = 10 * time.Minute
	DefaultDigits = 6
	maxDigits     = 18
)

// Store keeps single-use verification codes keyed by generation id.
type Store interface {
	// Issue stores a fresh code of the given width, replacing any live one.
	Issue(ctx context.Context, generationID string, digits int) (string, error)
	// Consume atomically reads and removes the code.
	Consume(ctx context.Context, generationID string) (string, error)
	// Discard removes the code if present.
	Discard(ctx context.Context, generationID string) error
}

// NewCode returns a zero-padded numeric code read from crypto/rand.
func NewCode(digits int) (string, error) {
	if digits <= 0 || digits > maxDigits {
		return "", fmt.Errorf("code width %d out of range", digits)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("read random code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
