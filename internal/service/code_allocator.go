package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	appErrors "github.com/noah-isme/geo-attendance-api/pkg/errors"
)

// Allocated codes are always ClassCodeLength long; submissions shorter than
// MinClassCodeLength after normalization are rejected as malformed.
const (
	ClassCodeLength    = 6
	MinClassCodeLength = 4

	classCodeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAllocationTries = 10
)

// CodeAllocator draws class codes from the uppercase alphanumeric alphabet.
type CodeAllocator struct {
	random   io.Reader
	attempts int
}

// NewCodeAllocator constructs an allocator. A nil reader uses crypto/rand.
func NewCodeAllocator(random io.Reader) *CodeAllocator {
	if random == nil {
		random = rand.Reader
	}
	return &CodeAllocator{random: random, attempts: maxCodeAllocationTries}
}

// Generate returns a single random code. Uniqueness is not checked.
func (a *CodeAllocator) Generate() (string, error) {
	max := big.NewInt(int64(len(classCodeAlphabet)))
	buf := make([]byte, ClassCodeLength)
	for i := range buf {
		n, err := rand.Int(a.random, max)
		if err != nil {
			return "", fmt.Errorf("generate class code: %w", err)
		}
		buf[i] = classCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// AllocateUnique generates codes until inUse reports one free, up to a fixed number of attempts.
// The storage index on active codes remains the final arbiter under concurrent allocation.
func (a *CodeAllocator) AllocateUnique(ctx context.Context, inUse func(ctx context.Context, code string) (bool, error)) (string, error) {
	for attempt := 0; attempt < a.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := a.Generate()
		if err != nil {
			return "", err
		}
		taken, err := inUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check class code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrCodeAllocation, "")
}

// NormalizeClassCode keeps ASCII letters and digits and uppercases the result.
func NormalizeClassCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}
