package referral

import (
	"context"
	"errors"
	"math/rand/v2"
)

const (
	codeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeTries = 16
)

// ErrCodeSpaceExhausted is returned when no free code was found.
var ErrCodeSpaceExhausted = errors.New("could not generate unique referral code")

// GenerateCode draws 8-character [A-Z0-9] codes until taken reports one free.
func GenerateCode(ctx context.Context, taken func(ctx context.Context, code string) (bool, error)) (string, error) {
	for i := 0; i < maxCodeTries; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b := make([]byte, codeLength)
		for j := range b {
			b[j] = codeAlphabet[rand.IntN(len(codeAlphabet))]
		}
		code := string(b)
		used, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !used {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
