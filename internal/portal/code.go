package portal

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const CodeLength = 6

var ten = big.NewInt(10)

// CodeGenerator returns a fresh verification code.
type CodeGenerator func() (string, error)

// GenerateCode draws CodeLength digits independently and uniformly from 0-9.
// Leading zeros are kept.
func GenerateCode() (string, error) {
	digits := make([]byte, CodeLength)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
