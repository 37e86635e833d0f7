package handshake

import (
	"math/big"
	"strings"
)

const (
	// codeStart and codeEnd select the digits of the secret's byte product
	// that form the verification code.
	codeStart = 6
	codeEnd   = 10
)

// VerificationCode derives the four-digit code both devices display.
//
// The bytes of secret are multiplied together as one big integer, with zero
// bytes counting as one. The code is digits [6,10) of the decimal product,
// left-padded with zeros to ten digits first so it always has four digits.
func VerificationCode(secret []byte) string {
	product := big.NewInt(1)
	factor := new(big.Int)
	for _, b := range secret {
		if b == 0 {
			continue
		}
		product.Mul(product, factor.SetUint64(uint64(b)))
	}

	digits := product.String()
	if len(digits) < codeEnd {
		digits = strings.Repeat("0", codeEnd-len(digits)) + digits
	}
	return digits[codeStart:codeEnd]
}
