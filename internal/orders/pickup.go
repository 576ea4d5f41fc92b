package orders

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// No 0/O, 1/I/L: codes are read aloud at the counter.
const pickupAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	pickupCodeLen      = 6
	maxPickupCodeTries = 5
)

func newPickupCode() (string, error) {
	max := big.NewInt(int64(len(pickupAlphabet)))
	var b strings.Builder
	b.Grow(pickupCodeLen)
	for i := 0; i < pickupCodeLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(pickupAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizePickupCode upper-cases and trims a code typed by staff.
func NormalizePickupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
