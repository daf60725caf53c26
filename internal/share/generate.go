package share

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const (
	codeSpace  = 10000 // 4 digits
	idLength   = 6
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]{6}$`)

// NewCode generates a cryptographically secure 4-digit access code.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// NewID generates a 6-character alphanumeric file identifier.
func NewID() (string, error) {
	max := big.NewInt(int64(len(idAlphabet)))
	b := make([]byte, idLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b), nil
}

// ValidID reports whether id has the shape produced by NewID.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
