package pdfgate

import (
	"crypto/subtle"

	"github.com/xdg-go/stringprep"
)

// preparePassword normalises a password with SASLprep so that visually
// identical Unicode input compares equal.
func preparePassword(password string) (string, error) {
	return stringprep.SASLprep.Prepare(password)
}

// passwordsMatch compares two passwords after preparation in constant
// time. Input that SASLprep rejects never matches.
func passwordsMatch(given, want string) bool {
	a, err := preparePassword(given)
	if err != nil {
		return false
	}
	b, err := preparePassword(want)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
