package spain

import (
	"regexp"
	"strings"
)

// control letters indexed by the number modulo 23
const nifLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

var (
	nifPattern = regexp.MustCompile(`^[0-9]{8}[A-Z]$`)
	niePattern = regexp.MustCompile(`^[XYZ][0-9]{7}[A-Z]$`)
	cifPattern = regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSUVW][0-9]{7}[0-9A-J]$`)
)

// IdentifierKind is the family of a Spanish tax identifier
type IdentifierKind string

const (
	KindNIF IdentifierKind = "NIF"
	KindNIE IdentifierKind = "NIE"
	KindCIF IdentifierKind = "CIF"
)

// NormalizeNIF strips the ES prefix, spaces and dashes
func NormalizeNIF(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	id = strings.NewReplacer(" ", "", "-", "", ".", "").Replace(id)
	return strings.TrimPrefix(id, "ES")
}

// ValidNIF reports whether id is a NIF, NIE or CIF with a correct control character
func ValidNIF(id string) bool {
	_, ok := Classify(id)
	return ok
}

// Classify returns the kind of a valid identifier
func Classify(id string) (IdentifierKind, bool) {
	id = NormalizeNIF(id)
	switch {
	case nifPattern.MatchString(id):
		return KindNIF, personalControl(id[:8]) == id[8]
	case niePattern.MatchString(id):
		prefix := strings.IndexByte("XYZ", id[0])
		return KindNIE, personalControl(string(rune('0'+prefix))+id[1:8]) == id[8]
	case cifPattern.MatchString(id):
		return KindCIF, cifControlValid(id)
	}
	return "", false
}

func personalControl(digits string) byte {
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	return nifLetters[n%23]
}

// cifControlValid checks the entity control character. Non-profit and public
// entities use a letter, companies a digit, the rest accept either.
func cifControlValid(id string) bool {
	sum := 0
	for i, r := range id[1:8] {
		d := int(r - '0')
		if i%2 == 0 {
			d *= 2
			d = d/10 + d%10
		}
		sum += d
	}
	digit := (10 - sum%10) % 10
	letter := "JABCDEFGHI"[digit]
	got := id[8]

	switch id[0] {
	case 'N', 'P', 'Q', 'R', 'S', 'W':
		return got == letter
	case 'A', 'B', 'E', 'H':
		return got == byte('0'+digit)
	}
	return got == letter || got == byte('0'+digit)
}
