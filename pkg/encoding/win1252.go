package encoding

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 converts WIN1252 bytes (the charset of legacy Firebird regions) to a UTF-8 string.
// Input that is already valid UTF-8 is returned as is.
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	if utf8.Valid(b) {
		return strings.TrimSpace(string(b))
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}

	return strings.TrimSpace(string(decoded))
}

// FromUTF8 encodes a UTF-8 string for a WIN1252 column. Runes outside the charset fail.
func FromUTF8(s string) ([]byte, error) {
	return charmap.Windows1252.NewEncoder().Bytes([]byte(s))
}
