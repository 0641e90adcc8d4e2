// Package util provides utility functions for the FormPipe application.
package util

import (
	"math/rand/v2"
	"strings"
)

// TagCodeLength is the length of generated player tag codes.
const TagCodeLength = 6

// tagCodeChars excludes easily-confused characters (0/O, 1/I/L) so codes
// survive being read off a bandana card in the field.
const tagCodeChars = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// GenerateTagCode generates a player tag code from the unambiguous
// character set.
func GenerateTagCode() string {
	var builder strings.Builder
	builder.Grow(TagCodeLength)
	for i := 0; i < TagCodeLength; i++ {
		builder.WriteByte(tagCodeChars[rand.IntN(len(tagCodeChars))])
	}
	return builder.String()
}
