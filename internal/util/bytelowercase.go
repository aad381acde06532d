package util

import "strings"

// ByteLowercase returns a [byte-lowercase] version of str.
// Non-ASCII bytes are left untouched.
//
// [byte-lowercase]: https://infra.spec.whatwg.org/#byte-lowercase
func ByteLowercase(str string) string {
	for i := 0; i < len(str); i++ {
		if 'A' <= str[i] && str[i] <= 'Z' {
			return strings.Map(byteLowercaseOne, str)
		}
	}
	return str // no allocation in the common case
}

func byteLowercaseOne(asciiRune rune) rune {
	const toLower = 'a' - 'A'
	if 'A' <= asciiRune && asciiRune <= 'Z' {
		return asciiRune + toLower
	}
	return asciiRune
}
