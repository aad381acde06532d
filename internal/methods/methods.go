// Package methods classifies HTTP methods the way the Fetch standard does.
package methods

import (
	"net/http"

	"github.com/jub0bs/corsguard/internal/util"
	"golang.org/x/net/http/httpguts"
)

// IsValid reports whether name is a valid method, [per the Fetch standard].
//
// [per the Fetch standard]: https://fetch.spec.whatwg.org/#concept-method
func IsValid(name string) bool {
	// Note: the production is identical to that of header names.
	return httpguts.ValidHeaderFieldName(name)
}

// IsForbidden reports whether name is a forbidden method,
// [per the Fetch standard].
//
// [per the Fetch standard]: https://fetch.spec.whatwg.org/#forbidden-method
func IsForbidden(name string) bool {
	return byteLowercasedForbiddenMethods.Contains(util.ByteLowercase(name))
}

var byteLowercasedForbiddenMethods = util.NewSet(
	"connect",
	"trace",
	"track",
)

// IsSafelisted reports whether name is a safelisted method,
// [per the Fetch standard].
//
// [per the Fetch standard]: https://fetch.spec.whatwg.org/#cors-safelisted-method
func IsSafelisted(name string) bool {
	return safelistedMethods.Contains(name)
}

var safelistedMethods = util.NewSet(
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
)

// Normalize [normalizes] name: if name is a byte-case-insensitive match
// for DELETE, GET, HEAD, OPTIONS, POST, or PUT, Normalize returns the
// byte-uppercase version of name; otherwise, it returns name unchanged.
//
// [normalizes]: https://fetch.spec.whatwg.org/#concept-method-normalize
func Normalize(name string) string {
	if upper, found := normalizedMethods[util.ByteLowercase(name)]; found {
		return upper
	}
	return name
}

var normalizedMethods = map[string]string{
	"delete":  http.MethodDelete,
	"get":     http.MethodGet,
	"head":    http.MethodHead,
	"options": http.MethodOptions,
	"post":    http.MethodPost,
	"put":     http.MethodPut,
}
