// Package headers provides the header names and the header-parsing
// primitives needed by the CORS middleware.
package headers

import (
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// header names in canonical format
const (
	Origin    = "Origin"
	UserAgent = "User-Agent"

	// preflight-only request headers
	ACRM = "Access-Control-Request-Method"
	ACRH = "Access-Control-Request-Headers"

	// common response headers
	ACAO = "Access-Control-Allow-Origin"
	ACAC = "Access-Control-Allow-Credentials"

	// preflight-only response headers
	ACAM = "Access-Control-Allow-Methods"
	ACAH = "Access-Control-Allow-Headers"
	ACMA = "Access-Control-Max-Age"

	// actual-only response headers
	ACEH = "Access-Control-Expose-Headers"

	Vary = "Vary"

	// security-check response headers
	SecurityCheck = "X-Cors-Security-Check"
	SecurityScore = "X-Security-Score"
)

const Authorization = "authorization" // note: byte-lowercase

const (
	ValueTrue     = "true"
	ValueWildcard = "*"
	ValuePassed   = "passed"
	ValueFailed   = "failed"
)

const ValueSep = ","

var ( // each of them an effective constant wrapped in a (singleton) slice
	TrueSgl         = []string{ValueTrue}
	WildcardSgl     = []string{ValueWildcard}
	WildcardAuthSgl = []string{ValueWildcard + ValueSep + Authorization}
	PassedSgl       = []string{ValuePassed}
	FailedSgl       = []string{ValueFailed}
)

// IsValid reports whether name is a valid header name,
// [per the Fetch standard].
//
// [per the Fetch standard]: https://fetch.spec.whatwg.org/#header-name
func IsValid(name string) bool {
	return httpguts.ValidHeaderFieldName(name)
}

// First, if k is present in hdrs, returns the value associated to k in hdrs,
// a singleton slice containing that value, and true;
// otherwise, First returns "", nil, false.
// Precondition: k is in canonical format (see [http.CanonicalHeaderKey]).
//
// First is useful because, contrary to [http.Header.Get], it returns a slice
// that can be reused, which saves a heap allocation in client code.
func First(hdrs http.Header, k string) (string, []string, bool) {
	v, found := hdrs[k]
	if !found || len(v) == 0 {
		return "", nil, false
	}
	return v[0], v[:1], true
}
