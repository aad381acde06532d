package headers

import "strings"

// IsForbiddenRequestHeaderName reports whether name is a
// forbidden request-header name [per the Fetch standard].
//
// Precondition: name is a valid and [byte-lowercase] header name.
//
// [byte-lowercase]: https://infra.spec.whatwg.org/#byte-lowercase
// [per the Fetch standard]: https://fetch.spec.whatwg.org/#forbidden-header-name
func IsForbiddenRequestHeaderName(name string) bool {
	switch name {
	case "accept-charset",
		"accept-encoding",
		"access-control-request-headers",
		"access-control-request-method",
		"access-control-request-private-network",
		"connection",
		"content-length",
		"cookie",
		"cookie2",
		"date",
		"dnt",
		"expect",
		"host",
		"keep-alive",
		"origin",
		"referer",
		"set-cookie",
		"te",
		"trailer",
		"transfer-encoding",
		"upgrade",
		"via":
		return true
	default:
		return strings.HasPrefix(name, "proxy-") ||
			strings.HasPrefix(name, "sec-")
	}
}

// IsProhibitedRequestHeaderName reports whether name is a prohibited
// request-header name. Attempts to allow such request headers almost
// always stem from some misunderstanding of CORS.
//
// Precondition: name is a valid and [byte-lowercase] header name.
//
// [byte-lowercase]: https://infra.spec.whatwg.org/#byte-lowercase
func IsProhibitedRequestHeaderName(name string) bool {
	switch name {
	case "access-control-allow-origin",
		"access-control-allow-credentials",
		"access-control-allow-methods",
		"access-control-allow-headers",
		"access-control-max-age",
		"access-control-expose-headers",
		"x-cors-security-check",
		"x-security-score":
		return true
	default:
		return false
	}
}

// IsForbiddenResponseHeaderName reports whether name is a
// forbidden response-header name [per the Fetch standard].
//
// Precondition: name is a valid and [byte-lowercase] header name.
//
// [per the Fetch standard]: https://fetch.spec.whatwg.org/#forbidden-response-header-name
func IsForbiddenResponseHeaderName(name string) bool {
	return name == "set-cookie" || name == "set-cookie2"
}

// IsProhibitedResponseHeaderName reports whether name is a prohibited
// response-header name. Attempts to expose such response headers almost
// always stem from some misunderstanding of CORS.
//
// Precondition: name is a valid and [byte-lowercase] header name.
func IsProhibitedResponseHeaderName(name string) bool {
	switch name {
	case "origin",
		"access-control-request-method",
		"access-control-request-headers",
		"access-control-request-private-network",
		"access-control-allow-methods",
		"access-control-allow-headers",
		"access-control-max-age":
		return true
	default:
		return false
	}
}

// IsSafelistedResponseHeaderName reports whether name is a
// safelisted response-header name [per the Fetch standard].
//
// Precondition: name is a valid and byte-lowercase header name.
//
// [per the Fetch standard]: https://fetch.spec.whatwg.org/#cors-safelisted-response-header-name
func IsSafelistedResponseHeaderName(name string) bool {
	switch name {
	case "cache-control",
		"content-language",
		"content-length",
		"content-type",
		"expires",
		"last-modified",
		"pragma":
		return true
	default:
		return false
	}
}
