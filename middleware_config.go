package corsguard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jub0bs/corsguard/cfgerrors"
	"github.com/jub0bs/corsguard/internal/headers"
	"github.com/jub0bs/corsguard/internal/methods"
	"github.com/jub0bs/corsguard/internal/util"
)

// A MiddlewareConfig configures what a [Middleware] allows the origins
// trusted by its [Engine] to do. Which origins are trusted is entirely up
// to the Engine.
//
// # Credentialed
//
// Credentialed, when set, configures a middleware to allow
// [credentialed access] (e.g. with [cookies])
// in addition to anonymous access.
//
// # Methods
//
// Methods configures a middleware to allow any of the specified
// HTTP methods. Method names are case-sensitive,
// except for the standard ones.
//
//	Methods: []string{
//	  http.MethodGet,
//	  http.MethodPost,
//	  http.MethodPut,
//	  "PURGE",
//	}
//
// A single asterisk denotes all methods.
// The [CORS-safelisted methods] (GET, HEAD, and POST) are always allowed.
// Specifying [forbidden method names] is prohibited.
//
// # RequestHeaders
//
// RequestHeaders configures a middleware to allow any of the
// specified request headers. Header names are case-insensitive.
//
// When credentialed access is enabled, a single asterisk denotes all
// request-header names. Otherwise, it denotes all request-header names
// other than [Authorization], which must then be specified explicitly:
//
//	RequestHeaders: []string{"*", "Authorization"},
//
// Specifying [forbidden request-header names] is prohibited, as is
// specifying the names of CORS response headers.
//
// # MaxAgeInSeconds
//
// MaxAgeInSeconds configures a middleware to instruct browsers
// to cache preflight responses for a duration no longer than
// the specified number of seconds.
// The zero value instructs browsers to use their default of five seconds;
// -1 instructs them not to cache preflight responses.
// No other negative value is permitted, nor is any value larger than 86400.
//
// # ResponseHeaders
//
// ResponseHeaders configures a middleware to expose the specified
// response headers to clients. Header names are case-insensitive.
// A single asterisk denotes all response-header names,
// but only if credentialed access is disabled.
// Specifying [forbidden response-header names] is prohibited, as is
// specifying the names of CORS request headers.
//
// [Authorization]: https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers/Authorization
// [CORS-safelisted methods]: https://fetch.spec.whatwg.org/#cors-safelisted-method
// [cookies]: https://developer.mozilla.org/en-US/docs/Web/HTTP/Cookies
// [credentialed access]: https://fetch.spec.whatwg.org/#concept-request-credentials-mode
// [forbidden method names]: https://fetch.spec.whatwg.org/#forbidden-method
// [forbidden request-header names]: https://fetch.spec.whatwg.org/#forbidden-request-header
// [forbidden response-header names]: https://fetch.spec.whatwg.org/#forbidden-response-header-name
type MiddlewareConfig struct {
	// Precludes comparability, unkeyed struct literals, and conversion to and
	// from third-party types.
	_ [0]func()

	Credentialed    bool
	Methods         []string
	RequestHeaders  []string
	MaxAgeInSeconds int
	ResponseHeaders []string
}

type middlewareConfig struct {
	aceh               string
	allowedMethods     util.Set          // allowedMethods.Size() > 0 => !allowAnyMethod
	allowedReqHdrs     headers.SortedSet // allowedReqHdrs.Size() > 0 => !asteriskReqHdrs
	acah               []string
	credentialed       bool
	allowAnyMethod     bool
	asteriskReqHdrs    bool
	allowAuthorization bool
	acma               []string
}

func newMiddlewareConfig(cfg *MiddlewareConfig) (*middlewareConfig, error) {
	icfg := middlewareConfig{
		credentialed: cfg.Credentialed,
	}

	// Accumulate errors in a slice so as to call errors.Join at most once.
	errs := icfg.validateMethods(nil, cfg.Methods)
	errs = icfg.validateRequestHeaders(errs, cfg.RequestHeaders)
	errs = icfg.validateMaxAge(errs, cfg.MaxAgeInSeconds)
	errs = icfg.validateResponseHeaders(errs, cfg.ResponseHeaders)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &icfg, nil
}

func (icfg *middlewareConfig) validateMethods(errs []error, names []string) []error {
	for _, name := range names {
		if name == headers.ValueWildcard {
			if icfg.allowAnyMethod {
				continue
			}
			// We no longer need to maintain a set of allowed methods.
			icfg.allowedMethods = util.Set{}
			icfg.allowAnyMethod = true
			continue
		}
		if !methods.IsValid(name) {
			err := &cfgerrors.UnacceptableMethodError{
				Value:  name,
				Reason: "invalid",
			}
			errs = append(errs, err)
			continue
		}
		name = methods.Normalize(name)
		if methods.IsSafelisted(name) {
			continue
		}
		if methods.IsForbidden(name) {
			err := &cfgerrors.UnacceptableMethodError{
				Value:  name,
				Reason: "forbidden",
			}
			errs = append(errs, err)
			continue
		}
		if !icfg.allowAnyMethod {
			icfg.allowedMethods.Add(name)
		}
	}
	return errs
}

func (icfg *middlewareConfig) validateRequestHeaders(errs []error, names []string) []error {
	if len(names) == 0 {
		return errs
	}
	var (
		allowed  []string
		nbErrors = len(errs)
	)
	for _, name := range names {
		if name == headers.ValueWildcard {
			icfg.asteriskReqHdrs = true
			continue
		}
		if !headers.IsValid(name) {
			err := &cfgerrors.UnacceptableHeaderNameError{
				Value:  name,
				Type:   "request",
				Reason: "invalid",
			}
			errs = append(errs, err)
			continue
		}
		// Browsers byte-lowercase the names they list in ACRH; see
		// https://fetch.spec.whatwg.org/#cors-unsafe-request-header-names.
		normalized := strings.ToLower(name)
		if normalized == headers.Authorization {
			icfg.allowAuthorization = true
			allowed = append(allowed, normalized)
			continue
		}
		if headers.IsForbiddenRequestHeaderName(normalized) {
			err := &cfgerrors.UnacceptableHeaderNameError{
				Value:  name,
				Type:   "request",
				Reason: "forbidden",
			}
			errs = append(errs, err)
			continue
		}
		if headers.IsProhibitedRequestHeaderName(normalized) {
			err := &cfgerrors.UnacceptableHeaderNameError{
				Value:  name,
				Type:   "request",
				Reason: "prohibited",
			}
			errs = append(errs, err)
			continue
		}
		allowed = append(allowed, normalized)
	}
	if len(errs) > nbErrors {
		return errs
	}
	switch {
	case icfg.asteriskReqHdrs && icfg.credentialed:
		// ACRH gets reflected.
	case icfg.asteriskReqHdrs && icfg.allowAuthorization:
		// The wildcard doesn't cover Authorization; see
		// https://fetch.spec.whatwg.org/#cors-non-wildcard-request-header-name.
		icfg.acah = headers.WildcardAuthSgl
	case icfg.asteriskReqHdrs:
		icfg.acah = headers.WildcardSgl
	default:
		icfg.allowedReqHdrs = headers.NewSortedSet(allowed...)
	}
	return errs
}

func (icfg *middlewareConfig) validateMaxAge(errs []error, delta int) []error {
	const (
		// see https://fetch.spec.whatwg.org/#cors-preflight-fetch-0, step 7.9
		defaultMaxAge = 5
		// Firefox caps max-age at 86400; other browsers, at lower values.
		upperBound = 86400
		// sentinel value for disabling preflight caching
		disableCaching = -1
	)
	switch {
	case delta < disableCaching || upperBound < delta:
		err := &cfgerrors.MaxAgeOutOfBoundsError{
			Value:   delta,
			Default: defaultMaxAge,
			Max:     upperBound,
			Disable: disableCaching,
		}
		return append(errs, err)
	case delta == disableCaching:
		icfg.acma = []string{"0"}
		return errs
	case delta == 0:
		return errs
	default:
		icfg.acma = []string{strconv.Itoa(delta)}
		return errs
	}
}

func (icfg *middlewareConfig) validateResponseHeaders(errs []error, names []string) []error {
	if len(names) == 0 {
		return errs
	}
	var (
		exposedHeaders   util.Set
		exposeAllResHdrs bool
		nbErrors         = len(errs)
	)
	for _, name := range names {
		if name == headers.ValueWildcard {
			if icfg.credentialed {
				// With credentialed access, browsers interpret the
				// wildcard literally; see
				// https://fetch.spec.whatwg.org/#http-access-control-expose-headers.
				err := &cfgerrors.UnacceptableHeaderNameError{
					Value:  name,
					Type:   "response",
					Reason: "prohibited",
				}
				errs = append(errs, err)
				continue
			}
			exposeAllResHdrs = true
			continue
		}
		if !headers.IsValid(name) {
			err := &cfgerrors.UnacceptableHeaderNameError{
				Value:  name,
				Type:   "response",
				Reason: "invalid",
			}
			errs = append(errs, err)
			continue
		}
		normalized := strings.ToLower(name)
		if headers.IsForbiddenResponseHeaderName(normalized) {
			err := &cfgerrors.UnacceptableHeaderNameError{
				Value:  name,
				Type:   "response",
				Reason: "forbidden",
			}
			errs = append(errs, err)
			continue
		}
		if headers.IsProhibitedResponseHeaderName(normalized) {
			err := &cfgerrors.UnacceptableHeaderNameError{
				Value:  name,
				Type:   "response",
				Reason: "prohibited",
			}
			errs = append(errs, err)
			continue
		}
		if headers.IsSafelistedResponseHeaderName(normalized) {
			// silently tolerate safelisted response-header names
			continue
		}
		exposedHeaders.Add(normalized)
	}
	if len(errs) > nbErrors {
		return errs
	}
	switch {
	case exposeAllResHdrs:
		icfg.aceh = headers.ValueWildcard
	case exposedHeaders.Size() > 0:
		// Whitespace is optional between list elements; let's not use any.
		icfg.aceh = strings.Join(exposedHeaders.ToSlice(), headers.ValueSep)
	}
	return errs
}

const (
	// Any 2xx status marks a preflight response as successful.
	preflightOKStatus   = http.StatusNoContent
	preflightFailStatus = http.StatusForbidden
	deniedStatus        = http.StatusForbidden
)

// newMiddlewareConfig's inverse.
func (icfg *middlewareConfig) config() *MiddlewareConfig {
	cfg := MiddlewareConfig{
		Credentialed: icfg.credentialed,
	}
	if icfg.aceh != "" {
		cfg.ResponseHeaders = strings.Split(icfg.aceh, headers.ValueSep)
	}
	switch {
	case icfg.allowAnyMethod:
		cfg.Methods = []string{headers.ValueWildcard}
	case icfg.allowedMethods.Size() > 0:
		cfg.Methods = icfg.allowedMethods.ToSlice()
	}
	switch {
	case icfg.asteriskReqHdrs && !icfg.credentialed && icfg.allowAuthorization:
		cfg.RequestHeaders = []string{headers.ValueWildcard, headers.Authorization}
	case icfg.asteriskReqHdrs:
		cfg.RequestHeaders = []string{headers.ValueWildcard}
	case icfg.allowedReqHdrs.Size() > 0:
		cfg.RequestHeaders = icfg.allowedReqHdrs.ToSlice()
	}
	if len(icfg.acma) > 0 {
		maxAge, _ := strconv.Atoi(icfg.acma[0]) // safe, by construction
		if maxAge != 0 {
			cfg.MaxAgeInSeconds = maxAge
		} else {
			cfg.MaxAgeInSeconds = -1
		}
	}
	return &cfg
}
