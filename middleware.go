package corsguard

import (
	"errors"
	"maps"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/jub0bs/corsguard/internal/headers"
	"github.com/jub0bs/corsguard/internal/methods"
)

// A Middleware is a CORS middleware that delegates the decision of whether
// to trust a request's origin to an [Engine].
// Call its [*Middleware.Wrap] method to apply it to a [http.Handler].
//
// For every CORS request, the middleware reports the outcome of the
// decision in an X-Cors-Security-Check response header (either "passed"
// or "failed") and the security score in an X-Security-Score response
// header. CORS requests whose origin is denied get a 403 response without
// a body and without any permissive CORS headers; the wrapped handler
// isn't invoked. Requests that carry no Origin header are passed through.
//
// A Middleware must not be copied after first use.
//
// Middleware are safe for concurrent use by multiple goroutines.
type Middleware struct {
	engine *Engine
	icfg   atomic.Pointer[middlewareConfig]
}

var errNilEngine = errors.New("corsguard: nil engine")

// NewMiddleware creates a CORS middleware that consults e and otherwise
// behaves in accordance with cfg.
// If cfg is invalid, it returns a nil [*Middleware] and some non-nil error.
//
// Mutating the fields of cfg after NewMiddleware has returned does not
// alter the middleware's behavior.
// However, you can reconfigure a [Middleware] via its
// [*Middleware.Reconfigure] method.
//
// If you need to programmatically handle the configuration errors constitutive
// of the resulting error, rely on package [github.com/jub0bs/corsguard/cfgerrors].
func NewMiddleware(e *Engine, cfg MiddlewareConfig) (*Middleware, error) {
	if e == nil {
		return nil, errNilEngine
	}
	icfg, err := newMiddlewareConfig(&cfg)
	if err != nil {
		return nil, err
	}
	m := Middleware{engine: e}
	m.icfg.Store(icfg)
	return &m, nil
}

// Reconfigure reconfigures m in accordance with cfg.
// If cfg is invalid, it leaves m unchanged and returns some non-nil error.
// The following statement is guaranteed to be a no-op:
//
//	m.Reconfigure(*m.Config())
//
// You can safely reconfigure a middleware
// even as it's concurrently processing requests.
func (m *Middleware) Reconfigure(cfg MiddlewareConfig) error {
	icfg, err := newMiddlewareConfig(&cfg)
	if err != nil {
		return err
	}
	m.icfg.Store(icfg)
	return nil
}

// Config returns a pointer to a deep copy of m's current configuration.
// Mutating the fields of the result does not alter m's behavior.
func (m *Middleware) Config() *MiddlewareConfig {
	return m.icfg.Load().config()
}

// Wrap applies the CORS middleware to the specified handler.
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		icfg := m.icfg.Load()
		// Fetch-compliant browsers send at most one Origin header;
		// see https://fetch.spec.whatwg.org/#http-network-or-cache-fetch
		// (step 12).
		origin, originSgl, found := headers.First(r.Header, headers.Origin)
		if !found || origin == "" {
			// r is NOT a CORS request;
			// see https://fetch.spec.whatwg.org/#cors-request.
			h.ServeHTTP(w, r)
			return
		}
		d := m.engine.Validate(Request{
			Origin:        origin,
			UserAgent:     r.UserAgent(),
			ClientAddress: clientAddress(r),
		})
		resHdrs := w.Header()
		// Outer middleware may have already set a Vary header,
		// which we mustn't clobber.
		resHdrs.Add(headers.Vary, headers.Origin)

		// Fetch-compliant browsers send at most one ACRM header;
		// see https://fetch.spec.whatwg.org/#cors-preflight-fetch (step 3).
		acrm, acrmSgl, found := headers.First(r.Header, headers.ACRM)
		if r.Method == http.MethodOptions && found {
			// r is a CORS-preflight request.
			// Because h.ServeHTTP is not called in this branch,
			// we can safely rely on some precomputed slices.
			icfg.handleCORSPreflight(w, r.Header, &d, originSgl, acrm, acrmSgl)
			return
		}
		setOutcome(resHdrs, &d)
		if !d.Allowed {
			w.WriteHeader(deniedStatus)
			return
		}
		icfg.handleCORSActual(resHdrs, origin)
		h.ServeHTTP(w, r)
	})
}

func setOutcome(resHdrs http.Header, d *Decision) {
	if d.Allowed {
		resHdrs.Set(headers.SecurityCheck, headers.ValuePassed)
	} else {
		resHdrs.Set(headers.SecurityCheck, headers.ValueFailed)
	}
	resHdrs.Set(headers.SecurityScore, strconv.Itoa(d.SecurityScore))
}

// clientAddress returns the IP address of r's client, or r.RemoteAddr
// if the latter has no port.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (icfg *middlewareConfig) handleCORSPreflight(
	w http.ResponseWriter,
	reqHdrs http.Header,
	d *Decision,
	originSgl []string,
	acrm string,
	acrmSgl []string,
) {
	resHdrs := w.Header()
	if d.Allowed {
		resHdrs[headers.SecurityCheck] = headers.PassedSgl
	} else {
		resHdrs[headers.SecurityCheck] = headers.FailedSgl
	}
	resHdrs[headers.SecurityScore] = []string{strconv.Itoa(d.SecurityScore)}
	if !d.Allowed {
		w.WriteHeader(preflightFailStatus)
		return
	}

	// Populating a small local map incurs no heap allocation on average;
	// a simple http.Header will do.
	buf := make(http.Header)
	buf[headers.ACAO] = originSgl
	if icfg.credentialed {
		// Preflight requests never carry credentials; see
		// https://fetch.spec.whatwg.org/#example-xhr-credentials.
		buf[headers.ACAC] = headers.TrueSgl
	}
	// For the order of the following checks, see
	// https://fetch.spec.whatwg.org/#cors-preflight-fetch, item 7.
	if !icfg.processACRM(buf, acrm, acrmSgl) || !icfg.processACRH(buf, reqHdrs) {
		w.WriteHeader(preflightFailStatus)
		return
	}
	maps.Copy(resHdrs, buf)
	if icfg.acma != nil {
		resHdrs[headers.ACMA] = icfg.acma
	}
	w.WriteHeader(preflightOKStatus)
}

// Note: only for _non-preflight_ CORS requests whose origin is allowed
func (icfg *middlewareConfig) handleCORSActual(resHdrs http.Header, origin string) {
	// The wrapped handler could mutate precomputed slices,
	// hence Set rather than direct assignment to resHdrs;
	// see https://github.com/rs/cors/issues/198.
	resHdrs.Set(headers.ACAO, origin)
	if icfg.credentialed {
		// A request's credentials mode isn't observable on the server;
		// see https://fetch.spec.whatwg.org/#example-xhr-credentials.
		resHdrs.Set(headers.ACAC, headers.ValueTrue)
	}
	if icfg.aceh != "" {
		resHdrs.Set(headers.ACEH, icfg.aceh)
	}
}

func (icfg *middlewareConfig) processACRM(
	buf http.Header,
	acrm string,
	acrmSgl []string,
) bool {
	if methods.IsSafelisted(acrm) {
		// CORS-safelisted methods get a free pass; see
		// https://fetch.spec.whatwg.org/#ref-for-cors-safelisted-method%E2%91%A2.
		return true
	}
	// Only ever list the requested method in ACAM, so as not to disclose
	// the other allowed methods.
	if icfg.allowAnyMethod && !icfg.credentialed {
		buf[headers.ACAM] = headers.WildcardSgl
		return true
	}
	if icfg.allowAnyMethod || icfg.allowedMethods.Contains(acrm) {
		buf[headers.ACAM] = acrmSgl
		return true
	}
	return false
}

func (icfg *middlewareConfig) processACRH(buf http.Header, reqHdrs http.Header) bool {
	// Some intermediaries split the ACRH header into multiple lines;
	// see https://github.com/rs/cors/issues/184.
	acrh, found := reqHdrs[headers.ACRH]
	if !found {
		return true
	}
	switch {
	case icfg.asteriskReqHdrs && !icfg.credentialed:
		buf[headers.ACAH] = icfg.acah
		return true
	case icfg.asteriskReqHdrs:
		// With credentialed access, the wildcard is interpreted literally;
		// reflecting ACRH is the only way to allow all request headers.
		buf[headers.ACAH] = acrh
		return true
	case !icfg.allowedReqHdrs.Accepts(acrh):
		return false
	default:
		// Browsers handle multiple ACAH header lines; see
		// https://fetch.spec.whatwg.org/#cors-preflight-fetch-0.
		buf[headers.ACAH] = acrh
		return true
	}
}
