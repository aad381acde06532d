package corsguard_test

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/jub0bs/corsguard"
	"github.com/jub0bs/corsguard/cfgerrors"
)

var cfgTypes = []reflect.Type{
	reflect.TypeFor[corsguard.Config](),
	reflect.TypeFor[corsguard.MiddlewareConfig](),
}

// We want our exported struct types to be incomparable because, otherwise,
// client code could rely on their comparability.
func TestIncomparability(t *testing.T) {
	for _, typ := range cfgTypes {
		f := func(t *testing.T) {
			if typ.Comparable() {
				t.Errorf("type %v is comparable, but should not be", typ)
			}
		}
		t.Run(typ.String(), f)
	}
}

// We don't want client code to rely on unkeyed literals
// of our exported struct types.
func TestImpossibilityOfUnkeyedStructLiterals(t *testing.T) {
	for _, typ := range cfgTypes {
		f := func(t *testing.T) {
			var unexportedFields bool
			for i := range typ.NumField() {
				if !typ.Field(i).IsExported() {
					unexportedFields = true
					break
				}
			}
			if !unexportedFields {
				t.Errorf("type %v has no unexported fields, but should have at least one", typ)
			}
		}
		t.Run(typ.String(), f)
	}
}

func TestPossibilityToMarshalMiddlewareConfig(t *testing.T) {
	cfg := corsguard.MiddlewareConfig{
		Credentialed:    true,
		Methods:         []string{http.MethodPost},
		RequestHeaders:  []string{"Authorization"},
		MaxAgeInSeconds: 30,
		ResponseHeaders: []string{"X-Response-Time"},
	}
	enc := json.NewEncoder(io.Discard)
	if err := enc.Encode(cfg); err != nil {
		t.Error("corsguard.MiddlewareConfig cannot be marshaled to JSON, but should be")
	}
}

func TestEffectiveConfig(t *testing.T) {
	cfg := corsguard.Config{
		Environment:     corsguard.Production,
		Whitelist:       productionWhitelist,
		RateLimit:       50,
		BlockDuration:   2 * time.Hour,
		RateLimitWindow: 2 * time.Hour,
		Policy: corsguard.Policy{
			MinScore:   -30,
			BotPenalty: -1,
		},
	}
	e := newEngine(t, cfg, newFakeClock())
	got := e.Config()
	cases := []struct {
		desc string
		got  any
		want any
	}{
		{"Environment", got.Environment, corsguard.Production},
		{"WhitelistRefreshInterval", got.WhitelistRefreshInterval, 5 * time.Minute},
		{"WhitelistTimeout", got.WhitelistTimeout, 5 * time.Second},
		{"WhitelistMaxStaleness", got.WhitelistMaxStaleness, 30 * time.Minute},
		{"ReputationLookback", got.ReputationLookback, 24 * time.Hour},
		{"ReputationCacheSize", got.ReputationCacheSize, 10_000},
		{"ReputationCacheTTL", got.ReputationCacheTTL, 5 * time.Minute},
		{"ReputationQueueSize", got.ReputationQueueSize, 1024},
		{"RateLimit", got.RateLimit, 50},
		{"RateLimitWindow", got.RateLimitWindow, 2 * time.Hour},
		{"BlockDuration", got.BlockDuration, 2 * time.Hour},
		{"CleanupInterval", got.CleanupInterval, time.Hour},
		{"IdleWindowTTL", got.IdleWindowTTL, 2 * time.Hour},
		{"Policy.MinScore", got.Policy.MinScore, -30},
		{"Policy.PatternPenalty", got.Policy.PatternPenalty, 10},
		{"Policy.TLDPenalty", got.Policy.TLDPenalty, 15},
		{"Policy.PortPenalty", got.Policy.PortPenalty, 5},
		{"Policy.BotPenalty", got.Policy.BotPenalty, -1},
		{"Policy.ReputationPenalty", got.Policy.ReputationPenalty, 10},
		{"Policy.MinReputationSamples", got.Policy.MinReputationSamples, 10},
		{"Policy.ReputationRiskThreshold", got.Policy.ReputationRiskThreshold, 50},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %v; want %v", tc.desc, tc.got, tc.want)
		}
	}
}

type InvalidConfigTestCase struct {
	desc string
	cfg  *corsguard.Config
	want []*errorMatcher
}

var invalidConfigTestCases = []InvalidConfigTestCase{
	{
		desc: "no environment",
		cfg:  &corsguard.Config{},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.UnacceptableEnvironmentError{}),
		},
	}, {
		desc: "unknown environment",
		cfg: &corsguard.Config{
			Environment: "Production",
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.UnacceptableEnvironmentError{
				Value: "Production",
			}),
		},
	}, {
		desc: "production without whitelist",
		cfg: &corsguard.Config{
			Environment: corsguard.Production,
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.MissingWhitelistError{
				Environment: "production",
			}),
		},
	}, {
		desc: "negative rate limit",
		cfg: &corsguard.Config{
			Environment: corsguard.Development,
			RateLimit:   -1,
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.OutOfBoundsError{
				Field: "RateLimit",
				Value: -1,
				Min:   1,
				Max:   1_000_000,
			}),
		},
	}, {
		desc: "negative durations",
		cfg: &corsguard.Config{
			Environment:      corsguard.Development,
			BlockDuration:    -time.Hour,
			WhitelistTimeout: -time.Second,
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.DurationOutOfBoundsError{
				Field: "BlockDuration",
				Value: -time.Hour,
				Min:   time.Second,
				Max:   30 * 24 * time.Hour,
			}),
			newErrorMatcher(&cfgerrors.DurationOutOfBoundsError{
				Field: "WhitelistTimeout",
				Value: -time.Second,
				Min:   time.Millisecond,
				Max:   time.Minute,
			}),
		},
	}, {
		desc: "idle TTL shorter than rate-limiting window",
		cfg: &corsguard.Config{
			Environment:     corsguard.Development,
			RateLimitWindow: 2 * time.Hour,
			IdleWindowTTL:   time.Hour,
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.DurationOutOfBoundsError{
				Field: "IdleWindowTTL",
				Value: time.Hour,
				Min:   2 * time.Hour,
				Max:   7 * 24 * time.Hour,
			}),
		},
	}, {
		desc: "max staleness shorter than refresh interval",
		cfg: &corsguard.Config{
			Environment:              corsguard.Production,
			Whitelist:                productionWhitelist,
			WhitelistRefreshInterval: time.Hour,
			WhitelistMaxStaleness:    45 * time.Minute,
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.DurationOutOfBoundsError{
				Field: "WhitelistMaxStaleness",
				Value: 45 * time.Minute,
				Min:   time.Hour,
				Max:   7 * 24 * time.Hour,
			}),
		},
	}, {
		desc: "invalid policy",
		cfg: &corsguard.Config{
			Environment: corsguard.Development,
			Policy: corsguard.Policy{
				MinScore:                20,
				PatternPenalty:          -2,
				TLDPenalty:              1001,
				ReputationRiskThreshold: 101,
			},
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.OutOfBoundsError{
				Field: "Policy.MinScore",
				Value: 20,
				Min:   -1000,
				Max:   -1,
			}),
			newErrorMatcher(&cfgerrors.OutOfBoundsError{
				Field: "Policy.PatternPenalty",
				Value: -2,
				Min:   -1,
				Max:   1000,
			}),
			newErrorMatcher(&cfgerrors.OutOfBoundsError{
				Field: "Policy.TLDPenalty",
				Value: 1001,
				Min:   -1,
				Max:   1000,
			}),
			newErrorMatcher(&cfgerrors.OutOfBoundsError{
				Field: "Policy.ReputationRiskThreshold",
				Value: 101,
				Min:   1,
				Max:   100,
			}),
		},
	},
}

func TestIncorrectConfig(t *testing.T) {
	for _, tc := range invalidConfigTestCases {
		f := func(t *testing.T) {
			e, err := corsguard.NewEngine(*tc.cfg)
			if e != nil {
				t.Error("got non-nil *Engine; want nil *Engine")
			}
			assertErrors(t, err, tc.want)
		}
		t.Run(tc.desc, f)
	}
}

func TestMiddlewareConfig(t *testing.T) {
	cases := []struct {
		desc string
		cfg  corsguard.MiddlewareConfig
		want *corsguard.MiddlewareConfig
	}{
		{
			desc: "zero",
			want: &corsguard.MiddlewareConfig{},
		}, {
			desc: "anonymous allow all",
			cfg: corsguard.MiddlewareConfig{
				Methods: []string{"*"},
				RequestHeaders: []string{
					"authoriZation",
					"*",
					"Authorization",
				},
				ResponseHeaders: []string{"*"},
			},
			want: &corsguard.MiddlewareConfig{
				Methods:         []string{"*"},
				RequestHeaders:  []string{"*", "authorization"},
				ResponseHeaders: []string{"*"},
			},
		}, {
			desc: "discrete methods discrete headers no caching",
			cfg: corsguard.MiddlewareConfig{
				Methods: []string{"put", "PURGE", "GET", "delete"},
				RequestHeaders: []string{
					"x-foO",
					"x-Bar",
					"authoRizaTion",
					"Authorization",
				},
				MaxAgeInSeconds: -1,
				ResponseHeaders: []string{
					"x-FOO",
					"X-baR",
					"x-foo",
					"Content-Type",
				},
			},
			want: &corsguard.MiddlewareConfig{
				Methods:         []string{"DELETE", "PURGE", "PUT"},
				RequestHeaders:  []string{"authorization", "x-bar", "x-foo"},
				MaxAgeInSeconds: -1,
				ResponseHeaders: []string{"x-bar", "x-foo"},
			},
		}, {
			desc: "credentialed all req headers",
			cfg: corsguard.MiddlewareConfig{
				Credentialed:    true,
				Methods:         []string{"POST", "PUT"},
				RequestHeaders:  []string{"*", "Authorization"},
				MaxAgeInSeconds: 30,
			},
			want: &corsguard.MiddlewareConfig{
				Credentialed:    true,
				Methods:         []string{"PUT"},
				RequestHeaders:  []string{"*"},
				MaxAgeInSeconds: 30,
			},
		},
	}
	cfg := corsguard.Config{
		Environment: corsguard.Development,
	}
	e := newEngine(t, cfg, newFakeClock())
	for _, tc := range cases {
		f := func(t *testing.T) {
			mw, err := corsguard.NewMiddleware(e, tc.cfg)
			if err != nil {
				t.Fatalf("failure to build CORS middleware: %v", err)
			}
			got := mw.Config()
			assertMiddlewareConfigEqual(t, got, tc.want)
			if err := mw.Reconfigure(*got); err != nil {
				t.Fatalf("failure to reconfigure CORS middleware: %v", err)
			}
			assertMiddlewareConfigEqual(t, mw.Config(), tc.want)
		}
		t.Run(tc.desc, f)
	}
}

func assertMiddlewareConfigEqual(t *testing.T, got, want *corsguard.MiddlewareConfig) {
	t.Helper()
	if got.Credentialed != want.Credentialed {
		const tmpl = "Credentialed: got %t; want %t"
		t.Errorf(tmpl, got.Credentialed, want.Credentialed)
	}
	if !slices.Equal(got.Methods, want.Methods) {
		t.Errorf("Methods: got %q; want %q", got.Methods, want.Methods)
	}
	if !slices.Equal(got.RequestHeaders, want.RequestHeaders) {
		const tmpl = "RequestHeaders: got %q; want %q"
		t.Errorf(tmpl, got.RequestHeaders, want.RequestHeaders)
	}
	if got.MaxAgeInSeconds != want.MaxAgeInSeconds {
		const tmpl = "MaxAgeInSeconds: got %d; want %d"
		t.Errorf(tmpl, got.MaxAgeInSeconds, want.MaxAgeInSeconds)
	}
	if !slices.Equal(got.ResponseHeaders, want.ResponseHeaders) {
		const tmpl = "ResponseHeaders: got %q; want %q"
		t.Errorf(tmpl, got.ResponseHeaders, want.ResponseHeaders)
	}
}

var invalidMiddlewareConfigTestCases = []struct {
	desc string
	cfg  corsguard.MiddlewareConfig
	want []*errorMatcher
}{
	{
		desc: "invalid and forbidden methods",
		cfg: corsguard.MiddlewareConfig{
			Methods: []string{"", "résumé", "CONNECT", "trace"},
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.UnacceptableMethodError{
				Value:  "",
				Reason: "invalid",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableMethodError{
				Value:  "résumé",
				Reason: "invalid",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableMethodError{
				Value:  "CONNECT",
				Reason: "forbidden",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableMethodError{
				Value:  "trace",
				Reason: "forbidden",
			}),
		},
	}, {
		desc: "unacceptable request-header names",
		cfg: corsguard.MiddlewareConfig{
			RequestHeaders: []string{
				"x-foo:",
				"Cookie",
				"Sec-Fetch-Mode",
				"Access-Control-Allow-Origin",
				"X-Security-Score",
			},
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "x-foo:",
				Type:   "request",
				Reason: "invalid",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "Cookie",
				Type:   "request",
				Reason: "forbidden",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "Sec-Fetch-Mode",
				Type:   "request",
				Reason: "forbidden",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "Access-Control-Allow-Origin",
				Type:   "request",
				Reason: "prohibited",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "X-Security-Score",
				Type:   "request",
				Reason: "prohibited",
			}),
		},
	}, {
		desc: "out-of-bounds max age",
		cfg: corsguard.MiddlewareConfig{
			MaxAgeInSeconds: 86401,
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.MaxAgeOutOfBoundsError{
				Value:   86401,
				Default: 5,
				Max:     86400,
				Disable: -1,
			}),
		},
	}, {
		desc: "unacceptable response-header names",
		cfg: corsguard.MiddlewareConfig{
			Credentialed:    true,
			ResponseHeaders: []string{"*", "Set-Cookie", "Origin", "x foo"},
		},
		want: []*errorMatcher{
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "*",
				Type:   "response",
				Reason: "prohibited",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "Set-Cookie",
				Type:   "response",
				Reason: "forbidden",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "Origin",
				Type:   "response",
				Reason: "prohibited",
			}),
			newErrorMatcher(&cfgerrors.UnacceptableHeaderNameError{
				Value:  "x foo",
				Type:   "response",
				Reason: "invalid",
			}),
		},
	},
}

func TestIncorrectMiddlewareConfig(t *testing.T) {
	cfg := corsguard.Config{
		Environment: corsguard.Development,
	}
	e := newEngine(t, cfg, newFakeClock())
	for _, tc := range invalidMiddlewareConfigTestCases {
		f := func(t *testing.T) {
			mw, err := corsguard.NewMiddleware(e, tc.cfg)
			if mw != nil {
				t.Error("got non-nil *Middleware; want nil *Middleware")
			}
			assertErrors(t, err, tc.want)
		}
		t.Run(tc.desc, f)
	}
}

func TestNewMiddlewareWithoutEngine(t *testing.T) {
	mw, err := corsguard.NewMiddleware(nil, corsguard.MiddlewareConfig{})
	if mw != nil || err == nil {
		t.Errorf("got %v, %v; want nil *Middleware and non-nil error", mw, err)
	}
}

func assertErrors(t *testing.T, err error, want []*errorMatcher) {
	t.Helper()
	if err == nil {
		t.Error("got nil error; want non-nil error")
		return
	}
	want = slices.Clone(want)
iterationOverErrorTree: // O(m * n) isn't ideal, but ok.
	for err := range cfgerrors.All(err) {
		for i, m := range want {
			if m == nil {
				continue
			}
			if m.matches(err) {
				want[i] = nil // Mark as "matched".
				continue iterationOverErrorTree
			}
		}
		t.Errorf("unexpected error: %q", err)
	}
	for _, m := range want {
		if m == nil { // Already matched.
			continue
		}
		t.Errorf("missing error:    %q", m.err)
	}
}

type errorMatcher struct {
	matches func(error) bool
	err     error
}

// newErrorMatcher returns an errorMatcher that matches an error whose dynamic
// value is a pointer to a value equal to the value that ptrToTargetValue
// points to.
func newErrorMatcher[T comparable, P PError[T]](ptrToTargetValue P) *errorMatcher {
	pred := func(err error) bool {
		ptr, ok := err.(P)
		if !ok {
			return false
		}
		if ptrToTargetValue == nil {
			return ptr == nil
		}
		return ptr != nil && *ptrToTargetValue == *ptr
	}
	return &errorMatcher{
		matches: pred,
		err:     ptrToTargetValue,
	}
}

// An PError[T] is an error of dynamic type *T.
type PError[T any] interface {
	error
	*T
}

func BenchmarkIncorrectConfig(b *testing.B) {
	for _, tc := range invalidConfigTestCases {
		f := func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				if _, err := corsguard.NewEngine(*tc.cfg); err == nil {
					b.Fatal("got nil error; want non-nil error")
				}
			}
		}
		b.Run(tc.desc, f)
	}
}
