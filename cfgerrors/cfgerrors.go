/*
Package cfgerrors provides functionalities for programmatically handling
configuration errors produced by package [github.com/jub0bs/corsguard].

Most users of package [github.com/jub0bs/corsguard] have no use for this
package. However, operators who let administrators tune the security policy
at run time (e.g. via some admin portal) may find it useful: it allows them
to report each configuration mistake separately and in their own words.
*/
package cfgerrors

import (
	"fmt"
	"iter"
	"time"
)

// An UnacceptableEnvironmentError indicates an unknown deployment
// environment. The Value field is empty if no environment was specified.
//
// For more details, see [github.com/jub0bs/corsguard.Config.Environment].
type UnacceptableEnvironmentError struct {
	Value string // the unacceptable value that was specified
}

func (err *UnacceptableEnvironmentError) Error() string {
	if err.Value == "" {
		return "corsguard: missing environment"
	}
	const tmpl = "corsguard: unknown environment %q (want production, staging, or development)"
	return fmt.Sprintf(tmpl, err.Value)
}

// A MissingWhitelistError indicates that no whitelist service was specified
// even though the environment requires one.
//
// For more details, see [github.com/jub0bs/corsguard.Config.Whitelist].
type MissingWhitelistError struct {
	Environment string
}

func (err *MissingWhitelistError) Error() string {
	const tmpl = "corsguard: a whitelist service is required in the %s environment"
	return fmt.Sprintf(tmpl, err.Environment)
}

// An OutOfBoundsError indicates an integer setting whose value
// falls outside of the range [Min, Max].
type OutOfBoundsError struct {
	Field string // name of the offending Config field
	Value int    // the unacceptable value that was specified
	Min   int
	Max   int
}

func (err *OutOfBoundsError) Error() string {
	const tmpl = "corsguard: out-of-bounds %s value %d (min: %d; max: %d)"
	return fmt.Sprintf(tmpl, err.Field, err.Value, err.Min, err.Max)
}

// A DurationOutOfBoundsError indicates a duration setting whose value
// falls outside of the range [Min, Max].
type DurationOutOfBoundsError struct {
	Field string        // name of the offending Config field
	Value time.Duration // the unacceptable value that was specified
	Min   time.Duration
	Max   time.Duration
}

func (err *DurationOutOfBoundsError) Error() string {
	const tmpl = "corsguard: out-of-bounds %s value %s (min: %s; max: %s)"
	return fmt.Sprintf(tmpl, err.Field, err.Value, err.Min, err.Max)
}

// An UnacceptableDomainError indicates an unacceptable whitelist entry.
// The Reason field may take one of three values:
//   - "invalid": the entry is neither a valid host nor a valid host pattern;
//   - "prohibited": the entry is prohibited by this library
//     (e.g. it's not in ASCII serialized form);
//   - "psl": the entry encompasses arbitrary subdomains of a public suffix.
type UnacceptableDomainError struct {
	Value  string // the unacceptable value that was specified
	Reason string // invalid | prohibited | psl
}

func (err *UnacceptableDomainError) Error() string {
	if err.Reason == "psl" {
		const tmpl = "corsguard: for security reasons, whitelist entries like %q that encompass subdomains of a public suffix are prohibited"
		return fmt.Sprintf(tmpl, err.Value)
	}
	const tmpl = "corsguard: %s whitelist entry %q"
	return fmt.Sprintf(tmpl, err.Reason, err.Value)
}

// An UnacceptableMethodError indicates an unacceptable method.
// The Reason field may take one of two values:
//   - "invalid": the method is invalid;
//   - "forbidden": the method is forbidden by [the Fetch standard].
//
// For more details, see
// [github.com/jub0bs/corsguard.MiddlewareConfig.Methods].
//
// [the Fetch standard]: https://fetch.spec.whatwg.org
type UnacceptableMethodError struct {
	Value  string // the unacceptable value that was specified
	Reason string // invalid | forbidden
}

func (err *UnacceptableMethodError) Error() string {
	const tmpl = "corsguard: %s method %q"
	return fmt.Sprintf(tmpl, err.Reason, err.Value)
}

// An UnacceptableHeaderNameError indicates an unacceptable header name.
// The Type field may take one of two values:
//   - "request";
//   - "response".
//
// The Reason field may take one of three values:
//   - "invalid": the header name is invalid;
//   - "prohibited": the header name is prohibited by this library;
//   - "forbidden": the header name is forbidden by [the Fetch standard].
//
// For more details, see
// [github.com/jub0bs/corsguard.MiddlewareConfig.RequestHeaders] and
// [github.com/jub0bs/corsguard.MiddlewareConfig.ResponseHeaders].
//
// [the Fetch standard]: https://fetch.spec.whatwg.org
type UnacceptableHeaderNameError struct {
	Value  string // the unacceptable value that was specified
	Type   string // request | response
	Reason string // invalid | prohibited | forbidden
}

func (err *UnacceptableHeaderNameError) Error() string {
	const tmpl = "corsguard: %s %s-header name %q"
	return fmt.Sprintf(tmpl, err.Reason, err.Type, err.Value)
}

// A MaxAgeOutOfBoundsError indicates a max-age value that's either too low
// or too high.
//
// For more details, see
// [github.com/jub0bs/corsguard.MiddlewareConfig.MaxAgeInSeconds].
type MaxAgeOutOfBoundsError struct {
	Value   int // the unacceptable value that was specified
	Default int // max-age value used by browsers if MaxAgeInSeconds is 0
	Max     int // maximum max-age value permitted by this library
	Disable int // sentinel value for disabling preflight caching
}

func (err *MaxAgeOutOfBoundsError) Error() string {
	const tmpl = "corsguard: out-of-bounds max-age value %d (default: %d; max: %d; disable caching: %d)"
	return fmt.Sprintf(tmpl, err.Value, err.Default, err.Max, err.Disable)
}

// All returns an iterator over the configuration errors contained in
// err's error tree. The order is unspecified and may change from one release
// to the next. All only supports error values returned by
// [github.com/jub0bs/corsguard.NewEngine] and
// [github.com/jub0bs/corsguard.NewMiddleware]; it should not be called on
// any other error value.
func All(err error) iter.Seq[error] {
	return func(yield func(error) bool) {
		every(err, yield)
	}
}

func every(err error, f func(error) bool) bool {
	switch err := err.(type) {
	// Nowhere do we "wrap" errors; we only ever "join" them.
	case interface{ Unwrap() []error }:
		for _, err := range err.Unwrap() {
			if !every(err, f) {
				return false
			}
		}
		return true
	default:
		return f(err)
	}
}
