// Package origins parses the values of Origin headers
// and matches their hosts against sets of trusted hosts.
package origins

import (
	"errors"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"github.com/jub0bs/corsguard/internal/util"
	"golang.org/x/net/idna"
)

const (
	schemeHostSep = "://"     // scheme-host separator
	hostPortSep   = ':'       // host-port separator
	labelSep      = '.'       // DNS-label separator
	maxUint16     = 1<<16 - 1 // maximum value for uint16 type
)

const (
	// maxHostLen is the maximum length of a host, which is dominated by
	// the maximum length of an (absolute) domain name (253);
	// see https://devblogs.microsoft.com/oldnewthing/20120412-00/?p=7873.
	maxHostLen = 253
	// maxSchemeLen is the maximum tolerated length for schemes.
	maxSchemeLen = 64
	// maxPortLen is the maximum length of a port's decimal representation.
	maxPortLen = len("65535")
	// maxHostPortLen is the maximum length of an origin's host-port part;
	// the 2 accounts for the brackets around IPv6 addresses.
	maxHostPortLen = 2 + maxHostLen + len(string(hostPortSep)) + maxPortLen
	// maxOriginLen is the maximum length of an origin.
	maxOriginLen = maxSchemeLen + len(schemeHostSep) + maxHostPortLen
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// ErrNoOrigin indicates an empty Origin header value.
	ErrNoOrigin = errors.New("origins: no origin")
	// ErrInvalidFormat indicates a value that isn't a serialized origin.
	ErrInvalidFormat = errors.New("origins: invalid origin format")
	// ErrUnsupportedScheme indicates a scheme other than http and https.
	ErrUnsupportedScheme = errors.New("origins: unsupported scheme")
)

// Kind represents the kind of an origin's host.
type Kind uint8

const (
	Domain        Kind = iota // domain name
	NonLoopbackIP             // non-loopback IP address
	LoopbackIP                // loopback IP address
)

// Origin represents a (tuple) [Web origin] whose scheme is http or https.
//
// [Web origin]: https://developer.mozilla.org/en-US/docs/Glossary/Origin
type Origin struct {
	// Scheme is the origin's scheme (http or https).
	Scheme string
	// Host is the origin's byte-lowercased host;
	// IPv6 addresses are stripped of their brackets.
	Host string
	// Port is the origin's port (if any).
	// The zero value marks the absence of an explicit port.
	Port int
	// Kind is the kind of the origin's host.
	Kind Kind
	// Raw is the header value from which the origin was parsed.
	Raw string
}

var zeroOrigin Origin

// IsLoopback reports whether o's host is a loopback IP address,
// localhost, or a subdomain of localhost.
func (o *Origin) IsLoopback() bool {
	switch o.Kind {
	case LoopbackIP:
		return true
	case NonLoopbackIP:
		return false
	default:
		return o.Host == "localhost" || strings.HasSuffix(o.Host, ".localhost")
	}
}

// HasStandardPort reports whether o's port is absent, 80, or 443.
func (o *Origin) HasStandardPort() bool {
	return o.Port == 0 || o.Port == 80 || o.Port == 443
}

func (o *Origin) hasDefaultPort() bool {
	return o.Scheme == SchemeHTTP && o.Port == 80 ||
		o.Scheme == SchemeHTTPS && o.Port == 443
}

// String returns the ASCII serialization of o, e.g. https://example.com:8443.
// Because parsing normalizes the scheme, host, and port, origins that only
// differ by letter case, by IPv6 notation, or by the explicit mention of
// their scheme's default port share the same serialization.
func (o *Origin) String() string {
	var sb strings.Builder
	sb.Grow(len(o.Scheme) + len(schemeHostSep) + 2 + len(o.Host) + 1 + maxPortLen)
	sb.WriteString(o.Scheme)
	sb.WriteString(schemeHostSep)
	if o.Kind != Domain && strings.IndexByte(o.Host, ':') >= 0 {
		sb.WriteByte('[')
		sb.WriteString(o.Host)
		sb.WriteByte(']')
	} else {
		sb.WriteString(o.Host)
	}
	if o.Port != 0 && !o.hasDefaultPort() {
		sb.WriteByte(hostPortSep)
		sb.WriteString(strconv.Itoa(o.Port))
	}
	return sb.String()
}

// Parse parses str into an [Origin] structure.
// If str is empty, Parse returns [ErrNoOrigin].
// If str has the shape of a serialized origin but its scheme is neither
// http nor https, Parse returns [ErrUnsupportedScheme].
// In all other cases of failure, Parse returns [ErrInvalidFormat].
//
// Parse is deliberately stricter than [net/url.Parse]: it only accepts the
// ASCII serialization of an origin (no userinfo, path, query, or fragment),
// which is what Fetch-compliant browsers send in the Origin header.
func Parse(str string) (Origin, error) {
	if str == "" {
		return zeroOrigin, ErrNoOrigin
	}
	// As a defensive measure against maliciously long origins,
	// let's first check the length of str.
	if len(str) > maxOriginLen {
		return zeroOrigin, ErrInvalidFormat
	}
	raw := str
	str = util.ByteLowercase(str)
	scheme, rest, ok := parseScheme(str)
	if !ok {
		return zeroOrigin, ErrInvalidFormat
	}
	rest, ok = strings.CutPrefix(rest, schemeHostSep)
	if !ok {
		return zeroOrigin, ErrInvalidFormat
	}
	if scheme != SchemeHTTP && scheme != SchemeHTTPS {
		return zeroOrigin, ErrUnsupportedScheme
	}
	host, kind, rest, ok := parseHost(rest)
	if !ok {
		return zeroOrigin, ErrInvalidFormat
	}
	var port int // assume no port at first
	if rest != "" {
		rest, ok = strings.CutPrefix(rest, string(hostPortSep))
		if !ok {
			return zeroOrigin, ErrInvalidFormat
		}
		port, rest, ok = parsePort(rest)
		if !ok || rest != "" {
			return zeroOrigin, ErrInvalidFormat
		}
	}
	o := Origin{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Kind:   kind,
		Raw:    raw,
	}
	return o, nil
}

// parseScheme parses a URI scheme. If successful, it returns the scheme,
// the unconsumed part of str, and true; otherwise, its ok result is false.
func parseScheme(str string) (scheme, rest string, ok bool) {
	// See https://www.rfc-editor.org/rfc/rfc3986.html#section-3.1.
	if str == "" || !isLowerAlpha(str[0]) {
		return
	}
	end := min(maxSchemeLen, len(str))
	i := 1
	for ; i < end; i++ {
		if !isSubsequentSchemeByte(str[i]) {
			break
		}
	}
	return str[:i], str[i:], true
}

// parseHost scans and validates a host in str.
// If it succeeds, it returns the host, its kind, the unconsumed part
// of str, and true; otherwise, its ok result is false.
func parseHost(str string) (host string, kind Kind, rest string, ok bool) {
	if str != "" && str[0] == '[' { // str must be an IPv6 address.
		host, rest, ok = strings.Cut(str[1:], "]")
		if !ok { // unmatched left bracket
			return
		}
		ip, err := netip.ParseAddr(host)
		if err != nil || !ip.Is6() || ip.Zone() != "" {
			return "", 0, "", false
		}
		return ip.String(), ipKind(ip), rest, true
	}
	// str must be either an IPv4 address or a domain.
	i := 0
	for ; i < len(str) && isDomainByte(str[i]); i++ {
		// deliberately empty
	}
	host, rest = str[:i], str[i:]
	if host == "" || host[0] == labelSep || host[len(host)-1] == labelSep {
		return "", 0, "", false
	}
	// If the last label starts with a digit, assume an IPv4 address,
	// since no TLD starts with a digit
	// (see https://www.iana.org/domains/root/db).
	_, label, _ := lastCutByte(host, labelSep)
	if isDigit(label[0]) {
		ip, err := netip.ParseAddr(host)
		if err != nil || !ip.Is4() {
			return "", 0, "", false
		}
		return host, ipKind(ip), rest, true
	}
	if len(host) > maxHostLen || !isValidDomain(host) {
		return "", 0, "", false
	}
	return host, Domain, rest, true
}

func ipKind(ip netip.Addr) Kind {
	if ip.IsLoopback() {
		return LoopbackIP
	}
	return NonLoopbackIP
}

var (
	profileOnce sync.Once     // guards init of profile via initProfile
	profile     *idna.Profile // lazily initialized
)

func initProfile() {
	profile = idna.New(
		idna.BidiRule(),
		idna.ValidateLabels(true),
		idna.StrictDomainName(true),
		idna.VerifyDNSLength(true),
	)
}

// isValidDomain reports whether host, assumed byte-lowercase and ASCII,
// is a valid domain in ASCII serialized form.
func isValidDomain(host string) bool {
	profileOnce.Do(initProfile)
	ascii, err := profile.ToASCII(host)
	return err == nil && ascii == host
}

// isLowerAlpha reports whether c is in the 0x61-0x7A ASCII range.
func isLowerAlpha(c byte) bool {
	return 'a' <= c && c <= 'z'
}

// isSubsequentSchemeByte reports whether c a valid byte at index >= 1 in a scheme.
func isSubsequentSchemeByte(c byte) bool {
	// See https://www.rfc-editor.org/rfc/rfc3986.html#section-3.1.
	const mask = 0 |
		1<<'+' |
		1<<'-' |
		1<<'.' |
		(1<<10-1)<<'0' |
		(1<<26-1)<<'a'
	return ((uint64(1)<<c)&(mask&(1<<64-1)) |
		(uint64(1)<<(c-64))&(mask>>64)) != 0
}

// isDomainByte reports whether c is an ASCII lowercase letter, an ASCII digit,
// a hyphen (0x2D), a period (0x2E), or an underscore (0x5F).
func isDomainByte(c byte) bool {
	const mask = 0 |
		1<<'-' |
		1<<labelSep |
		(1<<10-1)<<'0' |
		(1<<26-1)<<'a' |
		1<<'_'
	return ((uint64(1)<<c)&(mask&(1<<64-1)) |
		(uint64(1)<<(c-64))&(mask>>64)) != 0
}

// parsePort parses a port number. It returns the port number, the unconsumed
// part of the input string, and a bool that indicates success or failure.
func parsePort(str string) (int, string, bool) {
	const base = 10
	if len(str) == 0 || !isNonZeroDigit(str[0]) {
		return 0, str, false
	}
	port := intFromDigit(str[0])
	i := 1
	end := min(len(str), maxPortLen)
	for ; i < end; i++ {
		if !isDigit(str[i]) {
			break
		}
		port = base*port + intFromDigit(str[i])
	}
	if maxUint16 < port {
		return 0, str, false
	}
	return port, str[i:], true
}

// intFromDigit returns the numerical value of ASCII digit b.
// For instance, if b is '9', the result is 9.
func intFromDigit(b byte) int {
	return int(b) - '0'
}

// isDigit reports whether c is in the 0x30-0x39 ASCII range.
func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

// isNonZeroDigit reports whether c is in the 0x31-0x39 ASCII range.
func isNonZeroDigit(c byte) bool {
	return '1' <= c && c <= '9'
}

// lastCutByte slices s around the last instance of sep, returning the text
// before and after sep. The found result reports whether sep appears in s.
// If sep does not appear in s, lastCutByte returns "", s, false.
func lastCutByte(s string, sep byte) (before, after string, found bool) {
	if i := strings.LastIndexByte(s, sep); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return "", s, false
}
