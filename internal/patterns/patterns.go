// Package patterns classifies origins and user agents according to a set of
// heuristics that are commonly associated with abusive cross-origin traffic.
package patterns

import (
	"strings"

	"github.com/jub0bs/corsguard/internal/origins"
	"github.com/jub0bs/corsguard/internal/util"
	"golang.org/x/net/publicsuffix"
)

// Warning tags.
const (
	TagSuspiciousPatterns = "suspicious_patterns_detected"
	TagSuspiciousTLD      = "suspicious_tld"
	TagNonStandardPort    = "non_standard_port"
	TagAutomatedRequest   = "automated_request_detected"
)

// Default penalty weights.
const (
	DefaultPatternPenalty = 10
	DefaultTLDPenalty     = 15
	DefaultPortPenalty    = 5
	DefaultBotPenalty     = 5
)

// A Policy specifies how much each heuristic weighs.
// Weights are non-negative; a zero weight keeps the corresponding warning
// but does not affect the penalty.
type Policy struct {
	PatternPenalty int // per unit of suspicion
	TLDPenalty     int
	PortPenalty    int
	BotPenalty     int
}

// DefaultPolicy returns the Policy that uses the default weights.
func DefaultPolicy() Policy {
	return Policy{
		PatternPenalty: DefaultPatternPenalty,
		TLDPenalty:     DefaultTLDPenalty,
		PortPenalty:    DefaultPortPenalty,
		BotPenalty:     DefaultBotPenalty,
	}
}

// A Result is the outcome of a call to [Policy.Match].
type Result struct {
	// Suspicion is the number of hostname heuristics that fired.
	Suspicion int
	// Warnings lists the tags of the heuristics that fired,
	// without duplicates and in evaluation order.
	Warnings []string
	// Penalty is the (non-negative) amount to subtract from a security score.
	Penalty int
}

var (
	// hostKeywords are substrings that betray administrative, internal,
	// or development hosts.
	hostKeywords = []string{
		"admin",
		"api",
		"internal",
		"private",
		"secure",
		"test",
		"staging",
		"dev",
		"debug",
		"localhost",
	}

	// tunnelDomains are the registrable domains of tunneling and
	// shared-hosting providers, which can proxy arbitrary traffic.
	tunnelDomains = util.NewSet(
		"csb.app",
		"fly.dev",
		"github.io",
		"gitpod.io",
		"glitch.me",
		"herokuapp.com",
		"loca.lt",
		"localtunnel.me",
		"netlify.app",
		"ngrok-free.app",
		"ngrok.app",
		"ngrok.io",
		"onrender.com",
		"pages.dev",
		"repl.co",
		"serveo.net",
		"trycloudflare.com",
		"vercel.app",
		"workers.dev",
	)

	// abusedTLDs are TLDs historically associated with abuse.
	abusedTLDs = util.NewSet(
		"buzz",
		"cf",
		"click",
		"ga",
		"gq",
		"loan",
		"ml",
		"monster",
		"mov",
		"tk",
		"top",
		"work",
		"xyz",
		"zip",
	)

	// botSignatures are byte-lowercase substrings of the User-Agent values
	// sent by crawlers, scripts, and browser-automation tools.
	botSignatures = []string{
		"bot",
		"crawler",
		"spider",
		"scraper",
		"curl",
		"wget",
		"python-requests",
		"python-urllib",
		"go-http-client",
		"httpclient",
		"okhttp",
		"headless",
		"phantomjs",
		"selenium",
		"puppeteer",
		"playwright",
		"scrapy",
	}
)

// Match evaluates every heuristic against o and userAgent.
// The TLD and port heuristics only apply if production is true.
func (p *Policy) Match(o *origins.Origin, userAgent string, production bool) Result {
	var res Result
	if containsAny(o.Host, hostKeywords) {
		res.Suspicion++
	}
	if o.IsLoopback() {
		res.Suspicion++
	}
	if o.Kind == origins.Domain && isTunnel(o.Host) {
		res.Suspicion++
	}
	if res.Suspicion > 0 {
		res.Warnings = append(res.Warnings, TagSuspiciousPatterns)
		res.Penalty += res.Suspicion * p.PatternPenalty
	}
	if production && o.Kind == origins.Domain && hasAbusedTLD(o.Host) {
		res.Warnings = append(res.Warnings, TagSuspiciousTLD)
		res.Penalty += p.TLDPenalty
	}
	if production && !o.HasStandardPort() {
		res.Warnings = append(res.Warnings, TagNonStandardPort)
		res.Penalty += p.PortPenalty
	}
	if IsBot(userAgent) {
		res.Warnings = append(res.Warnings, TagAutomatedRequest)
		res.Penalty += p.BotPenalty
	}
	return res
}

// IsBot reports whether userAgent, compared case-insensitively,
// contains a known bot or automation signature.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return containsAny(util.ByteLowercase(userAgent), botSignatures)
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// isTunnel reports whether host is one of tunnelDomains
// or a subdomain thereof.
func isTunnel(host string) bool {
	for {
		if tunnelDomains.Contains(host) {
			return true
		}
		_, after, found := strings.Cut(host, ".")
		if !found {
			return false
		}
		host = after
	}
}

func hasAbusedTLD(host string) bool {
	// Only the rightmost label of the public suffix matters here;
	// the public suffix of an unlisted TLD is that TLD.
	etld, _ := publicsuffix.PublicSuffix(host)
	if i := strings.LastIndexByte(etld, '.'); i >= 0 {
		etld = etld[i+1:]
	}
	return abusedTLDs.Contains(etld)
}
