package origins

import (
	"net/netip"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/jub0bs/corsguard/cfgerrors"
	"github.com/jub0bs/corsguard/internal/util"
	"golang.org/x/net/publicsuffix"
)

const (
	subdomainWildcard = "*" // marks one or more period-separated DNS labels
	wildcardSeq       = subdomainWildcard + string(labelSep)
)

// A HostSet represents a set of trusted hosts. Its elements are either
// exact hosts (e.g. example.com) or all the subdomains of some base domain
// (e.g. *.example.com, which does not encompass example.com itself).
// The zero value of a HostSet is an empty set.
type HostSet struct {
	exact util.Set
	bases util.Set // base domains whose arbitrary subdomains belong to the set
}

// NewHostSet compiles entries into a HostSet.
// Invalid or prohibited entries are left out of the resulting set;
// NewHostSet reports them via its second result, one error per entry.
func NewHostSet(entries ...string) (HostSet, []error) {
	var (
		hs   HostSet
		errs []error
	)
	for _, entry := range entries {
		if err := hs.add(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return hs, errs
}

func (hs *HostSet) add(entry string) error {
	if len(entry) > len(wildcardSeq)+maxHostLen {
		return invalidDomainError(entry)
	}
	str := util.ByteLowercase(strings.TrimSpace(entry))
	base, wildcardSubs := strings.CutPrefix(str, wildcardSeq)
	host, kind, rest, ok := parseHost(bracketIPv6(base))
	if !ok || rest != "" {
		if !isASCII(entry) { // Unicode must be converted to Punycode first
			return prohibitedDomainError(entry)
		}
		return invalidDomainError(entry)
	}
	if kind != Domain {
		if wildcardSubs {
			return invalidDomainError(entry)
		}
		hs.exact.Add(host)
		return nil
	}
	if !wildcardSubs {
		hs.exact.Add(host)
		return nil
	}
	// We ignore the second (boolean) result because
	// it's false for some listed eTLDs (e.g. github.io).
	if etld, _ := publicsuffix.PublicSuffix(host); etld == host {
		return &cfgerrors.UnacceptableDomainError{
			Value:  entry,
			Reason: "psl",
		}
	}
	hs.bases.Add(host)
	return nil
}

// bracketIPv6 wraps str in brackets if it looks like an unbracketed IPv6
// address, so that parseHost can handle it.
func bracketIPv6(str string) string {
	if strings.IndexByte(str, ':') < 0 || strings.HasPrefix(str, "[") {
		return str
	}
	if _, err := netip.ParseAddr(str); err != nil {
		return str
	}
	return "[" + str + "]"
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func invalidDomainError(entry string) error {
	return &cfgerrors.UnacceptableDomainError{
		Value:  entry,
		Reason: "invalid",
	}
}

func prohibitedDomainError(entry string) error {
	return &cfgerrors.UnacceptableDomainError{
		Value:  entry,
		Reason: "prohibited",
	}
}

// Contains reports whether host belongs to hs.
// Precondition: host is the Host field of some [Origin].
func (hs *HostSet) Contains(host string) bool {
	if hs.exact.Contains(host) {
		return true
	}
	if hs.bases.Size() == 0 {
		return false
	}
	// Try every proper suffix of host that starts at a label boundary.
	for i := 0; i < len(host); i++ {
		if host[i] == labelSep && hs.bases.Contains(host[i+1:]) {
			return true
		}
	}
	return false
}

// Size returns the number of entries in hs.
func (hs *HostSet) Size() int {
	return hs.exact.Size() + hs.bases.Size()
}

// Elems returns a sorted slice of textual representations of hs's elements.
func (hs *HostSet) Elems() []string {
	res := hs.exact.ToSlice()
	for _, base := range hs.bases.ToSlice() {
		res = append(res, wildcardSeq+base)
	}
	slices.Sort(res)
	return res
}
