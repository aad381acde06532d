// Package whitelist defines the source of explicitly trusted domains
// consulted by the engine of package [github.com/jub0bs/corsguard],
// along with a couple of simple implementations.
package whitelist

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// A Service exposes the set of trusted domains per deployment environment.
// Each domain is either a host (e.g. example.com)
// or a pattern for its arbitrary subdomains (e.g. *.example.com).
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Service interface {
	ActiveDomains(ctx context.Context, environment string) ([]string, error)
}

// A Func adapts an ordinary function into a [Service].
type Func func(ctx context.Context, environment string) ([]string, error)

// ActiveDomains calls f(ctx, environment).
func (f Func) ActiveDomains(ctx context.Context, environment string) ([]string, error) {
	return f(ctx, environment)
}

// Static is an immutable [Service] that maps environments to domains.
type Static map[string][]string

// ActiveDomains returns a copy of the domains associated with environment.
func (s Static) ActiveDomains(_ context.Context, environment string) ([]string, error) {
	return slices.Clone(s[environment]), nil
}

// A File is a [Service] backed by a YAML document of the following form:
//
//	environments:
//	  production:
//	    - bookmyreservation.org
//	    - "*.bookmyreservation.org"
//	  staging:
//	    - staging.bookmyreservation.org
//
// The document is read lazily and read again whenever the file's
// modification time changes.
type File struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	doc     document
}

type document struct {
	Environments map[string][]string `yaml:"environments"`
}

// NewFile returns a File that reads the document at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// ActiveDomains returns the domains listed for environment.
// If the file cannot be read or parsed, ActiveDomains returns an error
// rather than the domains of some stale version of the document.
func (f *File) ActiveDomains(ctx context.Context, environment string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reload(); err != nil {
		return nil, err
	}
	return slices.Clone(f.doc.Environments[environment]), nil
}

// reload reads the document again if its modification time changed.
// Precondition: f.mu is held.
func (f *File) reload() error {
	fi, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("whitelist: %w", err)
	}
	if !f.modTime.IsZero() && fi.ModTime().Equal(f.modTime) {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("whitelist: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("whitelist: parsing %s: %w", f.path, err)
	}
	f.doc = doc
	f.modTime = fi.ModTime()
	return nil
}
