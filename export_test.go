package corsguard

import (
	"context"

	"github.com/jub0bs/corsguard/reputation"
)

var NewEngineWithClock = newEngine

// BlockForTest blocks origin, which must be in canonical form.
func (e *Engine) BlockForTest(origin string) {
	e.blocklist.Block(origin, string(ReasonLowSecurityScore))
}

func (e *Engine) CachedReputation(origin string) (reputation.Reputation, bool) {
	return e.recorder.Lookup(origin)
}

func (e *Engine) Sweep() {
	e.sweep(context.Background())
}
