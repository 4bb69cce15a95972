package callback

import (
	"fmt"

	"github.com/auditup/authgate/internal/logger"
	"go.uber.org/zap"
)

// Phase is the explicit state of one callback invocation. The flow moves
// strictly forward; each phase depends on the previous one's output
// (token, then profile, then committed session).
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseExchanging
	PhaseResolvingProfile
	PhaseCommitting
	PhaseRedirecting
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseExchanging:
		return "exchanging"
	case PhaseResolvingProfile:
		return "resolving_profile"
	case PhaseCommitting:
		return "committing"
	case PhaseRedirecting:
		return "redirecting"
	case PhaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// allowed lists the legal transitions. Errored is reachable from every
// working phase; the happy path is strictly linear.
var allowed = map[Phase][]Phase{
	PhaseIdle:             {PhaseExchanging, PhaseErrored},
	PhaseExchanging:       {PhaseResolvingProfile, PhaseErrored},
	PhaseResolvingProfile: {PhaseCommitting, PhaseErrored},
	PhaseCommitting:       {PhaseRedirecting, PhaseErrored},
}

// flow tracks one invocation through its phases and rejects transitions
// the machine does not define.
type flow struct {
	phase Phase
}

func newFlow() *flow {
	return &flow{phase: PhaseIdle}
}

// advance moves the flow to the next phase, or fails when the transition
// is not defined.
func (f *flow) advance(to Phase) error {
	for _, next := range allowed[f.phase] {
		if next == to {
			logger.Debug("callback transition",
				zap.Stringer("from", f.phase),
				zap.Stringer("to", to),
			)
			f.phase = to
			return nil
		}
	}
	return fmt.Errorf("illegal callback transition %s -> %s", f.phase, to)
}
