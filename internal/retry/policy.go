// Package retry implements the retry policy: an ordered sequence of
// tokens, each a wait (in seconds), a provider name, or the GIVEUP
// sentinel, interpreted against an entry's step index.
package retry

import (
	"fmt"
	"strconv"
)

// Kind classifies what a given step in the policy resolves to.
type Kind int

const (
	// Wait means the step is a number of seconds to hold the entry before
	// retrying the previous provider (or starting the first one).
	Wait Kind = iota
	// Provider means the step names a transport to dispatch through.
	Provider
	// GiveUp means the step is past the end of the policy, or the
	// explicit "GIVEUP" token: the entry should be dropped.
	GiveUp
)

func (k Kind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Provider:
		return "provider"
	case GiveUp:
		return "giveup"
	default:
		return "unknown"
	}
}

// Step describes the outcome of resolving one position in a Policy.
type Step struct {
	Kind         Kind
	WaitSeconds  int
	ProviderName string
}

// giveUpToken is the reserved sentinel. It is never a valid provider name.
const giveUpToken = "GIVEUP"

// Policy is an immutable, ordered list of tokens.
type Policy struct {
	steps []Step
}

// Parse validates and compiles a token sequence. knownProvider is called
// for every non-numeric, non-GIVEUP token; an unknown provider makes the
// whole policy invalid, matching the startup-time validation invariant.
func Parse(tokens []string, knownProvider func(name string) bool) (Policy, error) {
	if len(tokens) == 0 {
		return Policy{}, fmt.Errorf("retry policy must have at least one token")
	}

	steps := make([]Step, 0, len(tokens))
	for i, tok := range tokens {
		if tok == giveUpToken {
			// GIVEUP must be the terminal token; anything after it is
			// unreachable and almost certainly a mistake.
			if i != len(tokens)-1 {
				return Policy{}, fmt.Errorf("retry policy: GIVEUP token at position %d is not the last token", i)
			}
			steps = append(steps, Step{Kind: GiveUp})
			continue
		}

		if seconds, err := strconv.Atoi(tok); err == nil {
			if seconds < 0 {
				return Policy{}, fmt.Errorf("retry policy: wait token %q is negative", tok)
			}
			steps = append(steps, Step{Kind: Wait, WaitSeconds: seconds})
			continue
		}

		if knownProvider == nil || !knownProvider(tok) {
			return Policy{}, fmt.Errorf("retry policy: token %q is neither a wait time, GIVEUP, nor a known provider", tok)
		}
		steps = append(steps, Step{Kind: Provider, ProviderName: tok})
	}

	return Policy{steps: steps}, nil
}

// Resolve returns the Step at the given index. An index at or past the end
// of the policy resolves to the implicit GIVEUP terminator.
func (p Policy) Resolve(step int) Step {
	if step < 0 || step >= len(p.steps) {
		return Step{Kind: GiveUp}
	}
	return p.steps[step]
}

// Len reports the number of explicit tokens in the policy (not counting
// the implicit GIVEUP terminator past the end).
func (p Policy) Len() int {
	return len(p.steps)
}
