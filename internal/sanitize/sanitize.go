// Package sanitize filters a process environment before it is handed to a
// tool subprocess, per a pair of allow/deny rules. It is the conversation
// core's trust boundary for §4.2: the teacher's bash tool hands subprocesses
// cmd.Env = os.Environ() unfiltered, which this package exists to replace.
package sanitize

import (
	"path"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultAllow is the default allow-list of exact variable names.
var DefaultAllow = []string{"PATH", "HOME", "USER", "SHELL", "TERM", "LANG"}

// DefaultDenyPatterns is the default deny-list of glob patterns, plus the
// fixed LC_* allow prefix handled specially below (LC_* is an allow
// *prefix*, not a deny pattern, so it is not in this list).
var DefaultDenyPatterns = []string{
	"*_KEY", "*_SECRET", "*_TOKEN", "*_PASSWORD", "*_CREDENTIAL",
	"AWS_*", "GITHUB_*",
}

// Rules is an allow/deny pair over environment variable names. A variable
// passes iff its name is in Allow, or matches the LC_* prefix, or matches
// no pattern in Deny.
type Rules struct {
	Allow []string
	Deny  []string

	// logger receives one warning per invalid glob pattern, the first
	// time it is seen, then ignores it for the rest of this Rules value's
	// lifetime.
	logger      zerolog.Logger
	warnedOnce  map[string]bool
}

// Default returns the §4.2 default rule set.
func Default() *Rules {
	return New(nil, nil)
}

// New builds a Rules value. extraAllow and extraDeny are added to the
// defaults, per §4.2: "Configuration may add to or replace either list;
// when replacing, defaults still apply unless explicitly cleared." This
// constructor always adds; call NewReplacing to clear defaults.
func New(extraAllow, extraDeny []string) *Rules {
	return &Rules{
		Allow:      append(append([]string{}, DefaultAllow...), extraAllow...),
		Deny:       append(append([]string{}, DefaultDenyPatterns...), extraDeny...),
		warnedOnce: make(map[string]bool),
	}
}

// NewReplacing builds a Rules value that does not carry the defaults
// forward, for the "explicitly cleared" case §4.2 allows for.
func NewReplacing(allow, deny []string) *Rules {
	return &Rules{Allow: allow, Deny: deny, warnedOnce: make(map[string]bool)}
}

// WithLogger attaches a logger used to report invalid glob patterns once.
func (r *Rules) WithLogger(l zerolog.Logger) *Rules {
	r.logger = l
	return r
}

// Allows reports whether name passes the rule set.
func (r *Rules) Allows(name string) bool {
	for _, a := range r.Allow {
		if a == name {
			return true
		}
	}
	if strings.HasPrefix(name, "LC_") {
		return true
	}
	for _, pattern := range r.Deny {
		matched, err := path.Match(pattern, name)
		if err != nil {
			if r.warnedOnce != nil && !r.warnedOnce[pattern] {
				r.warnedOnce[pattern] = true
				r.logger.Warn().Str("pattern", pattern).Err(err).Msg("sanitize: invalid deny pattern, ignoring")
			}
			continue
		}
		if matched {
			return false
		}
	}
	return true
}

// Filter is a pure function: given an environment as "K=V" strings (the
// shape os.Environ() returns) and a rule set, return the subset that
// passes. It never mutates env and is deterministic for identical inputs,
// satisfying the §4.2 purity and determinism guarantees (testable
// properties 14 and 15).
func Filter(env []string, rules *Rules) []string {
	if rules == nil {
		rules = Default()
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if rules.Allows(name) {
			out = append(out, kv)
		}
	}
	return out
}

// Map filters an environment expressed as a map instead of "K=V" pairs,
// for callers (e.g. §4.2's own property tests) that prefer that shape.
func Map(env map[string]string, rules *Rules) map[string]string {
	if rules == nil {
		rules = Default()
	}
	out := make(map[string]string, len(env))
	for name, value := range env {
		if rules.Allows(name) {
			out[name] = value
		}
	}
	return out
}

// IsSensitiveName reports whether name matches the deny side of the
// default rules, independent of any configured Rules value. Nothing in
// the repository calls it to redact log or error strings.
func IsSensitiveName(name string) bool {
	d := Default()
	return !d.Allows(name)
}
