package workflow

import "strings"

// =============================================================================
// Push Event Matching
// =============================================================================

// PushEvent is a source push delivered to the engine.
type PushEvent struct {
	Branch  string
	Commit  string
	Message string
}

// Matches reports whether the trigger accepts the push event.
//
// A workflow without a push trigger never matches (it can still be started
// manually). Branch filters are exact matches; an empty branch list accepts
// any branch. Commit-message skip markers win over only-prefixes.
func (t Trigger) Matches(ev PushEvent) bool {
	if t.Push == nil {
		return false
	}
	return t.Push.Matches(ev)
}

// Matches reports whether the push trigger accepts the event.
func (p *PushTrigger) Matches(ev PushEvent) bool {
	if len(p.Branches) > 0 && !contains(p.Branches, ev.Branch) {
		return false
	}

	msg := firstLine(ev.Message)

	for _, prefix := range p.SkipPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return false
		}
	}
	for _, suffix := range p.SkipSuffixes {
		if strings.HasSuffix(msg, suffix) {
			return false
		}
	}

	if len(p.OnlyPrefixes) > 0 {
		for _, prefix := range p.OnlyPrefixes {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
		return false
	}

	return true
}

// firstLine returns the subject line of a commit message.
func firstLine(msg string) string {
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		return strings.TrimSpace(msg[:idx])
	}
	return strings.TrimSpace(msg)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
