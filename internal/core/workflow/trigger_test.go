package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Trigger Matching Tests
// =============================================================================

func TestTrigger_NoPushNeverMatches(t *testing.T) {
	tr := Trigger{}
	assert.False(t, tr.Matches(PushEvent{Branch: "master", Message: "fix: bug"}))
}

func TestPushTrigger_BranchFilter(t *testing.T) {
	p := &PushTrigger{Branches: []string{"master"}}

	assert.True(t, p.Matches(PushEvent{Branch: "master", Message: "fix: bug"}))
	assert.False(t, p.Matches(PushEvent{Branch: "develop", Message: "fix: bug"}))
}

func TestPushTrigger_EmptyBranchListAcceptsAny(t *testing.T) {
	p := &PushTrigger{}

	assert.True(t, p.Matches(PushEvent{Branch: "master"}))
	assert.True(t, p.Matches(PushEvent{Branch: "feature/x"}))
}

func TestPushTrigger_SkipPrefix(t *testing.T) {
	p := &PushTrigger{
		Branches:     []string{"master"},
		SkipPrefixes: []string{"chore(docs):", "style:"},
	}

	assert.False(t, p.Matches(PushEvent{Branch: "master", Message: "chore(docs): update readme"}))
	assert.False(t, p.Matches(PushEvent{Branch: "master", Message: "style: reformat"}))
	assert.True(t, p.Matches(PushEvent{Branch: "master", Message: "feat: new parser"}))
}

func TestPushTrigger_SkipSuffix(t *testing.T) {
	p := &PushTrigger{SkipSuffixes: []string{"[skip ci]"}}

	assert.False(t, p.Matches(PushEvent{Branch: "master", Message: "fix typo [skip ci]"}))
	assert.True(t, p.Matches(PushEvent{Branch: "master", Message: "fix typo"}))
}

func TestPushTrigger_OnlyPrefixes(t *testing.T) {
	p := &PushTrigger{OnlyPrefixes: []string{"release:", "hotfix:"}}

	assert.True(t, p.Matches(PushEvent{Branch: "master", Message: "release: v1.2.0"}))
	assert.True(t, p.Matches(PushEvent{Branch: "master", Message: "hotfix: rollback"}))
	assert.False(t, p.Matches(PushEvent{Branch: "master", Message: "feat: something"}))
}

func TestPushTrigger_SkipWinsOverOnly(t *testing.T) {
	// A message matching both a skip marker and an only-prefix is skipped.
	p := &PushTrigger{
		SkipSuffixes: []string{"[skip ci]"},
		OnlyPrefixes: []string{"release:"},
	}

	assert.False(t, p.Matches(PushEvent{Branch: "master", Message: "release: v1.0 [skip ci]"}))
}

func TestPushTrigger_OnlyFirstLineConsidered(t *testing.T) {
	p := &PushTrigger{SkipSuffixes: []string{"[skip ci]"}}

	// Marker in the body, not the subject line
	assert.True(t, p.Matches(PushEvent{
		Branch:  "master",
		Message: "fix: real change\n\nnotes [skip ci]",
	}))

	// Marker on the subject line
	assert.False(t, p.Matches(PushEvent{
		Branch:  "master",
		Message: "fix: real change [skip ci]\n\nnotes",
	}))
}
