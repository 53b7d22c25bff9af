package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_DefaultRules_S7(t *testing.T) {
	env := []string{
		"PATH=/bin",
		"HOME=/u",
		"AWS_SECRET_KEY=xyz",
		"FOO_TOKEN=zzz",
		"OLLM_MODEL=llm",
	}

	out := Filter(env, Default())

	assert.Contains(t, out, "PATH=/bin")
	assert.Contains(t, out, "HOME=/u")
	assert.Contains(t, out, "OLLM_MODEL=llm")
	assert.NotContains(t, out, "AWS_SECRET_KEY=xyz")
	assert.NotContains(t, out, "FOO_TOKEN=zzz")
}

func TestAllows_AllowListWins(t *testing.T) {
	rules := NewReplacing([]string{"AWS_SECRET_KEY"}, []string{"AWS_*"})
	assert.True(t, rules.Allows("AWS_SECRET_KEY"), "exact allow-list entry beats a deny pattern")
	assert.False(t, rules.Allows("AWS_REGION"))
}

func TestAllows_LocalePrefixAlwaysAllowed(t *testing.T) {
	rules := Default()
	assert.True(t, rules.Allows("LC_ALL"))
	assert.True(t, rules.Allows("LC_TIME"))
}

func TestAllows_InvalidPatternIgnoredNotFatal(t *testing.T) {
	rules := NewReplacing(nil, []string{"["})
	assert.True(t, rules.Allows("ANYTHING"), "an invalid glob pattern must be ignored, not treated as a match")
}

func TestFilter_Deterministic(t *testing.T) {
	env := []string{"PATH=/bin", "GITHUB_TOKEN=abc", "SOMETHING=1"}
	rules := Default()
	a := Filter(env, rules)
	b := Filter(env, rules)
	assert.Equal(t, a, b)
}

func TestFilter_Pure_DoesNotMutateInput(t *testing.T) {
	env := []string{"PATH=/bin", "AWS_KEY=secret"}
	snapshot := append([]string{}, env...)
	Filter(env, Default())
	assert.Equal(t, snapshot, env)
}

func TestMap_MirrorsFilterSemantics(t *testing.T) {
	env := map[string]string{"PATH": "/bin", "MY_PASSWORD": "hunter2"}
	out := Map(env, Default())
	assert.Equal(t, "/bin", out["PATH"])
	_, ok := out["MY_PASSWORD"]
	assert.False(t, ok)
}

func TestIsSensitiveName(t *testing.T) {
	assert.True(t, IsSensitiveName("DB_PASSWORD"))
	assert.True(t, IsSensitiveName("GITHUB_TOKEN"))
	assert.False(t, IsSensitiveName("PATH"))
}
