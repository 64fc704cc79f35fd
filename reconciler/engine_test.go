package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/sweepr/pkg/resource"
)

func fixedClock(sec float64) Clock {
	whole := int64(sec)
	return func() time.Time {
		return time.Unix(whole, int64((sec-float64(whole))*1e9))
	}
}

func mustParse(t *testing.T, doc string) []resource.Resource {
	t.Helper()
	resources, err := resource.ParseList([]byte(doc))
	require.NoError(t, err)
	return resources
}

func seenOf(t *testing.T, r resource.Resource) float64 {
	t.Helper()
	seen, ok := r.FirstSeen()
	require.True(t, ok, "%s has no __seen__", r)
	return seen
}

func setCreatedAt(r *resource.Resource, ts time.Time) {
	r.Attrs.SetNode(resource.CreatedAtKey, &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!timestamp",
		Value: ts.UTC().Format(time.RFC3339Nano),
	})
}

func ids(resources []resource.Resource) []string {
	out := make([]string, 0, len(resources))
	for _, r := range resources {
		out = append(out, r.ID)
	}
	return out
}

func TestReconcile_Scenario(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	twoYearsAgo := now.AddDate(-2, 0, 0)

	previous := mustParse(t, "- {type: ec2, id: \"1\", __seen__: 1}\n")
	scan := []resource.Resource{resource.New("ec2", "1"), resource.New("s3", "2")}
	scan[0].Attrs.SetNode(resource.CreatedAtKey, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"})
	setCreatedAt(&scan[1], twoYearsAgo)

	// now is far past 1 + 172800, so ec2/1 expires on the seen path
	engine := NewEngine(DefaultPolicy()).WithClock(func() time.Time { return now })
	result := engine.Reconcile(previous, scan)

	assert.Equal(t, []string{"1", "2"}, ids(result.Deletions))
	require.Len(t, result.State, 1)
	assert.Equal(t, "1", result.State[0].ID)
	assert.Equal(t, 1.0, seenOf(t, result.State[0]))

	require.Len(t, result.Decisions, 2)
	assert.Equal(t, OutcomeExpired, result.Decisions[0].Outcome)
	assert.Equal(t, OutcomeCreatedAt, result.Decisions[1].Outcome)
}

func TestReconcile_ScenarioEpochClock(t *testing.T) {
	previous := mustParse(t, "- {type: ec2, id: \"1\", __seen__: 1}\n")
	scan := mustParse(t, "- {type: ec2, id: \"1\", createdat: null}\n")

	engine := NewEngine(DefaultPolicy()).WithClock(fixedClock(172802))
	result := engine.Reconcile(previous, scan)

	require.Len(t, result.Deletions, 1)
	assert.Equal(t, "1", result.Deletions[0].ID)
	assert.Equal(t, 1.0, seenOf(t, result.State[0]))
}

func TestReconcile_FirstObservationStampsNow(t *testing.T) {
	scan := mustParse(t, `
- {type: type1, id: extra_type1, key5: value5}
- {type: awsweep_type, id: new_type, key6: value6}
`)
	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(172803)).Reconcile(nil, scan)

	assert.Empty(t, result.Deletions)
	require.Len(t, result.State, 2)
	for _, r := range result.State {
		assert.Equal(t, 172803.0, seenOf(t, r))
	}
	assert.True(t, result.Decisions[0].New)
}

func TestReconcile_ComplexFixture(t *testing.T) {
	previous := mustParse(t, `
- {type: type1, id: id_seen_5, __seen__: 5}
- {type: type1, id: id_seen_2, __seen__: 2}
- {type: type1, id: id_seen_1, __seen__: 1}
- {type: type2, id: id_seen_0, __seen__: 0}
- {type: type3, id: id_missing_in_awsweep, __seen__: 1000}
`)
	scan := mustParse(t, `
- {type: type1, id: id_seen_5, key1: value1, __seen__: 5}
- {type: type1, id: id_seen_2, key2: value2, __seen__: 2}
- {type: type1, id: id_seen_1, key3: value3, __seen__: 1}
- {type: type2, id: id_seen_0, key4: value4, __seen__: 0}
- {type: type1, id: extra_type1, key5: value5}
- {type: awsweep_type, id: new_type, key6: value6}
`)
	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(172803)).Reconcile(previous, scan)

	assert.Equal(t, []string{"id_seen_2", "id_seen_1", "id_seen_0"}, ids(result.Deletions))
	assert.Equal(t,
		[]string{"id_seen_5", "id_seen_2", "id_seen_1", "id_seen_0", "extra_type1", "new_type"},
		ids(result.State))
	assert.Equal(t, []resource.Key{{Kind: "type3", ID: "id_missing_in_awsweep"}}, result.Dropped)

	want := map[string]float64{
		"id_seen_5": 5, "id_seen_2": 2, "id_seen_1": 1, "id_seen_0": 0,
		"extra_type1": 172803, "new_type": 172803,
	}
	for _, r := range result.State {
		assert.Equal(t, want[r.ID], seenOf(t, r), r.ID)
	}

	// attributes survive verbatim
	require.NotNil(t, result.State[0].Attrs.Node("key1"))
	assert.Equal(t, "value1", result.State[0].Attrs.Node("key1").Value)
}

func TestReconcile_IgnoresSeenFromScan(t *testing.T) {
	scan := mustParse(t, "- {type: t, id: a, __seen__: 1}\n")
	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(500000)).Reconcile(nil, scan)

	assert.Empty(t, result.Deletions)
	assert.Equal(t, 500000.0, seenOf(t, result.State[0]))
}

func TestReconcile_Idempotent(t *testing.T) {
	scan := mustParse(t, `
- {type: t, id: a}
- {type: t, id: b, tags: {env: dev}}
`)
	engine := NewEngine(DefaultPolicy()).WithClock(fixedClock(1000.25))

	first := engine.Reconcile(nil, scan)
	second := engine.Reconcile(first.State, scan)

	require.Len(t, second.State, 2)
	for i := range first.State {
		assert.Equal(t, seenOf(t, first.State[i]), seenOf(t, second.State[i]))
	}
}

func TestReconcile_MonotonicRetention(t *testing.T) {
	scan := mustParse(t, "- {type: t, id: a}\n")
	engine := NewEngine(DefaultPolicy())

	clock := 1000.0
	engine.WithClock(func() time.Time { return fixedClock(clock)() })

	state := engine.Reconcile(nil, scan).State
	for i := 0; i < 5; i++ {
		clock += 3600
		state = engine.Reconcile(state, scan).State
		assert.Equal(t, 1000.0, seenOf(t, state[0]))
	}
}

func TestReconcile_ThresholdBoundary(t *testing.T) {
	const now = 1_000_000.0
	threshold := 100 * time.Second
	const eps = 0.001

	previous := []resource.Resource{resource.New("t", "old"), resource.New("t", "young"), resource.New("t", "exact")}
	previous[0].SetFirstSeen(now - 100 - eps)
	previous[1].SetFirstSeen(now - 100 + eps)
	previous[2].SetFirstSeen(now - 100)
	scan := []resource.Resource{resource.New("t", "old"), resource.New("t", "young"), resource.New("t", "exact")}

	result := NewEngine(NewAgePolicy(threshold)).WithClock(fixedClock(now)).Reconcile(previous, scan)

	assert.Equal(t, []string{"old"}, ids(result.Deletions))
	assert.Len(t, result.State, 3)
}

func TestReconcile_OverridePrecedence(t *testing.T) {
	rules, err := ParseRules([]string{
		"-1:team",         // matches key
		"10Y:platform",    // matches value
		"-5:^env$",        // matches key, last match wins
		"99Y:no-such-tag", // never matches
	})
	require.NoError(t, err)
	policy := NewAgePolicy(DefaultThreshold, rules...)

	scan := mustParse(t, `
- {type: t, id: all, tags: {team: platform, env: prod}}
- {type: t, id: first-two, tags: {team: platform}}
- {type: t, id: first-only, tags: {team: web}}
- {type: t, id: none, tags: {owner: x}}
- {type: t, id: untagged}
`)
	result := NewEngine(policy).WithClock(fixedClock(1_000_000)).Reconcile(nil, scan)

	byID := map[string]Decision{}
	for _, d := range result.Decisions {
		byID[d.Key.ID] = d
	}

	assert.Equal(t, 2, byID["all"].Rule)
	assert.Equal(t, -5*time.Second, byID["all"].Threshold)
	assert.Equal(t, 1, byID["first-two"].Rule)
	assert.Equal(t, 10*365*24*time.Hour, byID["first-two"].Threshold)
	assert.Equal(t, 0, byID["first-only"].Rule)
	assert.Equal(t, -1, byID["none"].Rule)
	assert.Equal(t, DefaultThreshold, byID["none"].Threshold)
	assert.Equal(t, -1, byID["untagged"].Rule)

	assert.Equal(t, []string{"all", "first-only"}, ids(result.Deletions))
}

func TestReconcile_ZeroThresholdDeletesNewResource(t *testing.T) {
	rule, err := ParseRule("0:scratch")
	require.NoError(t, err)
	scan := mustParse(t, "- {type: t, id: a, tags: {purpose: scratch}}\n")

	result := NewEngine(NewAgePolicy(DefaultThreshold, rule)).WithClock(fixedClock(5000)).Reconcile(nil, scan)

	assert.Equal(t, []string{"a"}, ids(result.Deletions))
	assert.Equal(t, []string{"a"}, ids(result.State))
}

func TestReconcile_Disappearance(t *testing.T) {
	previous := mustParse(t, `
- {type: t, id: gone, __seen__: 1}
- {type: t, id: here, __seen__: 2}
`)
	scan := mustParse(t, "- {type: t, id: here}\n")

	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(10)).Reconcile(previous, scan)

	assert.Equal(t, []string{"here"}, ids(result.State))
	assert.Empty(t, result.Deletions)
	assert.Equal(t, []resource.Key{{Kind: "t", ID: "gone"}}, result.Dropped)
}

func TestReconcile_CreatedAtWithinThresholdFollowsSeenPath(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	scan := []resource.Resource{resource.New("t", "fresh")}
	setCreatedAt(&scan[0], now.Add(-time.Hour))

	result := NewEngine(DefaultPolicy()).WithClock(func() time.Time { return now }).Reconcile(nil, scan)

	assert.Empty(t, result.Deletions)
	require.Len(t, result.State, 1)
	assert.Equal(t, epochSeconds(now), seenOf(t, result.State[0]))
	require.NotNil(t, result.Decisions[0].CreatedAt)
	assert.Equal(t, OutcomeKeep, result.Decisions[0].Outcome)
}

func TestReconcile_CreatedAtUsesOverrideThreshold(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	rule, err := ParseRule("1h:ephemeral")
	require.NoError(t, err)

	scan := mustParse(t, "- {type: t, id: a, tags: {lifecycle: ephemeral}}\n")
	setCreatedAt(&scan[0], now.Add(-2*time.Hour))

	result := NewEngine(NewAgePolicy(DefaultThreshold, rule)).WithClock(func() time.Time { return now }).Reconcile(nil, scan)

	assert.Equal(t, []string{"a"}, ids(result.Deletions))
	assert.Empty(t, result.State)
	assert.Equal(t, OutcomeCreatedAt, result.Decisions[0].Outcome)
	assert.Equal(t, 0, result.Decisions[0].Rule)
}

func TestReconcile_UnparseableCreatedAtIsInformational(t *testing.T) {
	scan := mustParse(t, "- {type: t, id: a, createdat: sometime}\n")
	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(100)).Reconcile(nil, scan)

	assert.Empty(t, result.Deletions)
	assert.Len(t, result.State, 1)
}

func TestReconcile_PreviousWithoutSeenCountsAsEpoch(t *testing.T) {
	previous := mustParse(t, "- {type: t, id: a}\n")
	scan := mustParse(t, "- {type: t, id: a}\n")

	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(172801)).Reconcile(previous, scan)

	assert.Equal(t, []string{"a"}, ids(result.Deletions))
	assert.Equal(t, 0.0, seenOf(t, result.State[0]))
}

func TestReconcile_DuplicateScanEntries(t *testing.T) {
	scan := mustParse(t, `
- {type: t, id: a, v: 1}
- {type: t, id: b}
- {type: t, id: a, v: 2}
`)
	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(100)).Reconcile(nil, scan)

	assert.Equal(t, []string{"a", "b"}, ids(result.State))
	assert.Equal(t, "2", result.State[0].Attrs.Node("v").Value)
	assert.Len(t, result.Decisions, 3)
}

func TestReconcile_DuplicatePreviousEntriesLastWins(t *testing.T) {
	previous := mustParse(t, `
- {type: t, id: a, __seen__: 10}
- {type: t, id: b, __seen__: 20}
- {type: t, id: a, __seen__: 500}
`)
	scan := mustParse(t, "- {type: t, id: a}\n- {type: t, id: b}\n")

	// deadline is 600 - 100 = 500: seen 10 would expire, seen 500 does not
	result := NewEngine(NewAgePolicy(100*time.Second)).WithClock(fixedClock(600)).Reconcile(previous, scan)

	assert.Equal(t, []string{"b"}, ids(result.Deletions))
	assert.Equal(t, 500.0, seenOf(t, result.State[0]))
	assert.Empty(t, result.Dropped)
}

func TestReconcile_DoesNotMutateInputs(t *testing.T) {
	scan := mustParse(t, "- {type: t, id: a}\n")
	NewEngine(DefaultPolicy()).WithClock(fixedClock(100)).Reconcile(nil, scan)

	_, ok := scan[0].FirstSeen()
	assert.False(t, ok)
}

func TestResult_Manifest(t *testing.T) {
	previous := mustParse(t, `
- {type: a, id: "1", __seen__: 0}
- {type: b, id: "2", __seen__: 0}
- {type: a, id: "3", __seen__: 0}
`)
	result := NewEngine(DefaultPolicy()).WithClock(fixedClock(1_000_000)).Reconcile(previous, previous)

	m := result.Manifest()
	assert.Equal(t, []string{"a", "b"}, m.Kinds())
	assert.Equal(t, []resource.Entry{{ID: "1"}, {ID: "3"}}, m.Entries("a"))
}

func TestDecision_Explain(t *testing.T) {
	d := Decision{Outcome: OutcomeExpired, FirstSeen: 0, Threshold: time.Hour, Rule: 2}
	assert.Contains(t, d.Explain(), "rule #2")
	assert.Contains(t, d.Explain(), "1970-01-01T00:00:00Z")

	d = Decision{Outcome: OutcomeKeep, New: true, Threshold: time.Hour, Rule: -1}
	assert.Contains(t, d.Explain(), "first observation")
	assert.Contains(t, d.Explain(), "default threshold")
	assert.False(t, d.Delete())
}
