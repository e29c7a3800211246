package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ontanj/encprofile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const scenarioYAML = `
steps:
  - op: authorize
    caller: owner
    identity: analyst
  - op: authorize
    caller: mallory
    identity: mallory
    expect: unauthorized
  - op: create
    caller: alice
    profile: {age_range: 3, income_level: 5, spending_pattern: 7, risk_tolerance: 2, digital_activity: 9, location_cluster: 14}
  - op: create
    caller: bob
    profile: {age_range: 3, income_level: 1, spending_pattern: 7, risk_tolerance: 2, digital_activity: 0, location_cluster: 14}
  - op: create
    caller: alice
    profile: {age_range: 1}
    expect: already_exists
  - op: create
    caller: carol
    profile: {age_range: 8}
    expect: out_of_range
  - op: analytics
    caller: analyst
    identity: alice
    analytics: {total_interactions: 120, avg_session_duration: 300, preferred_channel: 2, loyalty_score: 80, churn_risk: 10, is_vip: true}
  - op: insights
    caller: analyst
    identity: carol
    insights: {credit_score: 1}
    expect: not_found
  - op: compare
    caller: analyst
    identity: alice
    other: bob
    reveal: true
  - op: score
    caller: analyst
    identity: alice
    other: bob
    reveal: true
  - op: decrypt
    caller: analyst
    identity: bob
  - op: status
    identity: alice
  - op: histogram
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig() encprofile.Config {
	cfg := encprofile.DefaultConfig()
	cfg.Grants.CallerReadsResults = true
	cfg.Oracle.Timeout = 5 * time.Second
	return cfg
}

func TestRunScenario(t *testing.T) {
	sc, err := parseScenario(writeFile(t, "scenario.yaml", scenarioYAML))
	require.NoError(t, err)

	results, err := runScenario(context.Background(), testConfig(), zaptest.NewLogger(t), sc)
	require.NoError(t, err)
	require.Len(t, results, len(sc.Steps))

	byIndex := func(i int) stepResult { return results[i-1] }
	assert.ErrorIs(t, byIndex(2).Err, encprofile.ErrUnauthorized)
	assert.Equal(t, "equal: age, spending, risk, location", byIndex(9).Detail)
	assert.Equal(t, "score 65", byIndex(10).Detail)
	assert.Equal(t, "age=3 income=1 spending=7 risk=2 digital=0 location=14", byIndex(11).Detail)
	assert.Contains(t, byIndex(12).Detail, "analytics=true")
	assert.Contains(t, byIndex(13).Detail, "2 users")
}

func TestRunScenarioUnexpectedError(t *testing.T) {
	sc := Scenario{Steps: []Step{
		{Op: "create", Caller: "alice", Profile: &encprofile.ProfileInput{AgeRange: 1}},
		{Op: "analytics", Caller: "alice", Identity: "alice", Analytics: &encprofile.AnalyticsInput{}},
		{Op: "histogram"},
	}}
	results, err := runScenario(context.Background(), testConfig(), zaptest.NewLogger(t), sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, encprofile.ErrUnauthorized)
	assert.Len(t, results, 2)
}

func TestRunScenarioMissingExpectation(t *testing.T) {
	sc := Scenario{Steps: []Step{
		{Op: "authorize", Caller: "owner", Identity: "analyst", Expect: "unauthorized"},
	}}
	_, err := runScenario(context.Background(), testConfig(), zaptest.NewLogger(t), sc)
	assert.ErrorContains(t, err, "expected unauthorized")
}

func TestParseScenario(t *testing.T) {
	t.Run("example", func(t *testing.T) {
		sc, err := parseScenario(filepath.Join("..", "examples", "scenario.yaml"))
		require.NoError(t, err)
		assert.NotEmpty(t, sc.Steps)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := parseScenario(writeFile(t, "empty.yaml", "steps: []\n"))
		assert.Error(t, err)
	})
	t.Run("unknown expectation", func(t *testing.T) {
		_, err := parseScenario(writeFile(t, "bad.yaml", "steps:\n  - op: histogram\n    expect: boom\n"))
		assert.ErrorContains(t, err, "boom")
	})
}

func TestDirectory(t *testing.T) {
	owner := encprofile.DefaultConfig().OwnerAddress()
	d := newDirectory(owner)

	got, err := d.address("owner")
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	hex := "0x0000000000000000000000000000000000000a11"
	got, err = d.address(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, got.Hex())

	_, err = d.address("0x12")
	assert.Error(t, err)
	_, err = d.address("")
	assert.Error(t, err)

	alice, err := d.address("alice")
	require.NoError(t, err)
	again, err := newDirectory(owner).address("alice")
	require.NoError(t, err)
	assert.Equal(t, alice, again)

	key, err := d.key("alice")
	require.NoError(t, err)
	assert.Equal(t, alice, crypto.PubkeyToAddress(key.PublicKey))

	_, err = d.key("owner")
	assert.Error(t, err)
}

func TestStoreCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Store.InMemory = false
	cfg.Store.Path = dir

	sc := Scenario{Steps: []Step{
		{Op: "create", Caller: "alice", Profile: &encprofile.ProfileInput{AgeRange: 2, IncomeLevel: 4}},
	}}
	_, err := runScenario(context.Background(), cfg, zaptest.NewLogger(t), sc)
	require.NoError(t, err)

	flags = globalFlags{DataDir: dir}
	defer func() { flags = globalFlags{} }()

	store, err := openStore()
	require.NoError(t, err)
	d, err := encprofile.LoadDistributions(store)
	require.NoError(t, err)
	h := d.Snapshot()
	assert.EqualValues(t, 1, h.TotalUsers)
	assert.EqualValues(t, 1, h.Age[2])
	assert.EqualValues(t, 1, h.Income[4])

	alice, err := newDirectory(cfg.OwnerAddress()).address("alice")
	require.NoError(t, err)
	ps, err := encprofile.LoadProfileStatus(store, alice)
	require.NoError(t, err)
	assert.True(t, ps.Active)
	require.NoError(t, store.Close())
}

func TestOpenStoreRequiresPath(t *testing.T) {
	flags = globalFlags{}
	_, err := openStore()
	assert.ErrorContains(t, err, "on-disk")
}
