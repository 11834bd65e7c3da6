package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rotasave.org/internal/rosca"
)

type groupEnv struct {
	t      *testing.T
	dbPath string
}

func newGroupEnv(t *testing.T) *groupEnv {
	return &groupEnv{t: t, dbPath: filepath.Join(t.TempDir(), "rotasave.db")}
}

// run executes one CLI invocation against the shared sqlite file.
func (e *groupEnv) run(args ...string) (stdout, stderr string, code int) {
	e.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--sqlite-path", e.dbPath, "--format", "json"}, args...)
	code = Execute(context.Background(), full, &out, &errOut)
	return out.String(), errOut.String(), code
}

func (e *groupEnv) runJSON(args ...string) CLIResponse {
	e.t.Helper()
	out, errOut, code := e.run(args...)
	var resp CLIResponse
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp), "stdout=%q stderr=%q", out, errOut)
	if resp.Status == "ok" {
		require.Equal(e.t, ExitSuccess, code)
	}
	return resp
}

func dataAs[T any](t *testing.T, resp CLIResponse) T {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestGroupCommandsPersistAcrossInvocations(t *testing.T) {
	env := newGroupEnv(t)

	resp := env.runJSON("group", "create", "--creator", "alice", "--amount", "50", "--members", "2", "--duration", "60", "--created-at", "1000")
	require.Equal(t, "ok", resp.Status)
	created := dataAs[groupReport](t, resp)
	assert.Equal(t, uint64(1), created.Group.ID)
	assert.Equal(t, rosca.StatusForming, created.Group.Status)
	assert.Equal(t, int64(50), created.PayoutAmount)
	assert.Equal(t, int64(1060), created.NextCycleDue)

	resp = env.runJSON("group", "join", "1", "--member", "bob")
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, rosca.StatusActive, dataAs[groupReport](t, resp).Group.Status)

	for _, m := range []string{"alice", "bob"} {
		resp = env.runJSON("group", "contribute", "1", "--member", m, "--amount", "50", "--timestamp", "1010")
		require.Equal(t, "ok", resp.Status)
		rec := dataAs[rosca.ContributionRecord](t, resp)
		assert.Equal(t, rosca.Principal(m), rec.Member)
		assert.True(t, rec.Paid)
	}

	resp = env.runJSON("group", "advance", "1", "--timestamp", "1060")
	require.Equal(t, "ok", resp.Status)
	payout := dataAs[rosca.PayoutRecord](t, resp)
	assert.Equal(t, rosca.Principal("alice"), payout.Recipient)
	assert.Equal(t, int64(100), payout.Amount)

	resp = env.runJSON("group", "show", "1")
	require.Equal(t, "ok", resp.Status)
	report := dataAs[groupReport](t, resp)
	assert.Equal(t, uint32(1), report.Group.CurrentCycle)
	require.Len(t, report.Payouts, 1)
	assert.Equal(t, payout, report.Payouts[0])

	resp = env.runJSON("group", "cancel", "1", "--by", "alice", "--timestamp", "1070")
	require.Equal(t, "ok", resp.Status)
	assert.Equal(t, rosca.StatusCancelled, dataAs[groupReport](t, resp).Group.Status)
}

func TestGroupCommandReportsEngineErrors(t *testing.T) {
	env := newGroupEnv(t)
	resp := env.runJSON("group", "create", "--id", "9", "--creator", "alice", "--amount", "50", "--members", "3")
	require.Equal(t, "ok", resp.Status)

	out, _, code := env.run("group", "contribute", "9", "--member", "alice", "--amount", "50")
	assert.Equal(t, ExitFailure, code)
	var failed CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &failed))
	require.NotNil(t, failed.Error)
	assert.Equal(t, "error", failed.Status)
	assert.Equal(t, string(rosca.CodeInvalidStatus), failed.Error.Code)
	assert.Equal(t, "state_conflict", failed.Error.Category)

	out, _, code = env.run("group", "cancel", "9", "--by", "bob")
	assert.Equal(t, ExitFailure, code)
	require.NoError(t, json.Unmarshal([]byte(out), &failed))
	assert.Equal(t, string(rosca.CodeUnauthorized), failed.Error.Code)

	_, _, code = env.run("group", "show", "nope")
	assert.Equal(t, ExitCommandError, code)
}

func TestGroupShowText(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rotasave.db")
	var out bytes.Buffer
	code := Execute(context.Background(), []string{"--sqlite-path", dbPath,
		"group", "create", "--creator", "alice", "--amount", "10", "--members", "2"}, &out, &out)
	require.Equal(t, ExitSuccess, code, out.String())
	assert.Contains(t, out.String(), "group 1 (forming)")
	assert.Contains(t, out.String(), "members:      1/2 [alice]")
}

func TestTimestampDefaultsToClock(t *testing.T) {
	opts := &RootOptions{Now: func() time.Time { return time.Unix(1234, 0) }}
	assert.Equal(t, int64(1234), opts.timestamp(0))
	assert.Equal(t, int64(99), opts.timestamp(99))
}
