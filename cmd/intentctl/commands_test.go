package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chatdesk/internal/docstore"
	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/intent"
	"github.com/ashureev/chatdesk/internal/resolve"
)

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.Bytes()
}

func TestClassifyCommand(t *testing.T) {
	out := run(t, "classify", "три", "кастома", "мелиса")

	var got struct {
		Explanation intent.Explanation `json:"explanation"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, intent.CreateOrders, got.Explanation.Result.Intent)
}

func TestSeedThenResolve(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ctl.db")
	run(t, "--db", db, "seed", "Мелиса", "--alias", "мел")

	var res resolve.Result
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "resolve", "мелиса"), &res))
	assert.Equal(t, resolve.Found, res.Outcome)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Мелиса", res.Candidates[0].Entity.Name)
}

func TestResolveSeveralNames(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ctl.db")
	run(t, "--db", db, "seed", "Мелиса")
	run(t, "--db", db, "seed", "Кира")

	var res []resolve.Result
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "resolve", "кира", "и", "мелиса"), &res))
	require.Len(t, res, 2)
	assert.Equal(t, resolve.Found, res[0].Outcome)
	assert.Equal(t, "Кира", res[0].Candidates[0].Entity.Name)
	assert.Equal(t, resolve.Found, res[1].Outcome)
	assert.Equal(t, "Мелиса", res[1].Candidates[0].Entity.Name)
}

func TestRenameReportsModified(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ctl.db")
	var e domain.Entity
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "seed", "Мелиса"), &e))

	var res docstore.UpdateResult
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "rename", e.ID, "Милена"), &res))
	assert.True(t, res.Modified)

	require.NoError(t, json.Unmarshal(run(t, "--db", db, "rename", e.ID, "Милена"), &res))
	assert.False(t, res.Modified)

	var found resolve.Result
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "resolve", "милена"), &found))
	require.Equal(t, resolve.Found, found.Outcome)
	assert.Equal(t, e.ID, found.Candidates[0].Entity.ID)
}

func TestResolveRequiresName(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"resolve"})
	assert.Error(t, cmd.Execute())
}
