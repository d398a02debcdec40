package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/config"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

const adminsShape = `{"users": {"name": true, "@where": {"role": {"$arg": "role"}}}}`

func blogSchemaPath(t *testing.T) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("..", "schema", "testdata", "blog.yaml"))
	require.NoError(t, err)
	return p
}

// seededDB creates a database holding two users, one admin.
func seededDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	g, err := schema.LoadFile(blogSchemaPath(t))
	require.NoError(t, err)

	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.CreateTables(ctx, g))
	require.NoError(t, st.InsertRows(ctx, g, "users", []ir.Row{
		{"id": "u1", "name": "Ada", "role": "admin", "updatedAt": 1},
		{"id": "u2", "name": "Bob", "role": "user", "updatedAt": 1},
	}))
	require.NoError(t, st.InsertRows(ctx, g, "posts", []ir.Row{
		{"id": "p1", "authorId": "u1", "title": "hello", "published": true, "createdAt": 1, "updatedAt": 1},
	}))
	return path
}

type cmdResult struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, stdin string, args ...string) cmdResult {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return cmdResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

func decodeData(t *testing.T, stdout string, into any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status, stdout)
	require.NoError(t, json.Unmarshal(resp.Data, into))
}

func TestValidate(t *testing.T) {
	res := execute(t, "", "validate", "--schema", blogSchemaPath(t))
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "✓ Schema valid: 4 table(s), max depth 4")
	assert.Contains(t, res.stdout, "author: many_to_one posts.authorId → users.id")
}

func TestValidate_MissingSchema(t *testing.T) {
	res := execute(t, "", "validate", "--schema", filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "Error [E005]")
}

func TestValidate_MaxDepthFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	body := "schema = \"" + blogSchemaPath(t) + "\"\nmax_depth = 2\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	res := execute(t, "", "validate", "--config", cfgPath, "--format", "json")
	require.NoError(t, res.err)
	var summary SchemaSummary
	decodeData(t, res.stdout, &summary)
	assert.Equal(t, 2, summary.MaxDepth)
	assert.Len(t, summary.Tables, 4)
}

func TestCompile_JSON(t *testing.T) {
	res := execute(t, "", "compile", "--schema", blogSchemaPath(t), "--format", "json",
		`{"users": {"name": true, "posts": {"title": true}}}`)
	require.NoError(t, res.err, res.stdout)

	var plan CompiledPlan
	decodeData(t, res.stdout, &plan)
	assert.Len(t, plan.Fingerprint, 64)
	assert.Equal(t, []string{"posts", "users"}, plan.Tables)
	require.NotEmpty(t, plan.Fragments)
	assert.True(t, plan.Fragments[len(plan.Fragments)-1].Include)

	var ids []string
	for _, f := range plan.Fragments {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, "users#rows")
	assert.Contains(t, ids, "users.posts#agg")
}

func TestCompile_TextFromStdinAndOutputFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "plan.json")
	res := execute(t, `{"users": {"name": true}}`, "compile", "--schema", blogSchemaPath(t), "-o", out, "-")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "✓ Compiled")
	assert.Contains(t, res.stdout, "[envelope]")
	assert.Contains(t, res.stdout, "Wrote plan to "+out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var plan CompiledPlan
	require.NoError(t, json.Unmarshal(data, &plan))
	assert.Equal(t, []string{"users"}, plan.Tables)
}

func TestCompile_UnknownField(t *testing.T) {
	res := execute(t, "", "compile", "--schema", blogSchemaPath(t), "--format", "json",
		`{"users": {"nickname": true}}`)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNKNOWN_FIELD", resp.Error.Code)
}

func TestDeps(t *testing.T) {
	res := execute(t, "", "deps", "--schema", blogSchemaPath(t), "--format", "json",
		`{"users": {"@where": {"role": "admin"}, "posts": {"@sort": [{"field": "createdAt", "direction": "desc"}]}}}`)
	require.NoError(t, res.err)

	var report DependencyReport
	decodeData(t, res.stdout, &report)
	assert.Equal(t, []string{"posts", "users"}, report.Tables)
	assert.Equal(t, map[string][]string{"users": {"role"}}, report.Where)
	assert.Equal(t, []string{"authorId", "createdAt"}, report.Structural["posts"])
}

func TestDeps_Text(t *testing.T) {
	res := execute(t, "", "deps", "--schema", blogSchemaPath(t), `{"users": {"name": true}}`)
	require.NoError(t, res.err)
	assert.Equal(t, "users\n  where:      -\n  structural: -\n", res.stdout)
}

func TestRun(t *testing.T) {
	db := seededDB(t)
	res := execute(t, "", "run", "--schema", blogSchemaPath(t), "--db", db, "--format", "json",
		"--input", `{"role": "admin"}`, adminsShape)
	require.NoError(t, res.err, res.stdout)

	var env map[string][]map[string]any
	decodeData(t, res.stdout, &env)
	assert.Equal(t, []map[string]any{{"id": "u1", "name": "Ada"}}, env["users"])
}

func TestRun_MissingParam(t *testing.T) {
	db := seededDB(t)
	res := execute(t, "", "run", "--schema", blogSchemaPath(t), "--db", db, "--format", "json", adminsShape)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.True(t, ir.CodeOf(res.err) == ir.CodeMissingParam, res.stdout)
}

func TestRun_BadInput(t *testing.T) {
	res := execute(t, "", "run", "--schema", blogSchemaPath(t), "--db", seededDB(t), "--input", "[1]", adminsShape)
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "Error [E008]")
}

func TestWatch(t *testing.T) {
	db := seededDB(t)
	deltas := `[{"table": "users", "changed": [{"id": "u1", "name": "Ada L.", "updatedAt": 2}]}]
[{"table": "comments", "changed": [{"id": "c1", "postId": "p1", "body": "hi", "updatedAt": 2}]}]
[{"table": "users", "changed": [{"id": "u2", "role": "admin", "updatedAt": 2}]}]
`
	res := execute(t, deltas, "watch", "--schema", blogSchemaPath(t), "--db", db,
		"--input", `{"role": "admin"}`, adminsShape)
	require.NoError(t, res.err, res.stderr)

	var events []WatchEvent
	sc := bufio.NewScanner(strings.NewReader(res.stdout))
	for sc.Scan() {
		var ev WatchEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3, res.stdout)

	assert.Equal(t, "initial", events[0].Event)
	assert.Equal(t, "patched", events[1].Event)
	assert.Equal(t, "reexecuted", events[2].Event)
	for _, ev := range events {
		assert.Equal(t, events[0].QueryID, ev.QueryID)
	}

	assert.Equal(t, map[string]any{"users": []any{
		map[string]any{"id": "u1", "name": "Ada L."},
	}}, events[1].Envelope)
	assert.Len(t, events[2].Envelope.(map[string]any)["users"], 2)
}

func TestWatch_SkipsBadDelta(t *testing.T) {
	db := seededDB(t)
	deltas := `{"not": "a delta"}
[{"table": "users", "changed": [{"id": "u1", "name": "Ada L.", "updatedAt": 2}]}]`
	res := execute(t, deltas, "watch", "--schema", blogSchemaPath(t), "--db", db,
		"--input", `{"role": "admin"}`, adminsShape)
	require.NoError(t, res.err)
	assert.Equal(t, 2, strings.Count(res.stdout, "\n"), res.stdout)
	assert.Contains(t, res.stderr, "skipping delta")
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	db := filepath.Join(dir, "app.db")

	res := execute(t, "", "init", "--config", cfgPath, "--schema", blogSchemaPath(t), "--db", db)
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "with 4 table(s)")

	cfg, err := config.LoadFrom(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, db, cfg.Database)
	assert.Equal(t, blogSchemaPath(t), cfg.Schema)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	var n int
	require.NoError(t, st.DB().QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'posts', 'comments', 'accounts')`).Scan(&n))
	assert.Equal(t, 4, n)

	// second run keeps the existing config
	res = execute(t, "", "init", "--config", cfgPath)
	require.NoError(t, res.err)
}
