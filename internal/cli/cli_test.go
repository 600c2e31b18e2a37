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

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/internal/config"
	"github.com/goliatone/go-preference/pkg/state"
)

type harness struct {
	t    *testing.T
	file string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return &harness{t: t, file: filepath.Join(dir, "prefs", "preferences.yaml")}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--backend", "file", "--file", h.file}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "prefctl %s", strings.Join(args, " "))
	return out
}

func TestSetGetRoundTrip(t *testing.T) {
	h := newHarness(t)

	h.mustRun("set", "--type", "int", "fontSize", "14")
	assert.Equal(t, "14\n", h.mustRun("get", "fontSize"))
	assert.Equal(t, "14\n", h.mustRun("get", "--type", "int", "fontSize"))
	assert.Equal(t, "14\n", h.mustRun("get", "--type", "string", "fontSize"))

	h.mustRun("set", "--type", "bool", "showTips", "true")
	assert.Equal(t, "true\n", h.mustRun("get", "--type", "bool", "showTips"))

	h.mustRun("set", "theme", "dark")
	assert.Equal(t, "dark\n", h.mustRun("get", "theme"))

	data, err := os.ReadFile(h.file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fontSize: 14")
}

func TestGetMissingKey(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("get", "absent")
	assert.ErrorIs(t, err, ErrNotSet)

	_, err = h.run("get", "font.size")
	assert.ErrorIs(t, err, pref.ErrInvalidKey)
}

func TestSetRejectedByConstraint(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("set", "--type", "int", "--require", "between(value, 8, 72)", "fontSize", "100")
	require.ErrorIs(t, err, pref.ErrConstraintViolated)

	_, err = h.run("get", "fontSize")
	assert.ErrorIs(t, err, ErrNotSet)

	h.mustRun("set", "--type", "int", "--require", "between(value, 8, 72)", "fontSize", "24")
	assert.Equal(t, "24\n", h.mustRun("get", "fontSize"))
}

func TestSetParseErrors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("set", "--type", "int", "fontSize", "large")
	assert.Error(t, err)
	_, err = h.run("set", "--type", "color", "fontSize", "red")
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	h := newHarness(t)

	h.mustRun("set", "theme", "dark")
	h.mustRun("rm", "theme")

	_, err := h.run("get", "theme")
	assert.ErrorIs(t, err, ErrNotSet)
}

func TestDomainsResolveStrongestFirst(t *testing.T) {
	h := newHarness(t)
	registration := filepath.Join(t.TempDir(), "defaults.yaml")
	require.NoError(t, os.WriteFile(registration, []byte("fontSize: 12\nlineNumbers: true\n"), 0o600))

	assert.Equal(t, "12\n", h.mustRun("--registration", registration, "get", "fontSize"))

	h.mustRun("set", "--type", "int", "fontSize", "14")
	assert.Equal(t, "14\n", h.mustRun("--registration", registration, "get", "fontSize"))
	assert.Equal(t, "20\n", h.mustRun("--registration", registration, "-D", "fontSize=20", "get", "fontSize"))

	list := h.mustRun("--registration", registration, "-D", "theme=light", "list")
	assert.Equal(t, "fontSize\t14\tapplication\nlineNumbers\ttrue\tregistration\ntheme\tlight\targument\n", list)

	onlyArguments := h.mustRun("-D", "theme=light", "list", "--domain", state.DomainArgument)
	assert.Equal(t, "theme\tlight\n", onlyArguments)
}

func TestTrace(t *testing.T) {
	h := newHarness(t)
	h.mustRun("set", "--type", "int", "fontSize", "14")

	out := h.mustRun("-D", "fontSize=20", "trace", "--json", "fontSize")
	trace, err := state.TraceFromJSON([]byte(out))
	require.NoError(t, err)
	require.Len(t, trace.Layers, 3)

	effective, ok := trace.Effective()
	require.True(t, ok)
	assert.Equal(t, state.DomainArgument, effective.Domain)
	assert.True(t, trace.Layers[1].Found)
	assert.False(t, trace.Layers[2].Found)

	table := h.mustRun("trace", "fontSize")
	assert.Contains(t, table, "DOMAIN")
	assert.Regexp(t, `application\s+300\s+14\s+\*`, table)
}

func TestUnknownBackend(t *testing.T) {
	newHarness(t)

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--backend", "etcd", "get", "theme"})
	assert.ErrorIs(t, cmd.Execute(), config.ErrUnknownBackend)
}

func TestParseDefines(t *testing.T) {
	values, err := parseDefines([]string{"fontSize=12", "showTips=true", "theme=dark", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fontSize": 12, "showTips": true, "theme": "dark", "empty": ""}, values)

	_, err = parseDefines([]string{"fontSize"})
	assert.Error(t, err)
	_, err = parseDefines([]string{"font.size=12"})
	assert.ErrorIs(t, err, pref.ErrInvalidKey)
}

func TestStartWatchPrintsChanges(t *testing.T) {
	store := state.NewMemoryStore(map[string]any{"theme": "light"})
	var out bytes.Buffer

	wait := startWatch(context.Background(), store, []string{"theme"}, 2, &out, nil)
	store.Set("theme", "light")
	store.Set("theme", "dark")
	store.Remove("theme")
	require.NoError(t, wait())

	var lines []watchLine
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var line watchLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "theme", lines[0].Key)
	assert.Equal(t, "dark", lines[0].Value)
	assert.True(t, lines[1].Removed)
	assert.Nil(t, lines[1].Value)
}

func TestStartWatchStopsWithContext(t *testing.T) {
	store := state.NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())

	wait := startWatch(ctx, store, []string{"theme"}, 0, &bytes.Buffer{}, nil)
	cancel()
	assert.NoError(t, wait())
}
