package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelstack/runner/interfaces"
	"github.com/labelstack/runner/models"
)

type fakeProcess struct {
	code int
	err  error
}

func (p *fakeProcess) Wait(ctx context.Context) (int, error) {
	return p.code, p.err
}

// fakeRuntime scripts build failures and successive exit codes per service
// and records the order of build/start calls.
type fakeRuntime struct {
	mu        sync.Mutex
	buildErrs map[string]error
	exits     map[string][]int
	builds    []string
	starts    []string
	envs      map[string]map[string]string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		buildErrs: map[string]error{},
		exits:     map[string][]int{},
		envs:      map[string]map[string]string{},
	}
}

func (f *fakeRuntime) Build(ctx context.Context, svc *models.ServiceSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds = append(f.builds, svc.Name)
	if err := f.buildErrs[svc.Name]; err != nil {
		return "", err
	}
	return "img-" + svc.Name, nil
}

func (f *fakeRuntime) Start(ctx context.Context, svc *models.ServiceSpec, image string, env map[string]string) (interfaces.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, svc.Name)
	f.envs[svc.Name] = env

	code := 0
	if codes := f.exits[svc.Name]; len(codes) > 0 {
		code = codes[0]
		f.exits[svc.Name] = codes[1:]
	}
	return &fakeProcess{code: code}, nil
}

func (f *fakeRuntime) startOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.starts...)
}

func (f *fakeRuntime) buildOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.builds...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustTopology(t *testing.T, doc string) *models.Topology {
	t.Helper()
	topo, err := models.Parse([]byte(doc))
	require.NoError(t, err)
	return topo
}

const labelingDoc = `
project: labeling

services:
  labeling:
    build: {context: ., dockerfile: labeling.Dockerfile}
    restart: always
    ports: ["1232:1232"]
  test:
    build: {context: ., dockerfile: labeling.Dockerfile}
    restart: never
    depends_on: [labeling]
    environment:
      is_test: ${is_test-}
    command: ["python", "-m", "pytest", "tests/api_tests"]
`

func TestRunLabelingTopology(t *testing.T) {
	topo := mustTopology(t, labelingDoc)
	rt := newFakeRuntime()

	o := New(rt, topo, map[string]string{"is_test": "true"}, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateRunning, report.Outcome("labeling").State)
	assert.Equal(t, models.StateCompleted, report.Outcome("test").State)
	assert.False(t, report.Failed())

	// The dependent only starts after its dependency is up.
	assert.Equal(t, []string{"labeling", "test"}, rt.startOrder())
	assert.Equal(t, map[string]string{"is_test": "true"}, rt.envs["test"])
}

func TestRunBuildFailureBlocksDependents(t *testing.T) {
	topo := mustTopology(t, `
services:
  a: {build: {context: .}}
  b:
    build: {context: .}
    depends_on: [a]
`)
	rt := newFakeRuntime()
	rt.buildErrs["a"] = errors.New("missing base image")

	o := New(rt, topo, nil, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	a := report.Outcome("a")
	assert.Equal(t, models.StateFailed, a.State)
	var berr *models.BuildError
	require.ErrorAs(t, a.Err, &berr)
	assert.Equal(t, "a", berr.Service)

	b := report.Outcome("b")
	assert.Equal(t, models.StateBlocked, b.State)

	// b never reached building, let alone starting.
	assert.NotContains(t, rt.buildOrder(), "b")
	assert.Empty(t, rt.startOrder())
	assert.True(t, report.Failed())
}

func TestRunFailureIsolatedToSubtree(t *testing.T) {
	topo := mustTopology(t, `
services:
  a: {build: {context: .}}
  b:
    build: {context: .}
    depends_on: [a]
  c:
    build: {context: .}
    restart: always
`)
	rt := newFakeRuntime()
	rt.buildErrs["a"] = errors.New("boom")

	o := New(rt, topo, nil, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateFailed, report.Outcome("a").State)
	assert.Equal(t, models.StateBlocked, report.Outcome("b").State)
	// The independent branch keeps going.
	assert.Equal(t, models.StateRunning, report.Outcome("c").State)
}

func TestRunCommandExitsNonZero(t *testing.T) {
	topo := mustTopology(t, `
services:
  test:
    build: {context: .}
    restart: never
    command: ["pytest"]
`)
	rt := newFakeRuntime()
	rt.exits["test"] = []int{1}

	o := New(rt, topo, nil, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	outcome := report.Outcome("test")
	assert.Equal(t, models.StateFailed, outcome.State)
	var rf *models.RuntimeFailure
	require.ErrorAs(t, outcome.Err, &rf)
	assert.Equal(t, 1, rf.ExitCode)
	assert.Equal(t, 1, rf.Attempts)
}

func TestRunOnFailureRetriesThenCompletes(t *testing.T) {
	topo := mustTopology(t, `
services:
  flaky:
    build: {context: .}
    restart: on-failure
    command: ["job"]
`)
	rt := newFakeRuntime()
	rt.exits["flaky"] = []int{1, 1, 0}

	o := New(rt, topo, nil, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, report.Outcome("flaky").State)
	assert.Equal(t, []string{"flaky", "flaky", "flaky"}, rt.startOrder())
}

func TestRunOnFailureExhaustsRetries(t *testing.T) {
	topo := mustTopology(t, `
services:
  flaky:
    build: {context: .}
    restart: on-failure
    command: ["job"]
`)
	rt := newFakeRuntime()
	rt.exits["flaky"] = []int{1, 1, 1, 1}

	o := New(rt, topo, nil, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	outcome := report.Outcome("flaky")
	assert.Equal(t, models.StateFailed, outcome.State)
	var rf *models.RuntimeFailure
	require.ErrorAs(t, outcome.Err, &rf)
	assert.Equal(t, DefaultMaxAttempts, rf.Attempts)
	assert.Len(t, rt.startOrder(), DefaultMaxAttempts)
}

func TestRunCycleAbortsBeforeLaunch(t *testing.T) {
	topo := mustTopology(t, `
services:
  a:
    build: {context: .}
    depends_on: [b]
  b:
    build: {context: .}
    depends_on: [a]
`)
	rt := newFakeRuntime()

	o := New(rt, topo, nil, quietLogger())
	_, err := o.Run(context.Background())

	var cerr *models.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, rt.buildOrder())
	assert.Empty(t, rt.startOrder())
}

func TestRunOneShotDependency(t *testing.T) {
	topo := mustTopology(t, `
services:
  migrate:
    build: {context: .}
    restart: never
    command: ["migrate"]
  server:
    build: {context: .}
    restart: always
    depends_on: [migrate]
`)
	rt := newFakeRuntime()

	o := New(rt, topo, nil, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateCompleted, report.Outcome("migrate").State)
	assert.Equal(t, models.StateRunning, report.Outcome("server").State)
	assert.Equal(t, []string{"migrate", "server"}, rt.startOrder())
}

func TestRunResolutionFailureIsPerService(t *testing.T) {
	topo := mustTopology(t, `
services:
  a:
    build: {context: .}
    environment:
      TOKEN: ${API_TOKEN}
  b:
    build: {context: .}
    depends_on: [a]
  c:
    build: {context: .}
    restart: always
`)
	rt := newFakeRuntime()

	o := New(rt, topo, map[string]string{}, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	a := report.Outcome("a")
	assert.Equal(t, models.StateFailed, a.State)
	var re *models.ResolutionError
	require.ErrorAs(t, a.Err, &re)
	assert.Equal(t, "API_TOKEN", re.Missing)

	assert.Equal(t, models.StateBlocked, report.Outcome("b").State)
	assert.Equal(t, models.StateRunning, report.Outcome("c").State)

	// The failing service never reached building.
	assert.NotContains(t, rt.buildOrder(), "a")
}

func TestRunReportKeepsDeclarationOrder(t *testing.T) {
	topo := mustTopology(t, `
services:
  z: {build: {context: .}, restart: always}
  m: {build: {context: .}, restart: always}
  a: {build: {context: .}, restart: always}
`)
	rt := newFakeRuntime()

	o := New(rt, topo, nil, quietLogger())
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		names = append(names, outcome.Name)
	}
	assert.Equal(t, []string{"z", "m", "a"}, names)
}
