package modkit

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() Logger { return NewSlogLogger(slog.LevelError + 1) }

type recordingModule struct {
	name    string
	deps    []string
	initErr error
	startErr error
	stopErr  error
	events   *[]string
}

func (m *recordingModule) Name() string { return m.name }
func (m *recordingModule) Dependencies() []string {
	if m.deps == nil {
		return nil
	}
	return m.deps
}
func (m *recordingModule) Init(app *Application) error {
	*m.events = append(*m.events, "init:"+m.name)
	return m.initErr
}
func (m *recordingModule) Start(ctx context.Context) error {
	*m.events = append(*m.events, "start:"+m.name)
	return m.startErr
}
func (m *recordingModule) Stop(ctx context.Context) error {
	*m.events = append(*m.events, "stop:"+m.name)
	return m.stopErr
}

func TestApplicationInitOrdersByDependency(t *testing.T) {
	var events []string
	app := NewApplication(quietLogger())
	app.RegisterModule(&recordingModule{name: "b", deps: []string{"a"}, events: &events})
	app.RegisterModule(&recordingModule{name: "a", events: &events})

	require.NoError(t, app.Init())
	assert.Equal(t, []string{"init:a", "init:b"}, events)
}

func TestApplicationInitRejectsMissingDependency(t *testing.T) {
	var events []string
	app := NewApplication(quietLogger())
	app.RegisterModule(&recordingModule{name: "b", deps: []string{"ghost"}, events: &events})

	err := app.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModuleDependencyMissing)
}

func TestApplicationInitRejectsCircularDependency(t *testing.T) {
	var events []string
	app := NewApplication(quietLogger())
	app.RegisterModule(&recordingModule{name: "a", deps: []string{"b"}, events: &events})
	app.RegisterModule(&recordingModule{name: "b", deps: []string{"a"}, events: &events})

	err := app.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
}

func TestApplicationStartStopRunsInAndReverseOrder(t *testing.T) {
	var events []string
	app := NewApplication(quietLogger())
	app.RegisterModule(&recordingModule{name: "a", events: &events})
	app.RegisterModule(&recordingModule{name: "b", deps: []string{"a"}, events: &events})

	require.NoError(t, app.Init())
	events = nil
	require.NoError(t, app.Start(context.Background()))
	assert.Equal(t, []string{"start:a", "start:b"}, events)

	events = nil
	require.NoError(t, app.Stop(context.Background()))
	assert.Equal(t, []string{"stop:b", "stop:a"}, events)
}

func TestApplicationStopCollectsFirstErrorButStopsEveryStartedModule(t *testing.T) {
	var events []string
	failing := &recordingModule{name: "a", events: &events, stopErr: assert.AnError}
	app := NewApplication(quietLogger())
	app.RegisterModule(failing)
	app.RegisterModule(&recordingModule{name: "b", deps: []string{"a"}, events: &events})

	require.NoError(t, app.Init())
	require.NoError(t, app.Start(context.Background()))

	events = nil
	err := app.Stop(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"stop:b", "stop:a"}, events)
}

func TestApplicationServiceRegistrationRejectsDuplicates(t *testing.T) {
	app := NewApplication(quietLogger())
	require.NoError(t, app.RegisterService("svc", 1))

	err := app.RegisterService("svc", 2)
	assert.ErrorIs(t, err, ErrServiceAlreadyRegistered)

	got, err := app.GetService("svc")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	_, err = app.GetService("missing")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestApplicationConfigSections(t *testing.T) {
	app := NewApplication(quietLogger())
	app.RegisterConfigSection("smtp", NewStdConfigProvider("cfg"))

	cp, err := app.GetConfigSection("smtp")
	require.NoError(t, err)
	assert.Equal(t, "cfg", cp.GetConfig())

	_, err = app.GetConfigSection("missing")
	assert.ErrorIs(t, err, ErrConfigSectionNotFound)
}
