package modkit

import (
	"context"
	"fmt"
)

// ConfigProvider exposes a single loaded config value, exactly like
// GoCodeAlone/modular's ConfigProvider.
type ConfigProvider interface {
	GetConfig() any
}

type StdConfigProvider struct{ cfg any }

func NewStdConfigProvider(cfg any) *StdConfigProvider { return &StdConfigProvider{cfg: cfg} }
func (s *StdConfigProvider) GetConfig() any           { return s.cfg }

// Application owns the service registry and drives every registered
// Module through Init -> Start, and in reverse through Stop.
type Application struct {
	logger         Logger
	modules        []Module
	byName         map[string]Module
	services       map[string]any
	configSections map[string]ConfigProvider
	started        []Module // in start order, for symmetric shutdown
}

func NewApplication(logger Logger) *Application {
	return &Application{
		logger:         logger,
		byName:         make(map[string]Module),
		services:       make(map[string]any),
		configSections: make(map[string]ConfigProvider),
	}
}

func (a *Application) Logger() Logger { return a.logger }

func (a *Application) RegisterModule(m Module) {
	a.modules = append(a.modules, m)
	a.byName[m.Name()] = m
}

func (a *Application) RegisterConfigSection(section string, cp ConfigProvider) {
	a.configSections[section] = cp
}

func (a *Application) GetConfigSection(section string) (ConfigProvider, error) {
	cp, ok := a.configSections[section]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigSectionNotFound, section)
	}
	return cp, nil
}

func (a *Application) RegisterService(name string, service any) error {
	if _, exists := a.services[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, name)
	}
	a.services[name] = service
	return nil
}

func (a *Application) GetService(name string) (any, error) {
	svc, ok := a.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return svc, nil
}

// Init resolves dependency order (a module implementing DependencyAware is
// initialized after the modules it names) and calls RegisterConfig then
// Init on every module in that order.
func (a *Application) Init() error {
	order, err := a.resolveOrder()
	if err != nil {
		return err
	}
	for _, m := range order {
		if c, ok := m.(Configurable); ok {
			if err := c.RegisterConfig(a); err != nil {
				return fmt.Errorf("module %s: register config: %w", m.Name(), err)
			}
		}
	}
	for _, m := range order {
		if err := m.Init(a); err != nil {
			return fmt.Errorf("module %s: init: %w", m.Name(), err)
		}
		a.logger.Info("module initialized", "module", m.Name())
	}
	a.modules = order
	return nil
}

func (a *Application) resolveOrder() ([]Module, error) {
	visited := make(map[string]int) // 0=unvisited,1=visiting,2=done
	var order []Module

	var visit func(m Module) error
	visit = func(m Module) error {
		switch visited[m.Name()] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("%w: %s", ErrCircularDependency, m.Name())
		}
		visited[m.Name()] = 1
		if da, ok := m.(DependencyAware); ok {
			for _, dep := range da.Dependencies() {
				dm, ok := a.byName[dep]
				if !ok {
					return fmt.Errorf("%w: %s needs %s", ErrModuleDependencyMissing, m.Name(), dep)
				}
				if err := visit(dm); err != nil {
					return err
				}
			}
		}
		visited[m.Name()] = 2
		order = append(order, m)
		return nil
	}

	for _, m := range a.modules {
		if err := visit(m); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Start calls Start on every Startable module, in init order.
func (a *Application) Start(ctx context.Context) error {
	for _, m := range a.modules {
		s, ok := m.(Startable)
		if !ok {
			continue
		}
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("module %s: start: %w", m.Name(), err)
		}
		a.started = append(a.started, m)
		a.logger.Info("module started", "module", m.Name())
	}
	return nil
}

// Stop calls Stop on every Stoppable module that was started, in reverse
// order, collecting (not short-circuiting on) errors.
func (a *Application) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(a.started) - 1; i >= 0; i-- {
		m := a.started[i]
		s, ok := m.(Stoppable)
		if !ok {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			a.logger.Error("module stop failed", "module", m.Name(), "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		a.logger.Info("module stopped", "module", m.Name())
	}
	return firstErr
}

// Application is the sole implementer of this interface; modules type-assert
// against it via the concrete struct passed to Init, but code that only
// needs the narrow surface can depend on this interface instead.
type Registry interface {
	RegisterService(name string, service any) error
	GetService(name string) (any, error)
	RegisterConfigSection(section string, cp ConfigProvider)
	GetConfigSection(section string) (ConfigProvider, error)
	Logger() Logger
}

var _ Registry = (*Application)(nil)
