package modkit

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	golobbyconfig "github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
)

// LoadYAML feeds a YAML file into cfg using golobby/config, the same
// feeder library GoCodeAlone/modular's config_provider.go wraps.
func LoadYAML(path string, cfg any) error {
	c := golobbyconfig.New(golobbyconfig.Feeders(feeder.Yaml{Path: path}))
	if err := c.Feed(cfg); err != nil {
		return Wrap(KindFatalConfig, "load yaml config "+path, err)
	}
	return nil
}

// LoadTOML feeds a TOML file into cfg directly (golobby/config has no TOML
// feeder; BurntSushi/toml is the teacher's own TOML dependency).
func LoadTOML(path string, cfg any) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return Wrap(KindFatalConfig, "load toml config "+path, err)
	}
	return nil
}

// FeedEnv overlays process environment variables onto cfg via
// golobby/config's env feeder, which reads the variable named by each
// field's `env` struct tag. prefix is not used to build variable names.
func FeedEnv(prefix string, cfg any) error {
	c := golobbyconfig.New(golobbyconfig.Feeders(feeder.Env{}))
	if err := c.Feed(cfg); err != nil {
		return Wrap(KindFatalConfig, "feed env config", err)
	}
	return nil
}

// RequireEnv returns a fatal_config error if the named environment variable
// is absent, per spec.md §6: "fatal if absent in non-debug" for the
// encryption key and similar required secrets.
func RequireEnv(name string, debug bool) (string, error) {
	v := os.Getenv(name)
	if v == "" && !debug {
		return "", NewError(KindFatalConfig, fmt.Sprintf("required environment variable %s is not set", name))
	}
	return v, nil
}
