// Command soonishd runs the Soonish core as a single background process:
// the durable timer sweeper and every event's lifecycle workflow. It wires
// C1-C9 together and exposes nothing of its own — an HTTP API layer is out
// of scope here (spec.md §1 Non-goals) and would be a separate binary built
// against internal/facade.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/redis/go-redis/v9"

	"github.com/pypeaday/soonish/internal/audit"
	"github.com/pypeaday/soonish/internal/clock"
	"github.com/pypeaday/soonish/internal/crypto"
	"github.com/pypeaday/soonish/internal/dispatch"
	"github.com/pypeaday/soonish/internal/durabletimer"
	"github.com/pypeaday/soonish/internal/facade"
	"github.com/pypeaday/soonish/internal/modkit"
	"github.com/pypeaday/soonish/internal/notify"
	"github.com/pypeaday/soonish/internal/reminder"
	"github.com/pypeaday/soonish/internal/resolver"
	"github.com/pypeaday/soonish/internal/schedule"
	"github.com/pypeaday/soonish/internal/store"
	"github.com/pypeaday/soonish/internal/workflow"
)

// appConfig is the top-level process config, decoded directly with
// gopkg.in/yaml.v3 (grounded on nugget-thane-ai-agent/internal/config's
// single-file yaml.v3 Config), one section per wired component.
// internal/store's own Config keeps its golobby-fed yaml+env tags since it
// is also independently RegisterConfig'd into the Application.
type appConfig struct {
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`

	Store store.Config `yaml:"store"`

	Durabletimer struct {
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"durabletimer"`

	Dispatch struct {
		SubscriptionParallelism int `yaml:"subscription_parallelism"`
		EventParallelism        int `yaml:"event_parallelism"`
	} `yaml:"dispatch"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	SMTP struct {
		Default  notify.SMTPConfig `yaml:"default"`
		Verified notify.SMTPConfig `yaml:"verified"`
	} `yaml:"smtp"`
}

func defaultConfig() appConfig {
	var cfg appConfig
	cfg.LogLevel = "info"
	cfg.Store = store.Config{Driver: "sqlite", DSN: "file::memory:?cache=shared"}
	cfg.Durabletimer.PollInterval = time.Second
	cfg.Dispatch.SubscriptionParallelism = dispatch.DefaultSubscriptionParallelism
	cfg.Dispatch.EventParallelism = dispatch.DefaultEventParallelism
	return cfg
}

func loadConfig(path string) (appConfig, error) {
	cfg := defaultConfig()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, modkit.Wrap(modkit.KindFatalConfig, "open config file "+path, err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, modkit.Wrap(modkit.KindFatalConfig, "decode config file "+path, err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the process config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("soonishd: config load failed", "error", err.Error())
		os.Exit(1)
	}

	logger := modkit.NewSlogLogger(parseLevel(cfg.LogLevel))

	encryptionKey, err := loadEncryptionKey(cfg.Debug)
	if err != nil {
		logger.Error("soonishd: encryption key unavailable", "error", err.Error())
		os.Exit(1)
	}
	cipher, err := crypto.NewCipher(encryptionKey)
	if err != nil {
		logger.Error("soonishd: build cipher failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := modkit.NewApplication(logger)
	storeModule := store.NewModuleWithConfig(cfg.Store)
	app.RegisterModule(storeModule)

	if err := app.Init(); err != nil {
		logger.Error("soonishd: application init failed", "error", err.Error())
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		logger.Error("soonishd: application start failed", "error", err.Error())
		os.Exit(1)
	}

	dbSvc, err := app.GetService("db")
	if err != nil {
		logger.Error("soonishd: db service missing after init", "error", err.Error())
		os.Exit(1)
	}
	db := dbSvc.(*store.DB)

	// C2 repositories.
	events := store.NewEventRepo(db)
	subs := store.NewSubscriptionRepo(db)
	integrations := store.NewIntegrationRepo(db)
	integrationSvc := store.NewIntegrationService(integrations, cipher)
	workflowStates := store.NewWorkflowStateRepo(db)

	// C3.
	res := resolver.New(integrations, integrationSvc, logger)

	// C4: every notifier driver the pack's dependency surface can reach.
	notifyRegistry := notify.NewRegistry()
	notifyRegistry.Register(notify.NewMailtoDriver(cfg.SMTP.Default))
	notifyRegistry.Register(notify.NewVerifiedMailtoDriver(cfg.SMTP.Verified))
	notifyRegistry.Register(notify.NewGotifyDriver())
	notifyRegistry.Register(notify.NewNtfyDriver())
	notifyRegistry.Register(notify.NewDiscordDriver())
	notifyRegistry.Register(notify.NewSlackDriver())

	dedupe := buildDedupeLock(cfg.Redis.Addr, logger)

	// C5.
	dispatcher := dispatch.New(subs, res, notifyRegistry, dedupe, logger,
		dispatch.WithSubscriptionParallelism(cfg.Dispatch.SubscriptionParallelism),
		dispatch.WithEventParallelism(cfg.Dispatch.EventParallelism),
	)

	// C7, wired before C1's Registry since the sweeper needs a Handler at
	// construction time; nothing above this line depends on the timer.
	reminderTask := reminder.New(events, dispatcher, logger)

	// C1's production Timer, built directly rather than through a
	// modkit.Module: its only consumer is C6 below, constructed in this
	// same function, so the generic service-registry indirection buys
	// nothing here and would only reintroduce the construction-order
	// problem RegisterModule's single-pass Init can't express (the
	// Handler needs "db", which "db" can only provide after its own
	// module has already Init'd).
	timerStore := durabletimer.NewSQLStore(db.Conn())
	timer := durabletimer.NewRegistry(timerStore, clock.System{}, reminderTask.Handler(), logger,
		durabletimer.WithPollInterval(cfg.Durabletimer.PollInterval),
	)
	if err := timer.Start(ctx); err != nil {
		logger.Error("soonishd: durable timer start failed", "error", err.Error())
		os.Exit(1)
	}

	// C6.
	schedules := schedule.New(timer, logger)

	auditor := audit.NewEmitter(logger)

	// C8.
	engine := workflow.NewEngine(events, subs, workflowStates, schedules, dispatcher, clock.System{}, logger, auditor)

	// C9: the only thing an API-layer binary would import from this
	// process's packages. Kept constructed and logged so the wiring is
	// exercised even with no HTTP server attached.
	service := facade.New(engine)
	logger.Info("soonishd: orchestration facade ready", "wired", service != nil)

	if err := engine.Rehydrate(ctx); err != nil {
		logger.Error("soonishd: workflow rehydration failed", "error", err.Error())
	}

	logger.Info("soonishd: started")
	<-ctx.Done()
	logger.Info("soonishd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := timer.Stop(shutdownCtx); err != nil {
		logger.Error("soonishd: durable timer stop failed", "error", err.Error())
	}
	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("soonishd: application stop failed", "error", err.Error())
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEncryptionKey implements spec.md §6: "symmetric encryption key
// (base64, 256-bit, fatal if absent in non-debug)". In debug mode a
// missing key is tolerated by minting an ephemeral one, so a local dev run
// never needs it set.
func loadEncryptionKey(debug bool) (string, error) {
	key, err := modkit.RequireEnv("SOONISH_ENCRYPTION_KEY", debug)
	if err != nil {
		return "", err
	}
	if key != "" {
		return key, nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", modkit.Wrap(modkit.KindFatalConfig, "generate ephemeral debug encryption key", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func buildDedupeLock(redisAddr string, logger modkit.Logger) dispatch.DedupeLock {
	if redisAddr == "" {
		return dispatch.NewMemoryDedupeLock()
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	logger.Info("soonishd: using redis dedupe lock", "addr", redisAddr)
	return dispatch.NewRedisDedupeLock(client)
}
