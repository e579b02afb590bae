package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/studyledger/internal/cache"
	"github.com/pavelanni/studyledger/internal/handler"
	"github.com/pavelanni/studyledger/internal/i18n"
	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/llm"
	"github.com/pavelanni/studyledger/internal/llm/prompts"
	"github.com/pavelanni/studyledger/internal/model"
	"github.com/pavelanni/studyledger/internal/store"
	"github.com/pavelanni/studyledger/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "studyledger",
		Short:        "Exam study progress ledger",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(
		serve,
		profileCmd(),
		importCmd(),
		applyCmd(),
		retractCmd(),
		historyCmd(),
		topicsCmd(),
		theoryCmd(),
		reconcileCmd(),
		reportCmd(),
		timeCmd(),
		exportCmd(),
		coachCmd(),
	)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `studyledger --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addStorageFlags registers the flags every command needs to reach the ledger.
func addStorageFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("driver", "sqlite", "Storage driver (sqlite, postgres)")
	f.String("db", store.DefaultDBPath(), "SQLite database path")
	f.String("database-url", "", "PostgreSQL connection URL (driver=postgres)")
	f.String("redis-addr", "", "Redis address for the dashboard cache (empty disables it)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("cache-ttl", cache.DefaultConfig().TTL, "Dashboard cache TTL")
	f.Int("max-retries", ledger.DefaultMaxAttempts, "Attempts per ledger operation on conflict")
	f.StringP("lang", "l", "en", "Output language (en, pt-BR)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// addProfileFlag registers --profile for commands scoped to one profile.
func addProfileFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("profile", "p", "", "Profile id (or set STUDYLEDGER_PROFILE)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addStorageFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("owner-password", "", "API password for user \"owner\" (or set STUDYLEDGER_OWNER_PASSWORD)")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty disables the coach)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("coach-tone", string(prompts.ToneStandard), "Coach tone (strict, standard, encouraging)")
	f.StringSlice("priority-disciplines", nil, "Disciplines suggested first in action plans")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("STUDYLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("studyledger")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/studyledger")
	v.AddConfigPath("/etc/studyledger")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// backend is a storage driver: the ledger ports plus profiles and metadata.
type backend interface {
	handler.Store
	Close() error
}

func openBackend(ctx context.Context, v *viper.Viper) (backend, error) {
	switch driver := strings.ToLower(v.GetString("driver")); driver {
	case "", "sqlite":
		return store.New(ctx, v.GetString("db"))
	case "postgres", "postgresql":
		url := v.GetString("database-url")
		if url == "" {
			return nil, fmt.Errorf("driver postgres needs --database-url (or STUDYLEDGER_DATABASE_URL)")
		}
		return postgres.New(ctx, postgres.DefaultConfig(url))
	default:
		return nil, fmt.Errorf("unknown driver %q (want sqlite or postgres)", driver)
	}
}

// app is the wiring shared by every command.
type app struct {
	v        *viper.Viper
	backend  backend
	engine   *ledger.Engine
	profiles *ledger.Profiles
	registry *prometheus.Registry
	cache    *cache.Dashboard
}

func openApp(cmd *cobra.Command) (*app, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	if err := i18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}

	b, err := openBackend(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &app{
		v:        v,
		backend:  b,
		profiles: ledger.NewProfiles(b, nil),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []ledger.Option{
		ledger.WithRetry(v.GetInt("max-retries"), ledger.DefaultBaseDelay),
		ledger.WithMetrics(ledger.NewMetrics(a.registry)),
	}
	if addr := v.GetString("redis-addr"); addr != "" {
		c, err := cache.New(ctx, cache.Config{
			Addr:     addr,
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			TTL:      v.GetDuration("cache-ttl"),
		})
		if err != nil {
			slog.Warn("dashboard cache disabled", "error", err)
		} else {
			a.cache = c
			opts = append(opts, ledger.WithObserver(c))
		}
	}
	a.engine = ledger.NewEngine(b, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if err := a.backend.Close(); err != nil {
		slog.Warn("close storage", "error", err)
	}
}

// profileID returns the --profile value, checking that it names a profile.
func (a *app) profileID(ctx context.Context) (string, error) {
	id := a.v.GetString("profile")
	if id == "" {
		return "", fmt.Errorf("no profile selected: pass --profile or set STUDYLEDGER_PROFILE")
	}
	if _, err := a.profiles.Get(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	v := a.v
	ctx := cmd.Context()

	if err := seedOwner(ctx, a.backend, v.GetString("owner-password")); err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}

	tone := prompts.Tone(strings.ToLower(strings.TrimSpace(v.GetString("coach-tone"))))
	if !prompts.IsValidTone(string(tone)) {
		slog.Warn("invalid coach-tone, using standard", "tone", tone)
		tone = prompts.ToneStandard
	}
	cfg := handler.Config{
		Priority:  v.GetStringSlice("priority-disciplines"),
		CoachTone: tone,
	}

	var opts []handler.Option
	if a.cache != nil {
		opts = append(opts, handler.WithCache(a.cache))
	}
	coach, err := newCoach(ctx, v)
	if err != nil {
		slog.Warn("coach disabled", "error", err)
	} else if coach != nil {
		opts = append(opts, handler.WithCoach(coach))
	}

	h := handler.New(a.engine, a.profiles, a.backend, cfg, opts...)
	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.NewRouter(h, a.registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"driver", v.GetString("driver"),
			"lang", v.GetString("lang"),
			"cache", a.cache != nil,
			"coach", coach != nil,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newCoach builds the LLM client when llm-url is set. A nil client and nil
// error mean the coach is off.
func newCoach(ctx context.Context, v *viper.Viper) (*llm.Client, error) {
	url := v.GetString("llm-url")
	if url == "" {
		return nil, nil
	}
	set, err := prompts.Load(prompts.Templates)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	client := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), set)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
	return client, nil
}

// seedOwner stores the bcrypt hash of the owner password. An empty password
// keeps whatever hash is stored.
func seedOwner(ctx context.Context, b backend, password string) error {
	if password == "" {
		stored, err := b.GetMetadata(ctx, model.MetaOwnerPasswordHash)
		if err != nil {
			return err
		}
		if stored == "" {
			slog.Warn("no owner password configured, API is unauthenticated")
		}
		return nil
	}
	hash, err := handler.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash owner password: %w", err)
	}
	if err := b.SetMetadata(ctx, model.MetaOwnerPasswordHash, hash); err != nil {
		return err
	}
	slog.Info("owner password set", "username", handler.OwnerUser)
	return nil
}
