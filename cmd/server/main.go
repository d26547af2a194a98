// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sdisco/requestbox/internal/api/httpapi"
	"github.com/sdisco/requestbox/internal/app/admission"
	"github.com/sdisco/requestbox/internal/app/cooldown"
	"github.com/sdisco/requestbox/internal/app/duplicate"
	"github.com/sdisco/requestbox/internal/app/managedqueue"
	"github.com/sdisco/requestbox/internal/app/observer"
	"github.com/sdisco/requestbox/internal/app/projector"
	"github.com/sdisco/requestbox/internal/app/rule"
	"github.com/sdisco/requestbox/internal/infra/config"
	"github.com/sdisco/requestbox/internal/infra/logger"
	"github.com/sdisco/requestbox/internal/infra/spotify"
	"github.com/sdisco/requestbox/internal/infra/store"
)

var (
	app        = kingpin.New("requestbox-server", "requestbox guest request server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	listRulesCmd = app.Command("list-rules", "List admission rules and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listRulesCmd.FullCommand() {
		printRules()
		return
	}

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			zlog.Warn().Err(err).Msg("failed to close store")
		}
	}()

	spotifyClient, err := spotify.New(ctx, spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
	})
	if err != nil {
		return fmt.Errorf("failed to create Spotify client: %w", err)
	}

	ledger := cooldown.NewLedger(st)
	guard := duplicate.NewGuard(st)
	queue := managedqueue.NewQueue(st)
	counter := managedqueue.NewCounter(st, cfg.Admission.PositionIncrement)

	cooldownRule := rule.NewCooldownRule(ledger)
	pendingRule := rule.NewAlreadyPendingRule(queue)
	recentRule := rule.NewRecentAdditionRule(guard)

	chain := rule.NewChain()
	for _, r := range []rule.Rule{cooldownRule, pendingRule, recentRule} {
		if err := r.ValidateConfig(cfg.RuleSettings(r.Name())); err != nil {
			return fmt.Errorf("invalid config for rule %s: %w", r.Name(), err)
		}
		if cfg.IsRuleEnabled(r.Name()) {
			chain.Add(r)
		} else {
			zlog.Warn().Str("rule", r.Name()).Msg("admission rule disabled by config")
		}
	}

	controller := admission.NewController(spotifyClient, chain, guard, ledger, queue, counter, admission.Config{
		PositionGrace: time.Duration(cfg.Admission.PositionGraceMs) * time.Millisecond,
		MemoryWindow:  recentRule.MemoryWindow(),
		StoreWindow:   recentRule.StoreWindow(),
	})

	proj := projector.New(spotifyClient, queue, ledger, guard, projector.Config{
		CooldownWindow: cooldownRule.Window(),
		RecentWindow:   recentRule.StoreWindow(),
		DisplayLimit:   cfg.Queue.DisplayLimit,
	})

	obs := observer.New(spotifyClient, ledger, queue, observer.Config{
		PollInterval:  time.Duration(cfg.Observer.PollIntervalSec) * time.Second,
		Retention:     time.Duration(cfg.Queue.RetentionMin) * time.Minute,
		CleanupEveryN: cfg.Observer.CleanupEveryN,
	})

	api := httpapi.NewServer(controller, proj, obs, spotifyClient, queue, counter, cfg)

	// h2c supports HTTP/2 without TLS (e.g. behind a load balancer)
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(api.Handler(), &http2.Server{}),
	}

	obsCtx, cancelObs := context.WithCancel(ctx)
	defer cancelObs()
	go obs.Run(obsCtx)

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Server listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		zlog.Info().Msgf("Received signal %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	zlog.Info().Msg("Server stopped")
	return nil
}

// printRules prints the admission rules and their return codes.
func printRules() {
	rules := []rule.Rule{
		rule.NewCooldownRule(nil),
		rule.NewAlreadyPendingRule(nil),
		rule.NewRecentAdditionRule(nil),
	}
	fmt.Println("Admission rules:")
	for _, r := range rules {
		fmt.Printf("  %s\n    %s\n    codes: %v\n", r.Name(), r.Description(), r.ReturnCodes())
	}
}
