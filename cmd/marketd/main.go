// Command marketd runs the perpetual-futures market daemon: it loads a
// genesis file describing one or more markets, resumes or seeds each
// market's engine from leveldb, serves the command/query HTTP surface, and
// drives the crank loop. Grounded on the teacher's cmd/consensusd/main.go
// structure (flag-configured entrypoint, logging.Setup, signal-driven
// graceful shutdown) with the gRPC/OTel machinery that daemon carries
// dropped as not applicable to a single-process HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"marketd/config"
	"marketd/core/events"
	"marketd/native/market"
	"marketd/observability"
	"marketd/observability/logging"
	"marketd/rpc/modules"
	"marketd/rpc/server"
	"marketd/state"
)

const jwtSecretEnv = "MARKETD_JWT_SECRET"

func main() {
	configFile := flag.String("config", "./config.toml", "path to the marketd configuration file")
	genesisFlag := flag.String("genesis", "", "path to a genesis YAML file (overrides the config file's GenesisPath)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKETD_ENV"))
	logger := logging.Setup("marketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	genesisPath := cfg.GenesisPath
	if strings.TrimSpace(*genesisFlag) != "" {
		genesisPath = *genesisFlag
	}

	genesisFile, err := config.LoadGenesis(genesisPath)
	if err != nil {
		logger.Error("load genesis", "path", genesisPath, "error", err)
		os.Exit(1)
	}
	marketSpecs, err := genesisFile.Build()
	if err != nil {
		logger.Error("build genesis markets", "error", err)
		os.Exit(1)
	}
	if len(marketSpecs) == 0 {
		logger.Error("genesis file declares no markets", "path", genesisPath)
		os.Exit(1)
	}

	mgr, err := state.Open(cfg.DataDir)
	if err != nil {
		logger.Error("open state", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	hub := server.NewHub()
	eventMetrics := observability.Events()

	engines := make(map[string]*market.Engine, len(marketSpecs))
	archives := make(map[string]*market.Archive, len(marketSpecs))
	for _, spec := range marketSpecs {
		engine, archive, err := loadOrSeedMarket(mgr, spec, cfg.DataDir)
		if err != nil {
			logger.Error("load market", "symbol", spec.Symbol, "error", err)
			os.Exit(1)
		}
		engine.SetEmitter(events.MultiEmitter{
			archive,
			observability.EventSink{Market: spec.Symbol, Metrics: eventMetrics},
			hub.EmitterFor(spec.Symbol),
		})
		engines[spec.Symbol] = engine
		archives[spec.Symbol] = archive
		if err := mgr.RecordMarketSymbol(spec.Symbol); err != nil {
			logger.Error("record market symbol", "symbol", spec.Symbol, "error", err)
			os.Exit(1)
		}
		logger.Info("market ready", "symbol", spec.Symbol)
	}

	jwtSecret, err := resolveJWTSecret(cfg.JWTSecret)
	if err != nil {
		logger.Error("resolve jwt secret", "error", err)
		os.Exit(1)
	}
	auth := server.NewAuthenticator(server.AuthConfig{
		Enabled:    jwtSecret != "",
		HMACSecret: jwtSecret,
		ScopeClaim: "scope",
	}, nil)
	rateLimiter := server.NewRateLimiter(float64(cfg.RateLimitPerMin)/60.0, cfg.RateLimitPerMin)
	marketModule := modules.NewMarketModule(engines, archives)

	router := server.New(server.Config{
		Markets:     marketModule,
		Auth:        auth,
		RateLimiter: rateLimiter,
		Hub:         hub,
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runCrankLoop(ctx, engines, archives, mgr, cfg.CrankInterval.Duration, logger)
	}()

	go func() {
		logger.Info("marketd listening", "addr", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	wg.Wait()

	for symbol, engine := range engines {
		if err := mgr.SaveMarket(symbol, engine.Snapshot()); err != nil {
			logger.Error("save market on shutdown", "symbol", symbol, "error", err)
		}
	}
	for _, archive := range archives {
		_ = archive.Close()
	}
}

// loadOrSeedMarket resumes symbol's engine from leveldb if a snapshot
// exists, or constructs a fresh one from the genesis config and (if
// configured) seeds the initial LP deposit.
func loadOrSeedMarket(mgr *state.Manager, spec config.MarketSpec, dataDir string) (*market.Engine, *market.Archive, error) {
	snap, found, err := mgr.LoadMarket(spec.Symbol, spec.Config)
	var engine *market.Engine
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot for %s: %w", spec.Symbol, err)
	}
	if found {
		engine = market.LoadSnapshot(snap)
	} else {
		engine = market.NewEngine(spec.Config)
		if !spec.InitialLpDepositor.IsZero() && !spec.InitialLpDeposit.IsZero() {
			if _, err := engine.DepositLiquidity(spec.InitialLpDepositor, spec.InitialLpDeposit, false); err != nil {
				return nil, nil, fmt.Errorf("seed initial lp deposit for %s: %w", spec.Symbol, err)
			}
		}
	}
	archivePath := filepath.Join(dataDir, fmt.Sprintf("%s.archive.sqlite", strings.ToLower(spec.Symbol)))
	archive, err := market.OpenArchive(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive for %s: %w", spec.Symbol, err)
	}
	return engine, archive, nil
}

// runCrankLoop ticks every engine's Crank once per interval so background
// work (liquifunding, trigger firing, LP reset batches) progresses even
// with no external caller invoking POST /markets/{id}/crank. Every tick
// that did real work persists the resulting snapshot so a restart cannot
// replay already-settled work.
func runCrankLoop(ctx context.Context, engines map[string]*market.Engine, archives map[string]*market.Archive, mgr *state.Manager, interval time.Duration, logger interface {
	Info(string, ...any)
	Error(string, ...any)
}) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	metrics := observability.Marketd()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for symbol, engine := range engines {
				result, err := engine.Crank(now.Unix())
				if err != nil {
					logger.Error("crank", "symbol", symbol, "error", err)
					continue
				}
				metrics.RecordCrank(symbol, result.Step, result.Processed)
				if result.Processed > 0 {
					if err := mgr.SaveMarket(symbol, engine.Snapshot()); err != nil {
						logger.Error("persist crank result", "symbol", symbol, "error", err)
					}
				}
			}
		}
	}
}

// resolveJWTSecret checks the environment, then the config file, then (on an
// interactive terminal) prompts for a masked secret; an empty result
// disables authentication entirely, leaving every privileged route open
// (suitable only for local development).
func resolveJWTSecret(configured string) (string, error) {
	if value, ok := os.LookupEnv(jwtSecretEnv); ok && strings.TrimSpace(value) != "" {
		return value, nil
	}
	if strings.TrimSpace(configured) != "" {
		return configured, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, "Enter JWT signing secret (blank to disable auth): ")
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read jwt secret: %w", err)
	}
	return string(secretBytes), nil
}
