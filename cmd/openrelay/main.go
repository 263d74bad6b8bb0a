package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openrelay/openrelay/internal/cache"
	"github.com/openrelay/openrelay/internal/capability"
	"github.com/openrelay/openrelay/internal/config"
	"github.com/openrelay/openrelay/internal/dispatch"
	"github.com/openrelay/openrelay/internal/extract"
	"github.com/openrelay/openrelay/internal/failover"
	"github.com/openrelay/openrelay/internal/handlers"
	"github.com/openrelay/openrelay/internal/orchestrator"
	"github.com/openrelay/openrelay/internal/provider"
	"github.com/openrelay/openrelay/internal/scheduler"
	"github.com/openrelay/openrelay/internal/script"
	"github.com/openrelay/openrelay/internal/server"
	"github.com/openrelay/openrelay/internal/session"
	"github.com/openrelay/openrelay/internal/store"
	"github.com/openrelay/openrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "openrelay.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	log.Println(version.Get())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	doc, err := capability.LoadDocument(cfg.Capabilities.Descriptor)
	if err != nil {
		return err
	}
	registry := capability.NewRegistry(doc)
	if err := handlers.BindAll(registry, cfg.EndpointsFor); err != nil {
		return err
	}
	if cfg.Capabilities.ScriptsDir != "" {
		if err := script.BindScripts(registry, cfg.Capabilities.ScriptsDir); err != nil {
			return err
		}
	}

	providers := provider.NewRegistry()
	for id, pc := range cfg.Model.Providers {
		p, err := provider.FromConfig(provider.ProviderConfig{
			ID:      id,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			API:     pc.API,
		})
		if err != nil {
			return err
		}
		if err := providers.Register(p); err != nil {
			return err
		}
	}
	ref, err := provider.ParseModelRef(cfg.Model.Default)
	if err != nil {
		return fmt.Errorf("model.default: %w", err)
	}
	if _, err := providers.GetForModel(ref); err != nil {
		return err
	}
	fallbacks := make([]provider.ModelRef, 0, len(cfg.Model.Fallbacks))
	for _, f := range cfg.Model.Fallbacks {
		fref, err := provider.ParseModelRef(f)
		if err != nil {
			return fmt.Errorf("model.fallbacks: %w", err)
		}
		fallbacks = append(fallbacks, fref)
	}
	client := failover.NewClient(providers, ref, fallbacks)

	dispatcher := dispatch.New(registry)
	if cfg.Cache.Enabled {
		ttl, _ := time.ParseDuration(cfg.Cache.TTL)
		resultCache := cache.New(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, ttl)
		defer resultCache.Close()
		dispatcher = dispatch.NewWithCache(registry, resultCache)
		log.Printf("result cache enabled at %s", cfg.Cache.Addr)
	}

	orch := orchestrator.New(client, dispatcher, doc, orchestrator.Options{
		Model:       ref.Model(),
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		MaxTurns:    cfg.Loop.MaxTurns,
	})

	var sessionStore *store.SessionStore
	if cfg.Store.DataDir != "" || cfg.Store.Driver == "postgres" {
		db, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close()
		sessionStore = store.NewSessionStore(db)
	} else {
		log.Println("audit store disabled: no store.data_dir configured")
	}

	sched := scheduler.New(&sessionRunner{orch: orch, store: sessionStore}, cfg.Store.DataDir)
	sched.Start(cfg.Jobs)
	defer sched.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(orch, sessionStore).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sessionRunner adapts the orchestrator for the scheduler: each standing
// instruction becomes a fresh session, persisted like any other.
type sessionRunner struct {
	orch  *orchestrator.Orchestrator
	store *store.SessionStore
}

func (r *sessionRunner) RunInstruction(ctx context.Context, requesterID, instruction string) (string, error) {
	sess := session.New(requesterID, instruction)
	result, err := r.orch.Run(ctx, sess)
	if r.store != nil {
		var output string
		var trace []extract.Call
		if result != nil {
			output = result.Output
			trace = result.Trace
		}
		if saveErr := r.store.Save(sess, output, trace); saveErr != nil {
			log.Printf("saving scheduled session %s: %v", sess.ID, saveErr)
		}
	}
	if err != nil {
		return "", err
	}
	return result.Output, nil
}
