package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veganagain/internal/auth"
	"veganagain/internal/backend"
	"veganagain/internal/cache"
	"veganagain/internal/config"
	"veganagain/internal/images"
	"veganagain/internal/mypage"
	"veganagain/internal/restaurants"
	"veganagain/internal/search"
	"veganagain/internal/session"
	"veganagain/internal/sitemap"
	"veganagain/internal/static"
	"veganagain/internal/supabase"
	"veganagain/internal/telemetry"
	"veganagain/internal/templates"
)

type app struct {
	handler http.Handler
	store   *session.Store
	search  interface{ Shutdown() }
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := templates.Init(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	c, err := cache.MakeCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	store, err := session.NewStore(c, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	ro := &readiness{}
	ro.Add("session store", readyFunc(store.Init))

	var (
		repo     restaurants.Repository
		accounts auth.Accounts
		consent  search.ConsentRecorder
		uploader images.Uploader
	)
	if cfg.Mocks.Enable {
		slog.Warn("ENABLE_MOCKS is set; serving in-memory restaurants and accounts")
		repo = restaurants.NewMock()
		accounts = auth.NewMock()
	} else {
		client, err := backend.NewClient(cfg.Backend)
		if err != nil {
			return nil, fmt.Errorf("failed to create backend client: %w", err)
		}
		var menus restaurants.MenuSource
		if cfg.Supabase.URL != "" {
			sb, err := supabase.NewClient(supabase.Config{URL: cfg.Supabase.URL, AnonKey: cfg.Supabase.AnonKey})
			if err != nil {
				return nil, fmt.Errorf("failed to create supabase client: %w", err)
			}
			menus = sb
			ro.Add("supabase", readyFunc(func(ctx context.Context) error {
				_, err := sb.Restaurant(ctx, 0)
				return err
			}))
		} else {
			slog.Warn("SUPABASE_URL not set; restaurant pages will show no menus")
		}
		repo = restaurants.NewAPI(client, menus)
		accounts = auth.NewAPI(client)
		consent = client
		uploader = client
		ro.Add("backend", client)
	}

	imgs, err := images.New(ctx, cfg.Images, uploader)
	if err != nil {
		return nil, fmt.Errorf("failed to create image store: %w", err)
	}

	mux := http.NewServeMux()
	guard := auth.NewGuard(accounts)

	auth.NewHandler(store, accounts).Register(mux)
	searchHandler := search.NewHandler(repo, store, consent)
	searchHandler.Register(mux)
	restaurants.NewHandler(cfg, repo, imgs).Register(mux)
	mypage.NewHandler(cfg, repo, accounts, imgs, guard).Register(mux)
	sitemap.New(repo).Register(mux)
	static.Register(mux)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /ready", ro)

	return &app{
		handler: WithMiddleware(store.Middleware(guard.Restore(mux)), reg),
		store:   store,
		search:  searchHandler,
	}, nil
}

func runServer(ctx context.Context, cfg *config.Config, addr string, tel *telemetry.Telemetry) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("Serving VeganAgain", "address", addr, "mocks", cfg.Mocks.Enable)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)
		return gracefulShutdown(server, a, tel)
	}
}

func gracefulShutdown(svr *http.Server, a *app, tel *telemetry.Telemetry) error {
	// Give outstanding requests 25 seconds to complete (kubernetes has 30 second grace period)
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by svr.Shutdown.
	a.search.Shutdown()

	var errs []error
	if err := svr.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err)
		if closeErr := svr.Close(); closeErr != nil {
			slog.Error("Server close error", "error", closeErr)
		}
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session store: %w", err))
	}
	if err := tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}
