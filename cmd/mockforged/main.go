// Package main provides the mockforged server entry point: it builds the
// registry, template engine, virtual clock/scheduler, response strategy,
// analytics aggregator, and control plane and serves them over HTTP. The
// chain executor and behavior engine are not constructed here, and the
// fault injector is created but not applied to responses.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mockforge/core/analytics"
	"github.com/mockforge/core/auth"
	domainanalytics "github.com/mockforge/core/domain/analytics"
	"github.com/mockforge/core/config"
	"github.com/mockforge/core/control"
	"github.com/mockforge/core/domain/request"
	"github.com/mockforge/core/fault"
	"github.com/mockforge/core/logging"
	"github.com/mockforge/core/metrics"
	"github.com/mockforge/core/registry"
	"github.com/mockforge/core/response"
	"github.com/mockforge/core/template"
	"github.com/mockforge/core/vclock"
)

func main() {
	boot, err := config.LoadBootstrap()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New("mockforged", boot.LogLevel, boot.LogFormat)
	env := config.NewEnvSource(os.LookupEnv)

	m := metrics.New("mockforge")
	reg := registry.New()
	clock := vclock.New()
	scheduler := vclock.NewScheduler(clock)
	tplEngine := template.New(boot.Seed, boot.StrictTemplates, clock)
	strategy := response.New(tplEngine, boot.StrictValidation)
	injector := fault.New(clock, boot.FaultSeed)
	_ = injector

	sink := buildAnalyticsSink(boot, logger)
	aggregator := analytics.New(analytics.DefaultConfig(), sink, m)
	defer aggregator.Stop()

	plane := control.New(control.Snapshot{
		StrictValidation: boot.StrictValidation,
		ProxyEnabled:     boot.ProxyEnabled,
		ProxyBaseURL:     boot.ProxyBaseURL,
		DefaultSeed:      boot.Seed,
	}, logger)
	if boot.AdminPasswordHash != "" {
		plane.SetAdminCredentials(boot.AdminUser, boot.AdminPasswordHash)
	}

	jwtSecret := []byte(config.String(env, "MOCKFORGE_JWT_SECRET", "mockforge-dev-secret"))

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.PathPrefix("/_control/").Handler(http.StripPrefix("/_control", plane.Router()))
	router.PathPrefix("/").HandlerFunc(newMockHandler(reg, strategy, scheduler, aggregator, logger, clock, jwtSecret))

	port := boot.Port
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go runTicker(clock, scheduler, logger)

	go func() {
		logger.WithContext(context.Background()).Infof("mockforged listening on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.WithContext(context.Background()).Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithContext(context.Background()).Warnf("shutdown error: %v", err)
	}
}

// runTicker drives the scheduler's Tick loop once per second, matching
// a SchedulerInterval-style polling cadence.
func runTicker(clock *vclock.Clock, scheduler *vclock.Scheduler, logger *logging.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		due := scheduler.Tick()
		for range due {
			logger.WithContext(context.Background()).Debug("scheduled response fired")
		}
	}
}

// buildAnalyticsSink selects the analytics.Sink the pipeline flushes
// batches to, per MOCKFORGE_ANALYTICS_SINK ("none", the default; "redis";
// or "postgres"). Connection failures fall back to NoopSink rather than
// blocking startup on an optional dependency.
func buildAnalyticsSink(boot config.Bootstrap, logger *logging.Logger) analytics.Sink {
	switch boot.AnalyticsSink {
	case "redis":
		opts, err := redis.ParseURL(boot.AnalyticsDSN)
		if err != nil {
			logger.WithContext(context.Background()).Warnf("analytics: parse redis dsn: %v", err)
			return analytics.NoopSink{}
		}
		return analytics.NewRedisSink(redis.NewClient(opts), "")
	case "postgres":
		sink, err := analytics.NewSQLSink(context.Background(), boot.AnalyticsDSN)
		if err != nil {
			logger.WithContext(context.Background()).Warnf("analytics: connect postgres: %v", err)
			return analytics.NoopSink{}
		}
		return sink
	default:
		return analytics.NoopSink{}
	}
}

func newMockHandler(reg *registry.Registry, strategy *response.Strategy, scheduler *vclock.Scheduler, aggregator *analytics.Aggregator, logger *logging.Logger, clock *vclock.Clock, jwtSecret []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		peer := request.Peer{Address: r.RemoteAddr}
		if principal, err := auth.PrincipalFromHeader(r.Header.Get("Authorization"), jwtSecret); err == nil {
			peer.Principal = principal
		}
		req := request.New(request.Params{
			Protocol: request.ProtocolHTTP,
			Method:   r.Method,
			Path:     r.URL.Path,
			Peer:     peer,
			Clock:    clock.Now,
		})

		fx, ok := reg.ResolveFixture(req.Method(), req.Path())
		var candidate *response.Candidate
		var err error
		if ok {
			candidate, err = strategy.Compose(r.Context(), strategy.FromFixture(fx, template.Context{}))
		} else {
			candidate, err = strategy.Compose(r.Context())
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		status := candidate.Status
		if status == 0 {
			status = http.StatusOK
		}
		for k, v := range candidate.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		if candidate.Body != nil {
			writeBody(w, candidate.Body)
		}

		entry := logger.WithContext(context.Background())
		if peer.Principal != "" {
			entry = entry.WithField("principal", peer.Principal)
		}
		entry.Debugf("%s %s -> %d", req.Method(), req.Path(), status)

		aggregator.Record(domainanalytics.Event{
			Protocol:   "HTTP",
			Method:     req.Method(),
			Path:       req.Path(),
			Status:     status,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
			OccurredAt: clock.Now(),
		})
	}
}

func writeBody(w http.ResponseWriter, body any) {
	switch b := body.(type) {
	case string:
		_, _ = w.Write([]byte(b))
	case []byte:
		_, _ = w.Write(b)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b)
	}
}
