// Command syncengined wires a coordinator, its sources, strategies, and the
// httpapi introspection server from environment configuration, then serves
// until interrupted. Wiring is env-var driven the way cmd/relayfile/main.go
// builds its store from RELAYFILE_* variables.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nimbusdata/syncengine/internal/badgerstate"
	"github.com/nimbusdata/syncengine/internal/cache"
	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/httpapi"
	"github.com/nimbusdata/syncengine/internal/jsonapisource"
	"github.com/nimbusdata/syncengine/internal/livefeed"
	"github.com/nimbusdata/syncengine/internal/localsource"
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/pgstate"
	"github.com/nimbusdata/syncengine/internal/source"
	"github.com/nimbusdata/syncengine/internal/strategy"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := envOrDefault("SYNCENGINE_ADDR", ":8090")
	localDir := strings.TrimSpace(os.Getenv("SYNCENGINE_LOCAL_DIR"))
	remoteHost := strings.TrimSpace(os.Getenv("SYNCENGINE_REMOTE_HOST"))
	remoteNamespace := envOrDefault("SYNCENGINE_REMOTE_NAMESPACE", "api")
	badgerDir := strings.TrimSpace(os.Getenv("SYNCENGINE_BADGER_DIR"))
	postgresDSN := strings.TrimSpace(os.Getenv("SYNCENGINE_POSTGRES_DSN"))
	livefeedURL := strings.TrimSpace(os.Getenv("SYNCENGINE_LIVEFEED_URL"))

	coord := coordinator.New()
	txLog := httpapi.NewTransformLog(intEnv("SYNCENGINE_TRANSFORM_LOG_SIZE", 10000))
	hub := livefeed.NewHub()

	memCache := cache.New()
	memSrc := source.NewMemory("cache", memCache, nil, source.Policy{})
	coord.AddNode("cache", memSrc)
	memSrc.Events().On("transform", "httpapi", txLog.NodeListener("cache"))
	memSrc.Events().On("transform", "livefeed", hub.NodeListener("cache"))

	if badgerDir != "" {
		snap, err := badgerstate.Open(badgerDir)
		if err != nil {
			log.Fatalf("syncengined: failed to open badger snapshot store: %v", err)
		}
		defer snap.Close()
		if err := snap.Restore(memCache); err != nil {
			log.Printf("syncengined: cache snapshot restore skipped: %v", err)
		}
		memSrc.Events().On("transform", "badgerstate", func(args ...any) (any, error) {
			if err := snap.Save(memCache); err != nil {
				log.Printf("syncengined: cache snapshot save failed: %v", err)
			}
			return nil, nil
		})
	}

	if localDir != "" {
		backend, err := localsource.NewBackend(localDir)
		if err != nil {
			log.Fatalf("syncengined: failed to open local storage dir: %v", err)
		}
		localSrc := localsource.New("local", backend, source.Policy{})
		coord.AddNode("local", localSrc)
		localSrc.Events().On("transform", "httpapi", txLog.NodeListener("local"))
		localSrc.Events().On("transform", "livefeed", hub.NodeListener("local"))

		watchErr := localSrc.Watch(rootCtx, log.Default(), func(t model.Transform) {
			if _, err := localSrc.Transform(rootCtx, t); err != nil {
				log.Printf("syncengined: failed to ingest external local change: %v", err)
			}
		})
		if watchErr != nil {
			log.Printf("syncengined: local watch disabled: %v", watchErr)
		}

		localToCache := strategy.NewSyncStrategy(strategy.SyncConfig{
			SourceNode: "local", TargetNode: "cache", Blocking: false, Logger: log.Default(),
		})
		if err := localToCache.Activate(coord); err != nil {
			log.Fatalf("syncengined: failed to activate local->cache sync: %v", err)
		}
		cacheToLocal := strategy.NewSyncStrategy(strategy.SyncConfig{
			SourceNode: "cache", TargetNode: "local", Blocking: false, Logger: log.Default(),
		})
		if err := cacheToLocal.Activate(coord); err != nil {
			log.Fatalf("syncengined: failed to activate cache->local sync: %v", err)
		}
	}

	var appliedBackend *pgstate.AppliedTransformsBackend
	if postgresDSN != "" {
		keyMapBackend, err := pgstate.NewKeyMapBackend(postgresDSN)
		if err != nil {
			log.Fatalf("syncengined: failed to open postgres keymap backend: %v", err)
		}
		defer keyMapBackend.Close()
		appliedBackend, err = pgstate.NewAppliedTransformsBackend(postgresDSN)
		if err != nil {
			log.Fatalf("syncengined: failed to open postgres applied backend: %v", err)
		}
		defer appliedBackend.Close()
	}

	if remoteHost != "" {
		client := jsonapisource.NewClient(jsonapisource.ClientOptions{
			Host:      remoteHost,
			Namespace: remoteNamespace,
			Headers:   remoteHeadersFromEnv(),
		})
		remoteSrc := jsonapisource.New("remote", client, source.Policy{
			MaxRequestsPerFetch:     intEnv("SYNCENGINE_MAX_REQUESTS_PER_FETCH", 0),
			MaxRequestsPerTransform: intEnv("SYNCENGINE_MAX_REQUESTS_PER_TRANSFORM", 0),
		})
		coord.AddNode("remote", remoteSrc)
		remoteSrc.Events().On("transform", "httpapi", txLog.NodeListener("remote"))
		remoteSrc.Events().On("transform", "livefeed", hub.NodeListener("remote"))

		if appliedBackend != nil {
			if ids, err := appliedBackend.Load(rootCtx, "remote"); err == nil {
				remoteSrc.SeedApplied(ids)
			}
			remoteSrc.Events().On("transform", "pgstate-applied", func(args ...any) (any, error) {
				if err := appliedBackend.Save(rootCtx, "remote", remoteSrc.AppliedIDs()); err != nil {
					log.Printf("syncengined: applied-id persist failed: %v", err)
				}
				return nil, nil
			})
		}

		cacheToRemote := strategy.NewSyncStrategy(strategy.SyncConfig{
			SourceNode: "cache", TargetNode: "remote", Blocking: false, Logger: log.Default(),
		})
		if err := cacheToRemote.Activate(coord); err != nil {
			log.Fatalf("syncengined: failed to activate cache->remote sync: %v", err)
		}
		remoteToCache := strategy.NewSyncStrategy(strategy.SyncConfig{
			SourceNode: "remote", TargetNode: "cache", Blocking: false, Logger: log.Default(),
		})
		if err := remoteToCache.Activate(coord); err != nil {
			log.Fatalf("syncengined: failed to activate remote->cache sync: %v", err)
		}

		if livefeedURL != "" {
			sub := livefeed.NewSubscriber(livefeed.SubscriberOptions{
				URL:    livefeedURL,
				Logger: log.Default(),
			}, func(ctx context.Context, env livefeed.Envelope) error {
				_, err := remoteSrc.Transform(ctx, env.Transform)
				return err
			})
			go func() {
				if err := sub.Run(rootCtx); err != nil && rootCtx.Err() == nil {
					log.Printf("syncengined: livefeed subscriber stopped: %v", err)
				}
			}()
		}
	}

	server := httpapi.NewServerWithConfig(coord, txLog, hub, httpapi.ServerConfig{
		JWTSecret:       os.Getenv("SYNCENGINE_JWT_SECRET"),
		RateLimitMax:    intEnv("SYNCENGINE_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("SYNCENGINE_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("SYNCENGINE_MAX_BODY_BYTES", 0),
	})

	httpServer := &http.Server{Addr: addr, Handler: server}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("syncengined listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("syncengined: server failed: %v", err)
	}
}

func remoteHeadersFromEnv() map[string]string {
	token := strings.TrimSpace(os.Getenv("SYNCENGINE_REMOTE_TOKEN"))
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
