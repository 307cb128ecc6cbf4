// Command syncwatch is a standalone local-directory watcher: it wires one
// localsource.Source to one remote jsonapisource.Source via a
// strategy.SyncStrategy pair and runs until interrupted, so edits made
// directly to files under --dir reach the remote store and remote-applied
// transforms land back on disk, without running the full introspection
// daemon. Flag/env handling mirrors cmd/relayfile-mount/main.go.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimbusdata/syncengine/internal/coordinator"
	"github.com/nimbusdata/syncengine/internal/jsonapisource"
	"github.com/nimbusdata/syncengine/internal/localsource"
	"github.com/nimbusdata/syncengine/internal/model"
	"github.com/nimbusdata/syncengine/internal/source"
	"github.com/nimbusdata/syncengine/internal/strategy"
)

func main() {
	dir := flag.String("dir", strings.TrimSpace(os.Getenv("SYNCWATCH_DIR")), "local directory to watch")
	remoteHost := flag.String("remote-host", strings.TrimSpace(os.Getenv("SYNCWATCH_REMOTE_HOST")), "remote JSON:API host")
	remoteNamespace := flag.String("remote-namespace", envOrDefault("SYNCWATCH_REMOTE_NAMESPACE", "api"), "remote JSON:API namespace")
	remoteToken := flag.String("remote-token", strings.TrimSpace(os.Getenv("SYNCWATCH_REMOTE_TOKEN")), "bearer token for the remote source")
	blocking := flag.Bool("blocking", false, "forward transforms synchronously instead of fire-and-forget")
	flag.Parse()

	if strings.TrimSpace(*dir) == "" {
		log.Fatalf("dir is required (--dir or SYNCWATCH_DIR)")
	}
	if strings.TrimSpace(*remoteHost) == "" {
		log.Fatalf("remote-host is required (--remote-host or SYNCWATCH_REMOTE_HOST)")
	}

	backend, err := localsource.NewBackend(*dir)
	if err != nil {
		log.Fatalf("syncwatch: failed to open local directory: %v", err)
	}
	localSrc := localsource.New("local", backend, source.Policy{})

	headers := map[string]string{}
	if strings.TrimSpace(*remoteToken) != "" {
		headers["Authorization"] = "Bearer " + *remoteToken
	}
	client := jsonapisource.NewClient(jsonapisource.ClientOptions{
		Host:      *remoteHost,
		Namespace: *remoteNamespace,
		Headers:   headers,
	})
	remoteSrc := jsonapisource.New("remote", client, source.Policy{})

	coord := coordinator.New()
	coord.AddNode("local", localSrc)
	coord.AddNode("remote", remoteSrc)

	toRemote := strategy.NewSyncStrategy(strategy.SyncConfig{
		SourceNode: "local", TargetNode: "remote", Blocking: *blocking, Logger: log.Default(),
	})
	if err := toRemote.Activate(coord); err != nil {
		log.Fatalf("syncwatch: failed to activate local->remote sync: %v", err)
	}
	toLocal := strategy.NewSyncStrategy(strategy.SyncConfig{
		SourceNode: "remote", TargetNode: "local", Blocking: *blocking, Logger: log.Default(),
	})
	if err := toLocal.Activate(coord); err != nil {
		log.Fatalf("syncwatch: failed to activate remote->local sync: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := localSrc.Watch(rootCtx, log.Default(), func(t model.Transform) {
		if _, err := localSrc.Transform(rootCtx, t); err != nil {
			log.Printf("syncwatch: failed to ingest external local change: %v", err)
		}
	}); err != nil {
		log.Fatalf("syncwatch: failed to start watch: %v", err)
	}

	log.Printf("syncwatch watching %s, forwarding to %s%s", *dir, *remoteHost, *remoteNamespace)
	<-rootCtx.Done()
	log.Printf("syncwatch stopping: %v", rootCtx.Err())
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
