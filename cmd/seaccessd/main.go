// Command seaccessd is the SE Access Middleware service daemon: it binds
// Terminal drivers into a Reader Registry, loads each Reader's Access Rule
// Cache from its PKCS#15/GlobalPlatform access-control files, and serves
// the Client Façade over a Unix domain socket.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/barnettlynn/seaccess/internal/config"
	"github.com/barnettlynn/seaccess/internal/ipc"
	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/client"
	"github.com/barnettlynn/seaccess/pkg/engine"
	"github.com/barnettlynn/seaccess/pkg/reader"
)

func main() {
	configPath := flag.String("config", "/etc/seaccessd/config.yaml", "path to seaccessd config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Runtime.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Runtime.LogFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	registry, err := bindRegistry(cfg)
	if err != nil {
		log.Fatalf("bind reader registry: %v", err)
	}
	slog.Info("reader registry bound", "readers", registry.ListReaders())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadAccessCaches(ctx, registry)
	for _, r := range registry.Readers() {
		go watchSEState(ctx, r)
	}

	facade := client.New(registry, *cfg.ACE.FailClosed)
	server := ipc.NewServer(facade)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig.String())
		facade.Shutdown(ctx)
		cancel()
	}()

	slog.Info("listening", "socket", cfg.Runtime.SocketPath)
	if err := server.ListenAndServe(ctx, cfg.Runtime.SocketPath); err != nil {
		log.Fatalf("ipc server: %v", err)
	}
}

// bindRegistry discovers and binds Terminal drivers per cfg.Readers.Drivers.
// Only the "pcsc" driver kind has a concrete discovery path today; "sim",
// "ese", and "sd" arrive over PC/SC as well and are distinguished by
// DiscoverPCSC's reader-name classification, so every configured driver
// name maps onto the same underlying discovery call; reader.FilterDrivers
// then narrows the discovered candidates to the names config.Validate
// already checked against its whitelist.
func bindRegistry(cfg *config.Config) (*reader.Registry, error) {
	candidates, err := reader.DiscoverPCSC()
	if err != nil {
		return nil, err
	}
	return reader.NewRegistry(reader.FilterDrivers(candidates, cfg.Readers.Drivers))
}

// reloadAccessCaches runs the ARF/PKCS#15 Loader once per bound Reader at
// startup.
func reloadAccessCaches(ctx context.Context, registry *reader.Registry) {
	for _, r := range registry.Readers() {
		reloadOneReader(ctx, r)
	}
}

// reloadOneReader reloads a single Reader's Access Rule Cache. A Reader
// whose SE has no usable PKCS#15 root is logged and left with an
// uninitialized cache: the Facade's fail-open/fail-closed setting then
// governs every open on it, per §4.8 step 4.
func reloadOneReader(ctx context.Context, r *reader.Reader) {
	if !r.IsCardPresent() {
		slog.Info("skipping ACE reload: no card present", "reader", r.Name)
		return
	}
	session, err := engine.NewSession(ctx, r)
	if err != nil {
		slog.Warn("ACE reload: cannot open session", "reader", r.Name, "err", err)
		return
	}
	access := engine.NewBasicChannelCardAccess(ctx, session)
	loader := ace.NewLoader(access)
	if err := loader.Reload(r.Cache()); err != nil {
		slog.Warn("ACE reload failed, reader stays fail-closed/fail-open per config", "reader", r.Name, "err", err)
		return
	}
	slog.Info("ACE reload complete", "reader", r.Name, "refresh_tag", r.Cache().RefreshTag())
}

// watchSEState listens for SE state-change notifications on r's Terminal
// (card insert/remove/reset) for the life of ctx and invalidates r's
// Access Rule Cache on each one, immediately reloading it so the next
// channel open sees current rules rather than a stale or torn-down SE's.
// This is the core's mandatory cache-invalidation wiring: "the core
// listens [for SE state changes] and invalidates caches" / "seStateChanged
// triggers reset". A Reader whose driver never initialized (Terminal ==
// nil) has nothing to watch.
func watchSEState(ctx context.Context, r *reader.Reader) {
	if r.Terminal == nil {
		return
	}
	changed := r.Terminal.SEStateChanged()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			slog.Info("SE state changed, invalidating cache", "reader", r.Name)
			r.Cache().Reset()
			reloadOneReader(ctx, r)
		}
	}
}
