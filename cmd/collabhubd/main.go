// Command collabhubd is the collaboration hub server bootstrap: it wires
// the registry, session store, broadcaster, and use-case façade into both
// streaming adapters, the expiry sweeper, and a health endpoint, following
// the teacher's single-main wiring style (server/main.go) but constructing
// every dependency as a local in main instead of a package-level var, and
// replacing its hardcoded document id and direct Redis relay with the full
// component graph spec.md describes.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"collabhub/internal/broadcast"
	"collabhub/internal/collab"
	"collabhub/internal/config"
	"collabhub/internal/health"
	"collabhub/internal/registry"
	"collabhub/internal/session"
	"collabhub/internal/store/postgres"
	"collabhub/internal/store/redisbus"
	"collabhub/internal/sweeper"
	"collabhub/internal/transport/binaryrpc"
	"collabhub/internal/transport/jsonsock"
)

func main() {
	cfg := config.FromEnv()
	log.Printf("collabhubd: starting (log_level=%s)", cfg.LogLevel)

	eventBus := broadcast.New()
	docs := registry.New()

	uc := &collab.UseCases{
		Sessions:        session.New(),
		Documents:       docs,
		Events:          eventBus,
		Clock:           collab.RealClock{},
		ExpiryThreshold: cfg.SessionExpiryThreshold,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var pgStore *postgres.Store
	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("collabhubd: postgres unavailable, continuing without durable snapshots: %v", err)
		} else {
			pgStore = store
			defer pgStore.Close()
			docs.Loader = func(documentID string) ([]byte, bool) {
				snapshot, ok, err := pgStore.LoadSnapshot(ctx, documentID)
				if err != nil {
					log.Printf("collabhubd: load snapshot for %q: %v", documentID, err)
					return nil, false
				}
				return snapshot, ok
			}
			uc.Persist = func(documentID string, update []byte, appliedAtUnix int64) {
				if err := pgStore.AppendUpdate(ctx, documentID, update, appliedAtUnix); err != nil {
					log.Printf("collabhubd: append update for %q: %v", documentID, err)
				}
			}
			log.Printf("collabhubd: durable document store connected")
		}
	}

	if cfg.RedisAddr != "" {
		bus := redisbus.New(eventBus, cfg.RedisAddr)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := bus.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Printf("collabhubd: redis unavailable, continuing with in-process broadcaster only: %v", err)
		} else {
			eventBus.OnPublish = bus.Relay
			log.Printf("collabhubd: cross-instance event bus connected to %s", cfg.RedisAddr)
			g.Go(func() error { return bus.Run(gctx) })
		}
	}

	sw := &sweeper.Sweeper{
		UseCases:              uc,
		Documents:             uc.Documents,
		Interval:              cfg.SweeperInterval,
		DocumentSweepInterval: cfg.DocumentSweepInterval,
		DocumentTTL:           cfg.DocumentTTL,
	}
	if pgStore != nil {
		sw.SnapshotInterval = cfg.SnapshotInterval
		sw.SnapshotSaver = func(documentID string, _, full []byte) {
			if err := pgStore.SaveSnapshot(ctx, documentID, full, 0); err != nil {
				log.Printf("collabhubd: save snapshot for %q: %v", documentID, err)
			}
		}
	}
	g.Go(func() error {
		sw.Run(gctx)
		return nil
	})

	if cfg.EnableBinary {
		r := mux.NewRouter()
		health.Register(r)
		(&binaryrpc.Adapter{UseCases: uc}).Register(r)
		srv := &http.Server{Addr: cfg.BinaryBindAddr, Handler: r}
		g.Go(func() error { return runServer(gctx, srv, "binary") })
	}

	if cfg.EnableJSON {
		r := mux.NewRouter()
		health.Register(r)
		(&jsonsock.Adapter{UseCases: uc}).Register(r)
		srv := &http.Server{Addr: cfg.JSONBindAddr, Handler: r}
		g.Go(func() error { return runServer(gctx, srv, "json") })
	}

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("collabhubd: %v", err)
	}
	log.Println("collabhubd: shut down cleanly")
}

func runServer(ctx context.Context, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("collabhubd: %s listener on %s", name, srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
