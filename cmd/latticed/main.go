// latticed is the analysis result server. It serves stored runs, atoms,
// zone axes and atom planes over HTTP, along with the tuning parameter
// endpoint and the debug chart and admin routes.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/quantem-data/lattice.report/internal/api"
	"github.com/quantem-data/lattice.report/internal/config"
	"github.com/quantem-data/lattice.report/internal/latticedb"
	"github.com/quantem-data/lattice.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbFile        = flag.String("db", "lattice.db", "Path to the SQLite database")
	configFile    = flag.String("config", "", "Path to a tuning config JSON file (defaults to the built-in defaults file)")
	migrationsDir = flag.String("migrations", "migrations", "Path to the schema migrations directory")
	dataDir       = flag.String("data-dir", "", "Directory source images may be served from (empty disables /api/image)")
)

func main() {
	flag.Parse()

	log.Printf("latticed %s", version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	var cfg *config.TuningConfig
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	} else {
		cfg = config.MustLoadDefaultConfig()
	}

	db, err := latticedb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if ok, err := db.CheckMigrations(*migrationsDir); err != nil {
		log.Printf("WARNING: migration check failed: %v", err)
	} else if !ok {
		log.Fatalf("Database schema is out of date; run 'lattice-report migrate up' first")
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		db.AttachAdminRoutes(mux)

		apiServer := api.NewServer(db, cfg, *dataDir)
		mux.Handle("/", apiServer.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("latticed listening on %s (db=%s)", *listen, *dbFile)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
