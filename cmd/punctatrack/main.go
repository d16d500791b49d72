// Command punctatrack post-processes tracker output for a batch of movies,
// persists the finalized tracks and optionally serves a JSON API and SQL
// browser over the results database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/punctatrack/internal/api"
	"github.com/banshee-data/punctatrack/internal/config"
	"github.com/banshee-data/punctatrack/internal/db"
	"github.com/banshee-data/punctatrack/internal/fsutil"
	"github.com/banshee-data/punctatrack/internal/monitoring"
	"github.com/banshee-data/punctatrack/internal/security"
	"github.com/banshee-data/punctatrack/internal/tracking/l1input"
	"github.com/banshee-data/punctatrack/internal/tracking/pipeline"
	"github.com/banshee-data/punctatrack/internal/tracking/report"
	"github.com/banshee-data/punctatrack/internal/tracking/storage/sqlite"
	"github.com/banshee-data/punctatrack/internal/version"
)

var (
	manifestPath = flag.String("manifest", "", "Batch manifest (JSON list of movie descriptors)")
	configPath   = flag.String("config", "", "Tuning config JSON (defaults when empty)")
	dbPath       = flag.String("db", "punctatrack.db", "Results database; empty disables persistence")
	reportDir    = flag.String("report", "", "Directory for per-movie plots and summary pages (under the working or temp directory)")
	workers      = flag.Int("workers", 0, "Movies processed concurrently (0 = tuning config)")
	serveAddr    = flag.String("serve", "", "After the batch, serve the results API and SQL browser on this address")
	showVersion  = flag.Bool("version", false, "Print version and exit")
	diagLog      = flag.Bool("diag", false, "Log per-movie stage diagnostics to stderr")
	traceLog     = flag.Bool("trace", false, "Log per-track category histories to stderr")
)

type options struct {
	manifest string
	config   string
	db       string
	report   string
	workers  int
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *manifestPath == "" && *serveAddr == "" {
		log.Fatal("-manifest or -serve is required")
	}
	if *serveAddr != "" && *dbPath == "" {
		log.Fatal("-serve needs -db")
	}

	var diag, trace io.Writer
	if *diagLog {
		diag = os.Stderr
	}
	if *traceLog {
		trace = os.Stderr
	}
	pipeline.SetLogWriters(os.Stderr, diag, trace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *manifestPath != "" {
		outcomes, err := run(ctx, options{
			manifest: *manifestPath,
			config:   *configPath,
			db:       *dbPath,
			report:   *reportDir,
			workers:  *workers,
		})
		if err != nil {
			log.Fatalf("batch failed: %v", err)
		}
		summarize(outcomes)
	}

	if *serveAddr != "" {
		if err := serve(ctx, *dbPath, *serveAddr); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}
}

// run processes every movie of the manifest and hands each result to the
// configured sinks.
func run(ctx context.Context, o options) ([]pipeline.Outcome, error) {
	fs := fsutil.OSFileSystem{}
	cfg := config.EmptyTuningConfig()
	if o.config != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(o.config); err != nil {
			return nil, err
		}
	}
	movies, err := l1input.LoadManifest(fs, o.manifest)
	if err != nil {
		return nil, err
	}

	var sinks []pipeline.Sink
	if o.db != "" {
		results, err := db.Open(o.db)
		if err != nil {
			return nil, err
		}
		defer results.Close()
		sinks = append(sinks, sqlite.NewStore(results.DB))
	}
	if o.report != "" {
		if err := security.ValidateExportPath(o.report); err != nil {
			return nil, fmt.Errorf("report directory: %w", err)
		}
		sinks = append(sinks, &report.Writer{FS: fs, Dir: o.report})
	}

	monitoring.Logf("punctatrack %s: %d movies", version.String(), len(movies))
	return pipeline.RunBatch(ctx, movies, cfg, pipeline.BatchOptions{
		Workers: o.workers,
		FS:      fs,
		Sinks:   sinks,
	})
}

func summarize(outcomes []pipeline.Outcome) {
	var done, skipped, failed int
	for _, o := range outcomes {
		switch {
		case o.Result != nil:
			done++
		case o.Skipped:
			skipped++
		case o.Err != nil:
			failed++
			log.Printf("movie %s failed: %v", o.Movie, o.Err)
		}
	}
	log.Printf("batch complete: %d processed, %d skipped, %d failed", done, skipped, failed)
}

// serve exposes the results database on addr until ctx is cancelled.
func serve(ctx context.Context, path, addr string) error {
	results, err := db.Open(path)
	if err != nil {
		return err
	}
	defer results.Close()

	mux := http.NewServeMux()
	if err := results.AttachAdminRoutes(mux); err != nil {
		return err
	}
	mux.Handle("/api/", api.NewServer(sqlite.NewStore(results.DB)).ServeMux())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/debug/tailsql/", http.StatusFound)
	})

	server := &http.Server{Addr: addr, Handler: api.LoggingMiddleware(mux)}
	errc := make(chan error, 1)
	go func() {
		log.Printf("serving results from %s on %s", path, addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
