package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"docsync-server/auth"
	"docsync-server/collab"
	"docsync-server/directory"
	"docsync-server/handlers/api/rooms"
	"docsync-server/handlers/api/versions"
	"docsync-server/handlers/websocket"
	authmw "docsync-server/middleware"
	"docsync-server/metrics"
	"docsync-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

type (
	transportCloser interface {
		Close(fn func(error))
	}

	hubCloser interface {
		Close(ctx context.Context) error
	}

	httpShutdowner interface {
		Shutdown(ctx context.Context) error
	}

	storageCloser interface {
		Close() error
	}
)

func allowOrigin(allowed []string) func(r *http.Request, origin string) bool {
	return func(r *http.Request, origin string) bool {
		if origin == "" {
			return false
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		if len(allowed) > 0 {
			return false
		}

		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		switch parsed.Scheme {
		case "http", "https":
			switch parsed.Hostname() {
			case "localhost", "127.0.0.1", "::1":
				return true
			}
		}
		return false
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func setupRouter(backend *stores.Backend, hub *collab.Hub, authenticator *auth.Authenticator, reg *prometheus.Registry, corsOrigin string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  allowOrigin(splitOrigins(corsOrigin)),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.With(authmw.AuthJWT(authenticator)).Get("/api/rooms", rooms.HandleList(hub))

	r.Route("/api/v2/documents/{documentId}/versions", func(r chi.Router) {
		r.Use(authmw.AuthJWT(authenticator))
		r.Get("/", versions.HandleList(backend.Directory, backend.Snapshots))
		r.Get("/{version}", versions.HandleGet(backend.Directory, backend.Snapshots))
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return r
}

func waitForShutdown() {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
}

// shutdown stops intake before the final flush: once the socket.io server
// and the HTTP server are closed no update can re-arm a flush timer, so the
// hub's flush is the last write before storage closes.
func shutdown(ctx context.Context, ioo transportCloser, server httpShutdowner, hub hubCloser, backend storageCloser) {
	ioo.Close(nil)
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown")
	}
	if err := hub.Close(ctx); err != nil {
		logrus.WithError(err).Error("Some documents were not persisted")
	}
	if err := backend.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close storage")
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded")
	}

	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	flushDelay := flag.Duration("flush-delay", collab.DefaultFlushDelay, "Quiet period before a changed document is persisted")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx := context.Background()
	backend, err := stores.GetStore(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open storage")
	}

	if path := os.Getenv("DIRECTORY_FILE"); path != "" {
		seed, err := directory.Load(path)
		if err != nil {
			logrus.WithError(err).WithField("path", path).Fatal("Failed to load directory seed")
		}
		if err := seed.Import(ctx, backend.Directory); err != nil {
			logrus.WithError(err).Fatal("Failed to import directory seed")
		}
	}

	authenticator := auth.NewAuthenticator([]byte(os.Getenv("JWT_SECRET")), os.Getenv("AUTH_COOKIE_NAME"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := collab.NewHub(collab.Config{
		Authenticator: authenticator,
		Directory:     backend.Directory,
		Snapshots:     backend.Snapshots,
		FlushDelay:    *flushDelay,
		Metrics:       metrics.New(reg),
	})

	corsOrigin := os.Getenv("CORS_ORIGIN")
	r := setupRouter(backend, hub, authenticator, reg, corsOrigin)
	ioo := websocket.SetupSocketIO(hub, corsOrigin)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	server := &http.Server{Addr: *listenAddr, Handler: r}
	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown()

	logrus.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdown(shutdownCtx, ioo, server, hub, backend)
}
