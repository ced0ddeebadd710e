// Huddle, October 2026
// License AGPL3

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/huddle-app/huddle/internal/hub"
	"github.com/huddle-app/huddle/store"
	"github.com/huddle-app/huddle/store/mem"
	"github.com/huddle-app/huddle/store/redis"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/stuffbin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

const sampleConfig = "config.sample.toml"

var (
	logger = logrus.New()
	ko     = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

// App is the global app context that's passed around.
type App struct {
	hub    *hub.Hub
	cfg    *hub.Config
	auth   *authenticator
	fs     stuffbin.FileSystem
	logger *logrus.Logger
}

func loadConfig(fs stuffbin.FileSystem) {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("new-config", false, "Generate a sample config.toml in the current directory")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Write the embedded sample config.
	if ok, _ := f.GetBool("new-config"); ok {
		if err := newConfigFile(fs, "config.toml"); err != nil {
			logger.Fatal(err)
		}
		logger.Info("generated config.toml")
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, f := range cFiles {
		logger.Infof("reading config: %s", f)
		if err := ko.Load(file.Provider(f), toml.Parser()); err != nil {
			logger.Errorf("error reading config: %v", err)
		}
	}

	// Merge env flags into config.
	if err := ko.Load(env.Provider("HUDDLE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "HUDDLE_")), "__", ".", -1)
	}), nil); err != nil {
		logger.Errorf("error loading env config: %v", err)
	}

	// Merge command line flags into config.
	ko.Load(posflag.Provider(f, ".", ko), nil)
}

// initFS initializes the stuffbin embedded static filesystem.
func initFS() stuffbin.FileSystem {
	// Get self executable path to initialise stuffed FS.
	exe, err := os.Executable()
	if err != nil {
		logger.Fatalf("error getting executable path: %v", err)
	}

	// Read stuffed data from self.
	fs, err := stuffbin.UnStuff(exe)
	if err != nil {
		// Binary is unstuffed or is running in dev mode.
		if err == stuffbin.ErrNoID {
			fs, err = stuffbin.NewLocalFS("./", "./"+sampleConfig)
			if err != nil {
				logger.Fatalf("error falling back to local filesystem: %v", err)
			}
		} else {
			logger.Fatalf("error reading stuffed binary: %v", err)
		}
	}
	return fs
}

// newConfigFile writes the embedded sample config to path unless it exists.
func newConfigFile(fs stuffbin.FileSystem, path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return fmt.Errorf("%s exists. Remove it to generate a new one", path)
	}

	b, err := fs.Read("/" + sampleConfig)
	if err != nil {
		return fmt.Errorf("error reading sample config (is binary stuffed?): %w", err)
	}
	return os.WriteFile(path, b, 0644)
}

// initStore initializes the room directory store named in the config.
func initStore() store.Store {
	switch typ := ko.String("store.type"); typ {
	case "redis":
		var cfg redis.Config
		if err := ko.Unmarshal("store.redis", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.redis' config: %v", err)
		}
		s, err := redis.New(cfg)
		if err != nil {
			logger.Fatalf("error initializing redis store: %v", err)
		}
		return s

	case "memory", "":
		var cfg mem.Config
		if err := ko.Unmarshal("store.memory", &cfg); err != nil {
			logger.Fatalf("error unmarshalling 'store.memory' config: %v", err)
		}
		s, _ := mem.New(cfg)
		return s

	default:
		logger.Fatalf("unknown store type: %s", typ)
	}
	return nil
}

func initRouter(app *App) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Get("/ws", wrap(handleWS, app, hasAuth))
	r.Get("/api/rooms", wrap(handleGetRooms, app, 0))
	r.Get("/api/rooms/{roomID}", wrap(handleGetRoom, app, 0))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func main() {
	fs := initFS()

	// Load configuration from files.
	loadConfig(fs)

	// Initialize global app context.
	app := &App{
		logger: logger,
		fs:     fs,
	}
	if err := ko.Unmarshal("app", &app.cfg); err != nil {
		logger.Fatalf("error unmarshalling 'app' config: %v", err)
	}

	if lvl := app.cfg.LogLevel; lvl != "" {
		l, err := logrus.ParseLevel(lvl)
		if err != nil {
			logger.Fatalf("invalid app.log_level: %v", err)
		}
		logger.SetLevel(l)
	}

	minTime := time.Second
	if app.cfg.WSTimeout < minTime {
		logger.Fatal("app.websocket_timeout should be >= 1s")
	}
	if app.cfg.RoomTTL != 0 && app.cfg.RoomTTL < minTime {
		logger.Fatal("app.room_ttl should be 0 or >= 1s")
	}

	app.auth = newAuthenticator(ko.String("auth.secret"), ko.String("auth.token_param"))
	if app.auth == nil {
		logger.Warn("auth.secret is not set; participant IDs are taken from clients as-is")
	}

	app.hub = hub.NewHub(app.cfg, initStore(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan struct{})
	go func() {
		app.hub.Run(ctx)
		close(hubDone)
	}()

	// Start the app.
	srv := &http.Server{
		Addr:    app.cfg.Address,
		Handler: initRouter(app),
	}

	go func() {
		var err error
		if ko.Bool("tor.enabled") {
			err = serveOnion(srv, ko.String("tor.key_path"))
		} else {
			logger.Infof("starting server on %v", app.cfg.Address)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			logger.Fatalf("couldn't start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Errorf("error shutting down server: %v", err)
	}
	<-hubDone

	if err := app.hub.Store.Close(); err != nil {
		logger.Errorf("error closing store: %v", err)
	}
}
