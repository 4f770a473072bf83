package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/agalera/rfxcom/internal/api"
	"github.com/agalera/rfxcom/internal/config"
	"github.com/agalera/rfxcom/internal/db"
	"github.com/agalera/rfxcom/internal/protocol"
	"github.com/agalera/rfxcom/internal/serialmux"
	"github.com/agalera/rfxcom/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON config file")
	port          = flag.String("port", config.DefaultSerialPort, "Serial port to use (ignored in dev mode)")
	dbPath        = flag.String("db", config.DefaultDBPath, "Path to the sqlite database")
	listen        = flag.String("listen", config.DefaultListen, "Listen address")
	devMode       = flag.Bool("dev", false, "Replay fixture frames instead of opening the serial port")
	fixtures      = flag.String("fixtures", config.DefaultFixturesPath, "Fixture file replayed in dev mode")
	disableSerial = flag.Bool("disable-serial", false, "Serve the API without a receiver")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

// loadConfig reads the config file, if any, and applies the command-line
// flags that were set explicitly on top of it.
func loadConfig(path string, set map[string]bool) (*config.Config, error) {
	cfg := config.Empty()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if set["port"] {
		cfg.SerialPort = port
	}
	if set["db"] {
		cfg.DBPath = dbPath
	}
	if set["listen"] {
		cfg.Listen = listen
	}
	if set["fixtures"] {
		cfg.FixturesPath = fixtures
	}
	return cfg, nil
}

// openSerial picks the frame source: nothing, replayed fixtures, or the
// real receiver.
func openSerial(cfg *config.Config, dev, disabled bool) (serialmux.SerialMuxInterface, error) {
	switch {
	case disabled:
		return serialmux.NewDisabledSerialMux(), nil
	case dev:
		frames, err := loadFixtureFrames(cfg.GetFixturesPath())
		if err != nil {
			return nil, err
		}
		log.Printf("dev mode: replaying %d frames from %s every %s", len(frames), cfg.GetFixturesPath(), cfg.GetReplayInterval())
		return serialmux.NewMockSerialMux(frames, cfg.GetReplayInterval()), nil
	default:
		opts := cfg.GetPortOptions()
		m, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open receiver on %s: %w", cfg.GetSerialPort(), err)
		}
		log.Printf("opened receiver on %s (%s)", cfg.GetSerialPort(), opts)
		return m, nil
	}
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	path := fs.String("db", config.DefaultDBPath, "Path to the sqlite database")
	fs.Parse(args)

	if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

// Main
func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	flag.Parse()
	if *showVersion {
		fmt.Println(version.String("rfxcom"))
		return
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := loadConfig(*configPath, set)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.GetListen() == "" {
		log.Fatal("Listen address is required")
	}
	display, err := cfg.GetDisplay()
	if err != nil {
		log.Fatalf("invalid display units: %v", err)
	}
	log.Printf("starting %s", version.String("rfxcom"))

	rfxSerial, err := openSerial(cfg, *devMode, *disableSerial)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer rfxSerial.Close()

	if cfg.GetInitializeReceiver() && !*disableSerial {
		if err := rfxSerial.Initialize(); err != nil {
			log.Fatalf("failed to initialize receiver: %v", err)
		}
		log.Printf("initialized receiver")
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	registry := protocol.DefaultRegistry()

	// Create a wait group for the HTTP server, serial monitor, and decode routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rfxSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// decode every frame and store the readings
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDecoder(ctx, rfxSerial, registry, database)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(rfxSerial, database, registry, display, cfg.GetTimezone()).ServeMux()
		rfxSerial.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("admin routes unavailable: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
