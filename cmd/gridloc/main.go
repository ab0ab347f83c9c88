package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/gridloc/internal/api"
	"github.com/banshee-data/gridloc/internal/config"
	"github.com/banshee-data/gridloc/internal/gridmap"
	"github.com/banshee-data/gridloc/internal/localizer"
	"github.com/banshee-data/gridloc/internal/monitor"
	"github.com/banshee-data/gridloc/internal/posestream"
	"github.com/banshee-data/gridloc/internal/serialmux"
	"github.com/banshee-data/gridloc/internal/store"
	"github.com/banshee-data/gridloc/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Localisation config JSON")
	mapPath    = flag.String("map", "config/maps/demo.yaml", "Map metadata YAML (map_server format)")
	devMode    = flag.Bool("dev", false, "Drive the localiser from a simulated robot base instead of the serial port")
	port       = flag.String("port", "", "Serial port of the robot base; empty disables serial input")
	baudRate   = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen = flag.String("grpc-listen", "localhost:50061", "Pose stream gRPC listen address; empty disables it")
	maxClients = flag.Int("grpc-max-clients", 8, "Maximum concurrent pose stream clients")
	dbPath     = flag.String("db", "gridloc.db", "SQLite pose log; empty disables it")
	devPeriod  = flag.Duration("dev-period", 50*time.Millisecond, "Simulated base emit period in -dev mode")
)

// openInput picks the line source feeding the supervisor.
func openInput(dev bool, portPath string, baud int, grid *gridmap.Grid, seed uint64, period time.Duration) (serialmux.SerialMuxInterface, error) {
	switch {
	case dev:
		base, err := localizer.NewSyntheticBase(grid, seed)
		if err != nil {
			return nil, fmt.Errorf("failed to start simulated base: %w", err)
		}
		return serialmux.NewMockSerialMux(base.Lines, period), nil
	case portPath == "":
		return serialmux.NewDisabledSerialMux(), nil
	default:
		return serialmux.NewRealSerialMux(portPath, serialmux.PortOptions{BaudRate: baud})
	}
}

// startRun opens the pose log and registers this session. A nil store means
// logging is off.
func startRun(path, mapFile string, cfg localizer.Config) (*store.Store, *store.Recorder, error) {
	if path == "" {
		return nil, nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}
	run := &store.Run{
		MapPath:   mapFile,
		Particles: cfg.Filter.Particles,
		EvalBeams: cfg.Filter.EvalBeams,
		Seed:      cfg.Seed,
	}
	if err := st.StartRun(run); err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, store.NewRecorder(st, run.RunID, 0), nil
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("gridloc %s", version.String())

	settings, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	maps := gridmap.FileMapSource{Paths: []string{*mapPath}}
	grid, err := maps.FetchMap(ctx, 0)
	if err != nil {
		log.Fatalf("failed to load map: %v", err)
	}
	log.Printf("loaded %dx%d map at %.3f m/cell from %s", grid.Width, grid.Height, grid.Resolution, *mapPath)

	locCfg := localizer.ConfigFromSettings(settings, grid)

	db, recorder, err := startRun(*dbPath, *mapPath, locCfg)
	if err != nil {
		log.Fatalf("failed to open pose log: %v", err)
	}
	if db != nil {
		defer func() {
			if err := db.EndRun(recorder.RunID(), time.Now()); err != nil {
				log.Printf("failed to close run: %v", err)
			}
			db.Close()
		}()
		log.Printf("recording run %s to %s", recorder.RunID(), *dbPath)
	}

	snap := monitor.NewSnapshotter()
	publishers := localizer.MultiPublisher{snap}

	var poseServer *posestream.Server
	if *grpcListen != "" {
		poseServer = posestream.NewServer(posestream.Config{ListenAddr: *grpcListen, MaxClients: *maxClients})
		if err := poseServer.Start(); err != nil {
			log.Fatalf("failed to start pose stream: %v", err)
		}
		defer poseServer.Stop()
		publishers = append(publishers, poseServer)
	}
	if recorder != nil {
		publishers = append(publishers, recorder)
	}

	sup, err := localizer.NewSupervisor(locCfg, grid, nil, publishers)
	if err != nil {
		log.Fatalf("failed to create localiser: %v", err)
	}

	input, err := openInput(*devMode, *port, *baudRate, grid, locCfg.Seed, *devPeriod)
	if err != nil {
		log.Fatalf("failed to open input: %v", err)
	}
	defer input.Close()

	if err := input.Initialise(); err != nil {
		log.Fatalf("failed to initialise robot base: %v", err)
	}

	var wg sync.WaitGroup

	// serial IO
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := input.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// decode lines into the supervisor's buffers
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, lines := input.Subscribe()
		defer input.Unsubscribe(id)
		if err := sup.Ingest(ctx, lines); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ingest stopped: %v", err)
		}
		log.Print("ingest routine terminated")
	}()

	// control loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sup.Run(ctx)
	}()

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = recorder.Run(ctx)
			written, dropped := recorder.Stats()
			log.Printf("pose log stopped: %d estimates written, %d dropped", written, dropped)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(input, sup, settings, db).ServeMux()
		input.AttachAdminRoutes(mux)
		if poseServer != nil {
			poseServer.AttachAdminRoutes(mux)
		}
		monitor.New(sup, snap).AttachAdminRoutes(mux)
		if db != nil {
			if err := db.AttachAdminRoutes(mux); err != nil {
				log.Printf("pose log admin routes unavailable: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
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
