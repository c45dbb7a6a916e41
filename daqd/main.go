package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/next-exp/sipm_daq/pkg/caen"
	"github.com/next-exp/sipm_daq/pkg/config"
	"github.com/next-exp/sipm_daq/pkg/daq"
	"github.com/next-exp/sipm_daq/pkg/datafile"
	"github.com/next-exp/sipm_daq/pkg/indicators"
	"github.com/next-exp/sipm_daq/pkg/runlog"
)

func main() {
	configFilename := flag.String("config", "", "Configuration file path")
	simulate := flag.Bool("simulate", false, "Drive the built-in digitizer simulator")
	flag.Parse()

	configuration := config.DefaultConfiguration()
	var err error
	if *configFilename != "" {
		configuration, err = config.LoadConfiguration(*configFilename)
	}
	logger := newLogger(configuration.Logging.Level, os.Stdout, os.Stderr)
	if err != nil {
		message := fmt.Errorf("Error reading configuration file: %w", err)
		logger.Error(message.Error())
		os.Exit(1)
	}
	if *simulate {
		configuration.Simulate = true
	}
	if *configFilename != "" {
		logger.Info(fmt.Sprintf("Reading configuration file: %s", *configFilename), "main")
	}
	config.PrintConfiguration(configuration, logger)

	if err := run(configuration, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func newDriver(configuration config.Configuration) (caen.Driver, error) {
	if !configuration.Simulate {
		return nil, errors.New("no digitizer driver available in this build, run with -simulate")
	}
	return caen.NewSimulator(configuration.Digitizer.Model, time.Now().UnixNano()), nil
}

func newSink(configuration config.Configuration) daq.Sink {
	if configuration.Sink.Format == "hdf5" {
		return datafile.NewHDF5Sink(configuration.Sink.Compression)
	}
	return datafile.NewSBCSink()
}

func run(configuration config.Configuration, logger Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv, err := newDriver(configuration)
	if err != nil {
		return err
	}

	var recorder daq.RunRecorder
	if configuration.Database.Enabled {
		db := configuration.Database
		dbConn, err := runlog.ConnectToDatabase(db.User, db.Passwd, db.Host, db.DBName)
		if err != nil {
			return fmt.Errorf("Error connection to database: %w", err)
		}
		defer dbConn.Close()
		registry := runlog.NewRegistry(dbConn)
		if err := registry.EnsureSchema(ctx); err != nil {
			return err
		}
		rec := runlog.NewRecorder(ctx, registry, logger, configuration.Queues.Registry)
		defer rec.Close()
		recorder = rec
	}

	updates := indicators.NewQueue(configuration.Queues.Indicators)
	board := indicators.NewBoard()
	go board.Run(ctx, updates)

	commands := daq.NewCommandQueue(configuration.Queues.Commands)
	d := configuration.Digitizer
	ctrl := daq.NewController(daq.Options{
		Driver:     drv,
		Commands:   commands,
		Indicators: updates,
		Sink:       newSink(configuration),
		Recorder:   recorder,
		Logger:     logger,
		Rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		Initial: daq.State{
			RunDir:         configuration.Run.Dir,
			RunName:        configuration.Run.Name,
			SiPMParameters: configuration.Run.SiPMParameters,
			Model:          d.Model,
			GlobalConfig:   d.Global,
			ChannelConfigs: d.Channels,
			PortNum:        d.Port,
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run()
	}()

	srv := &http.Server{
		Addr: configuration.HTTP.Addr,
		Handler: newRouter(&controlServer{
			commands: commands,
			board:    board,
			stats:    updates,
			logger:   logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(fmt.Sprintf("Control surface listening on %s", srv.Addr), "main")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(fmt.Sprintf("http server: %v", err))
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		logger.Info(fmt.Sprintf("Received %v, closing", sig), "main")
		requestClose(commands, done)
	case <-done:
	}
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(fmt.Sprintf("http shutdown: %v", err))
	}
	sent, dropped := updates.Stats()
	logger.Info(fmt.Sprintf("Indicators sent %d, dropped %d", sent, dropped), "main")
	return nil
}

// requestClose keeps offering Close until the queue takes it or the loop
// has already ended.
func requestClose(commands *daq.CommandQueue, done <-chan struct{}) {
	for {
		if err := commands.Enqueue(daq.Close{}); err == nil {
			return
		}
		select {
		case <-done:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
