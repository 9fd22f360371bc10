// awg-host runs the compiler/uploader driver for one Spectrum AWG card
// and serves its JSON-RPC API.
//
// Usage:
//
//	awg-host -serial-number 481 -setup AWG_938_CALIB [options]
//
// Options:
//
//	-serial-number int     Card serial number (required unless -simulation)
//	-sample-rate-hz float  Requested sample rate (default 625e6)
//	-card-max-mv int       Output amplitude in mV (default 282)
//	-setup string          Physical setup profile id (required)
//	-setup-file string     Extra setup profiles, YAML
//	-simulation            Compile without any hardware
//	-mock                  Drive an in-memory mock card
//	-listen string         RPC listen address (default ":3281")
//	-metrics string        Prometheus listen address ("" disables)
//	-logfile string        Log file path (default: stderr)
//	-log-level string      DEBUG, INFO, WARN or ERROR
//
// Examples:
//
//	# Real card
//	awg-host -serial-number 481 -setup AWG_938_CALIB
//
//	# Development without hardware
//	awg-host -setup AWG_938_CALIB -simulation
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"spectrum-awg-host/pkg/awg"
	"spectrum-awg-host/pkg/log"
	"spectrum-awg-host/pkg/metrics"
	"spectrum-awg-host/pkg/pipeline"
	"spectrum-awg-host/pkg/rpcserver"
	"spectrum-awg-host/pkg/setup"
	"spectrum-awg-host/pkg/spcm"
)

func main() {
	serialNumber := flag.Int("serial-number", 0, "Card serial number (required unless -simulation)")
	sampleRateHz := flag.Float64("sample-rate-hz", 625e6, "Requested sample rate in Hz")
	cardMaxMV := flag.Int("card-max-mv", awg.DefaultCardMaxMV, "Output amplitude in mV")
	setupProfile := flag.String("setup", "", "Physical setup profile id (required)")
	setupFile := flag.String("setup-file", "", "YAML file with extra setup profiles")
	simulation := flag.Bool("simulation", false, "Compile without any hardware")
	mock := flag.Bool("mock", false, "Drive an in-memory mock card")
	listenAddr := flag.String("listen", ":3281", "RPC listen address")
	metricsAddr := flag.String("metrics", "", "Prometheus listen address (empty disables)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	logLevel := flag.String("log-level", "", "DEBUG, INFO, WARN or ERROR")
	flag.Parse()

	if *setupProfile == "" {
		fmt.Fprintln(os.Stderr, "Error: -setup is required")
		flag.Usage()
		os.Exit(1)
	}
	if !*simulation && *serialNumber == 0 {
		fmt.Fprintln(os.Stderr, "Error: -serial-number is required without -simulation")
		flag.Usage()
		os.Exit(1)
	}

	if *logFile != "" {
		fileLogger, writer, err := log.NewFileLogger("awg", log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer writer.Close()
		log.SetDefaultLogger(fileLogger)
	}
	logger := log.GetLogger("host")
	if *logLevel != "" {
		logger.SetLevel(log.ParseLevel(*logLevel))
	}

	registry := setup.NewRegistry()
	if *setupFile != "" {
		if err := registry.LoadFile(*setupFile); err != nil {
			logger.Error("load setup file: %v", err)
			os.Exit(1)
		}
	}

	opener := spcm.DefaultOpener
	if *mock {
		opener = spcm.MockOpener(spcm.NewMockCard(*serialNumber))
		logger.Warn("driving an in-memory mock card")
	}
	if opener == nil && !*simulation {
		logger.Error("no vendor SDK binding in this build; run with -simulation or -mock")
		os.Exit(1)
	}

	m := metrics.NewAWGMetrics()
	driver, err := awg.New(awg.Config{
		SerialNumber: *serialNumber,
		SampleRateHz: *sampleRateHz,
		CardMaxMV:    *cardMaxMV,
		SetupProfile: *setupProfile,
		Simulation:   *simulation,
	}, registry, pipeline.NewSynth(), opener, m)
	if err != nil {
		logger.Error("driver init: %v", err)
		os.Exit(1)
	}

	logger.Info("AWG host starting: SN %d, setup %s, %.0f Hz, simulation=%v",
		*serialNumber, *setupProfile, *sampleRateHz, *simulation)

	if *metricsAddr != "" {
		ms := metrics.NewMetricsServer(m, *metricsAddr)
		ms.StartAsync()
		logger.Info("metrics on %s/metrics", *metricsAddr)
	}

	server := rpcserver.New(rpcserver.Config{
		Addr:   *listenAddr,
		Driver: driver,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received %v, shutting down", sig)
		server.Stop()
	}()

	err = server.Start()
	// Always leave the card stopped and unlocked on the way out.
	if closeErr := driver.CloseCard(); closeErr != nil {
		logger.Warn("close card on shutdown: %v", closeErr)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("rpc server: %v", err)
		os.Exit(1)
	}
	logger.Info("AWG host stopped")
}
