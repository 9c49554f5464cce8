package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("revmeter v%s\n", version)
	fmt.Println("Hall-effect revolution counter daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  revmeter [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Daemon that counts wheel revolution pulses from a hall-effect sensor")
	fmt.Println("  (Linux input device or serial-attached microcontroller), derives")
	fmt.Println("  distance and speed statistics once per processing cycle, and publishes")
	fmt.Println("  them over MQTT and a status websocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -source string")
	fmt.Println("        Edge source: input|serial (default \"input\")")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        Linux input event device for the sensor (default \"/dev/input/event0\")")
	fmt.Println()
	fmt.Println("  -serial-port string")
	fmt.Println("        Serial port for source=serial (default \"/dev/ttyUSB0\")")
	fmt.Println()
	fmt.Println("  -bank-capacity int")
	fmt.Printf("        Sample bank capacity in events per cycle (default %d)\n", defaultBankCapacity)
	fmt.Println()
	fmt.Println("  -interval-ms int")
	fmt.Printf("        Processing cycle interval in milliseconds (default %d)\n", defaultCycleIntervalMS)
	fmt.Println()
	fmt.Println("  -circumference-in float")
	fmt.Printf("        Wheel circumference in inches (default %.1f)\n", defaultCircumferenceIn)
	fmt.Println()
	fmt.Println("  -mqtt")
	fmt.Println("        Enable MQTT telemetry upload (default false)")
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        MQTT broker URL (default \"mqtt://127.0.0.1:1883\")")
	fmt.Println()
	fmt.Println("  -state-ws-addr string")
	fmt.Printf("        Status websocket listen address (default %q)\n", defaultStateWSAddr)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -timesync string")
	fmt.Println("        Clock calibration mode: local|ntp (default \"local\")")
	fmt.Println()
	fmt.Println("  -ntp-server string")
	fmt.Printf("        NTP server for -timesync ntp (default %q)\n", defaultNTPServer)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # GPIO hall sensor via gpio-keys, defaults everywhere")
	fmt.Println("  revmeter -device /dev/input/event2")
	fmt.Println()
	fmt.Println("  # Serial-attached sensor with MQTT upload")
	fmt.Println("  revmeter -source serial -serial-port /dev/ttyACM0 -mqtt -mqtt-broker mqtt://broker:1883")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to the input device (run as root or add user to 'input' group)")
	fmt.Println("  - Query live stats: echo '{\"type\":\"stats\"}' | nc -U /tmp/revmeter.sock")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	// Parse command-line flags
	var (
		configPath      = flag.String("config", "", "Path to YAML config file")
		sensorSource    = flag.String("source", "input", "Edge source: input|serial")
		sensorDevice    = flag.String("device", "/dev/input/event0", "Linux input event device for the sensor")
		serialPort      = flag.String("serial-port", "/dev/ttyUSB0", "Serial port for source=serial")
		bankCapacity    = flag.Int("bank-capacity", defaultBankCapacity, "Sample bank capacity in events per cycle")
		intervalMS      = flag.Int("interval-ms", defaultCycleIntervalMS, "Processing cycle interval in milliseconds")
		circumferenceIn = flag.Float64("circumference-in", defaultCircumferenceIn, "Wheel circumference in inches")
		mqttEnabled     = flag.Bool("mqtt", false, "Enable MQTT telemetry upload")
		mqttBroker      = flag.String("mqtt-broker", "mqtt://127.0.0.1:1883", "MQTT broker URL")
		stateWSAddr     = flag.String("state-ws-addr", defaultStateWSAddr, "Status websocket listen address")
		ipcSocketPath   = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		timesyncMode    = flag.String("timesync", "local", "Clock calibration mode: local|ntp")
		ntpServer       = flag.String("ntp-server", defaultNTPServer, "NTP server for -timesync ntp")
		logLevelStr     = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion     = flag.Bool("version", false, "Print version and exit")
		showHelp        = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Load config file (if any), then apply only the flags the user set.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			overrides.SensorSource = sensorSource
		case "device":
			overrides.SensorDevice = sensorDevice
		case "serial-port":
			overrides.SensorSerial = serialPort
		case "bank-capacity":
			overrides.BankCapacity = bankCapacity
		case "interval-ms":
			overrides.CycleInterval = intervalMS
		case "circumference-in":
			overrides.Circumference = circumferenceIn
		case "mqtt":
			overrides.MQTTEnabled = mqttEnabled
		case "mqtt-broker":
			overrides.MQTTBrokerURL = mqttBroker
		case "state-ws-addr":
			overrides.StateWSAddr = stateWSAddr
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocketPath
		case "timesync":
			overrides.TimesyncMode = timesyncMode
		case "ntp-server":
			overrides.NTPServer = ntpServer
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger := setupLogger(logLevel, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sampling core
	clock := newRelativeClock()
	set := newBankSet(cfg.Bank.Capacity)
	rec := newRecorder(set, clock, makeIndicator(cfg.Sensor.LEDPath, logger))
	engine := newStatsEngine(cfg.Wheel.CircumferenceIn)

	// Clock calibration. Failure is non-fatal: statistics use relative
	// timestamps only, and untranslatable events are skipped from telemetry.
	cal := &timeCalibration{}
	if err := calibrate(cal, cfg.Timesync, clock, logger); err != nil {
		logger.Warn("clock calibration failed, telemetry timestamps unavailable", "error", err)
	}

	// Edge source
	edges := make(chan struct{}, 64)
	readErr := make(chan error, 1)

	var serialSrc *serialSource
	var inputFile *os.File
	switch cfg.Sensor.Source {
	case "serial":
		serialSrc, err = openSerialSource(cfg.Sensor.SerialPort, cfg.Sensor.BaudRate, edges, logger)
		if err != nil {
			logger.Error("failed to open serial port", "port", cfg.Sensor.SerialPort, "error", err)
			os.Exit(1)
		}
	default:
		inputFile, err = os.Open(cfg.Sensor.Device)
		if err != nil {
			logger.Error("failed to open input device", "device", cfg.Sensor.Device, "error", err, "tip", "run as root or add user to 'input' group")
			os.Exit(1)
		}
	}

	// Telemetry reporter
	var reporter cycleReporter
	var telem *telemetryReporter
	if cfg.MQTT.Enabled {
		telem, err = newTelemetryReporter(ctx, cfg.MQTT, logger)
		if err != nil {
			logger.Error("failed to connect to MQTT broker", "broker", cfg.MQTT.BrokerURL, "error", err)
			os.Exit(1)
		}
		reporter = telem
	}

	// Status websocket
	wsServer := NewServer(logger, ServerConfig{})
	mux := http.NewServeMux()
	wsServer.Register(mux, cfg.StateWS.Path)
	httpServer := &http.Server{Addr: cfg.StateWS.Addr, Handler: mux}

	commands := make(chan cycleCommand, 8)
	loop := &cycleLoop{
		set:      set,
		engine:   engine,
		cal:      cal,
		reporter: reporter,
		ws:       wsServer,
		commands: commands,
		interval: time.Duration(cfg.Cycle.IntervalMS) * time.Millisecond,
		logger:   logger,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wsServer.Hub().Run(ctx)
		return nil
	})

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("state ws server: %w", err)
		}
		return nil
	})

	// Shutdown helper: unblock the HTTP server and the edge source readers.
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if serialSrc != nil {
			_ = serialSrc.Close()
		}
		if inputFile != nil {
			_ = inputFile.Close()
		}
		return nil
	})

	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, commands, logger)
	})

	if serialSrc != nil {
		g.Go(func() error {
			serialSrc.Run(ctx)
			return nil
		})
	} else {
		startSensorReader(inputFile, cfg.Sensor.KeyCode, edges, readErr)
	}

	g.Go(func() error {
		loop.Run(ctx)
		return nil
	})

	// Edge pump: the single producer feeding the sampling core.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-edges:
				if !rec.RecordEdge() {
					logger.Debug("event dropped, bank full")
				}
			case err := <-readErr:
				// The shutdown helper closes the device; a read error after
				// cancellation is just the reader winding down.
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("sensor read: %w", err)
			}
		}
	})

	logger.Debug("starting revmeter", "version", version)
	logger.Info("listening",
		"source", cfg.Sensor.Source,
		"device", cfg.Sensor.Device,
		"bank_capacity", cfg.Bank.Capacity,
		"interval_ms", cfg.Cycle.IntervalMS,
		"circumference_in", cfg.Wheel.CircumferenceIn,
		"state_ws", cfg.StateWS.Addr,
		"ipc", cfg.IPC.SocketPath,
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	err = g.Wait()

	if telem != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = telem.Close(closeCtx)
		cancel()
	}

	if err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
