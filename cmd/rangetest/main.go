package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/rangetest/internal/clock"
	"github.com/m-lab/rangetest/internal/modulation"
	"github.com/m-lab/rangetest/internal/netx"
	"github.com/m-lab/rangetest/internal/output"
	"github.com/m-lab/rangetest/internal/protocol"
	"github.com/m-lab/rangetest/internal/radio"
	"github.com/m-lab/rangetest/internal/sweep"
	"github.com/m-lab/rangetest/pkg/rangetest/spec"
)

var (
	flagPort         = flag.Int("port", spec.Port, "UDP port used by every node")
	flagDataDir      = flag.String("datadir", "", "Directory to archive sweeps and peers in (disabled if empty)")
	flagOutput       = flag.String("output", "", "Path to write CSV records to")
	flagFamiliesFile = flag.String("families", "", "YAML file describing the modulation families (built-in families if empty)")
	flagSignal       = flag.String("signal", "/proc", "Mount point of the proc filesystem to read wireless RSSI/LQI from (none if empty)")
	flagRadioHelper  = flag.String("radio.helper", "", "Command setting radio parameters as '<helper> <iface> <option> <value>' (dry run if empty)")
	flagBusyRetries  = flag.Int("radio.busy-retries", spec.BusyRetries, "Retries of a radio parameter write while the device is busy")
	flagBusyInterval = flag.Duration("radio.busy-interval", spec.BusyInterval, "Delay between busy retries")
	flagPeriod       = flag.Duration("period", spec.TestPeriod, "Duration of each (configuration, payload size) phase")
	flagGrace        = flag.Duration("grace", spec.GraceInterval, "Wait between stopping the probes and changing configuration")
	flagHelloTimeout = flag.Duration("hello.timeout", spec.HelloTimeout, "Wait for a HELLO_ACK before sending the next HELLO")
	flagHelloRetries = flag.Int("hello.retries", spec.HelloRetries, "Maximum number of HELLOs")
	flagMaxCells     = flag.Int("max-cells", 0, "Maximum number of result cells per interface (unlimited if 0)")
	flagPeerTTL      = flag.Duration("peer-ttl", spec.DefaultPeerTTL, "How long a responder remembers a silent peer")
	flagContinuous   = flag.Bool("continuous", false, "Start a new sweep after each one completes")
	flagCount        = flag.Int("count", 1, "Number of probes sent by send-single-probe")
	flagInterval     = flag.Duration("interval", time.Second, "Average interval between probes sent by send-single-probe")
	flagPayload      = flag.Int("payload", spec.PayloadSizes[0], "Frame size of probes sent by send-single-probe")
	flagDebug        = flag.Bool("debug", false, "Enable debug logging")
	flagInterfaces   = flagx.StringArray{}
	flagFamilies     = flagx.StringArray{}
)

func init() {
	flag.Var(&flagInterfaces, "iface", "Radio interface to use (repeatable; order defines the logical index)")
	flag.Var(&flagFamilies, "family", "Only sweep the named family (repeatable)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] start-sweep|send-single-probe|respond\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func loadFamilies() ([]modulation.Family, error) {
	families := modulation.DefaultFamilies()
	if *flagFamiliesFile != "" {
		f, err := os.Open(*flagFamiliesFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		families, err = modulation.LoadFamilies(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", *flagFamiliesFile, err)
		}
	}
	if len(flagFamilies) > 0 {
		families = modulation.FilterFamilies(families, flagFamilies)
	}
	return families, nil
}

func newConfigurator(ifaces []string) radio.Configurator {
	if *flagRadioHelper == "" {
		log.Warn("no radio helper configured, radio parameters will not be changed")
		return radio.DryRun{}
	}
	return &radio.Command{Path: *flagRadioHelper, Interfaces: ifaces}
}

func checkPeriod(d time.Duration) error {
	if d <= 0 || d > clock.MaxSpan {
		return fmt.Errorf("-period must be in (0, %v], got %v", clock.MaxSpan, d)
	}
	return nil
}

// run executes command and returns the process exit status.
func run(ctx context.Context, command string) int {
	switch command {
	case "start-sweep", "send-single-probe", "respond":
	default:
		flag.Usage()
		return 2
	}
	if err := checkPeriod(*flagPeriod); err != nil {
		log.Error("invalid flag", "error", err)
		return 2
	}

	ifaces, err := netx.ResolveInterfaces(flagInterfaces)
	rtx.Must(err, "cannot resolve interfaces")
	names := netx.Names(ifaces)

	var signalSource netx.SignalSource = netx.Static{}
	if *flagSignal != "" {
		signalSource = &netx.Wireless{Proc: *flagSignal}
	}
	transport, err := netx.ListenUDP(ifaces, *flagPort, signalSource)
	rtx.Must(err, "cannot listen on port %d", *flagPort)
	defer transport.Close()

	counter := clock.NewSoft()
	h := protocol.NewHandler(transport, counter, protocol.Config{
		Interfaces: len(ifaces),
		Period:     *flagPeriod,
		PeerTTL:    *flagPeerTTL,
		DataDir:    *flagDataDir,
	})
	defer h.Close()
	go func() {
		err := h.ProcessPacketLoop(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("responder loop failed", "error", err)
		}
	}()

	if command == "send-single-probe" {
		if err := sendProbes(ctx, h, len(ifaces), *flagCount, *flagInterval, *flagPayload); err != nil {
			log.Error("cannot send probe", "error", err)
			return 1
		}
		return 0
	}

	families, err := loadFamilies()
	rtx.Must(err, "cannot load modulation families")
	enum := modulation.NewEnumerator(families...)
	applier := modulation.NewApplier(enum, newConfigurator(names), len(ifaces),
		modulation.RetryConfig{Attempts: *flagBusyRetries, Interval: *flagBusyInterval})

	emitters := sweep.Multi{sweep.HumanReadable{Debug: *flagDebug}}
	var csv *output.CSV
	if *flagOutput != "" {
		f, err := os.Create(*flagOutput)
		rtx.Must(err, "cannot create %s", *flagOutput)
		defer f.Close()
		csv = output.NewCSV(f, names)
		emitters = append(emitters, csv)
	}

	cfg := sweep.DefaultConfig(names)
	cfg.Period = *flagPeriod
	cfg.Grace = *flagGrace
	cfg.HelloTimeout = *flagHelloTimeout
	cfg.HelloRetries = *flagHelloRetries
	cfg.MaxCells = *flagMaxCells
	cfg.DataDir = *flagDataDir
	cfg.Continuous = *flagContinuous
	sched := sweep.New(cfg, enum, applier, h, counter, emitters)

	if command == "respond" {
		err = sched.Respond(ctx)
	} else {
		err = sched.Run(ctx)
	}
	if csv != nil && csv.Err() != nil {
		log.Error("cannot write CSV records", "path", *flagOutput, "error", csv.Err())
	}
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, protocol.ErrHandshakeTimeout):
		log.Error("no peer answered", "hellos", cfg.HelloRetries)
		return 1
	default:
		log.Error("sweep failed", "error", err)
		return 1
	}
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "could not get args from environment variables")

	// Initialize logging and metrics.
	log.SetReportCaller(true)
	log.SetReportTimestamp(true)
	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	promSrv := prometheusx.MustServeMetrics()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, flag.Arg(0))
	cancel()
	promSrv.Close()
	os.Exit(code)
}
