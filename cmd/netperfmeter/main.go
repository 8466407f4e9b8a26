// Main package netperfmeter is the two-sided measurement process (§2, §6.1):
// a single positional endpoint argument selects active mode (a remote
// "host:port") or passive mode (a bare local port), with global flags,
// active-side protocol/output selectors, and flow specs interleaved after
// it.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/dreibh/netperfmeter/cpustatus"
	"github.com/dreibh/netperfmeter/eventsocket"
	"github.com/dreibh/netperfmeter/flow"
	"github.com/dreibh/netperfmeter/flowmanager"
	"github.com/dreibh/netperfmeter/msgreader"
	"github.com/dreibh/netperfmeter/netsock"
	"github.com/dreibh/netperfmeter/uuid"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// statsSampleInterval is how often SampleStatistics emits a vector sample
// row, matching §4.7.1's handleEvents cadence.
const statsSampleInterval = 1 * time.Second

// globalConfig holds every flag from §6.1's "either side" list, plus the
// active-side output/selector state accumulated while scanning flow specs.
type globalConfig struct {
	runtimeSeconds  int
	controlOverTCP  bool
	activeNodeName  string
	passiveNodeName string
	pathMgr         string
	scheduler       string
	sndBuf          uint32
	rcvBuf          uint32
	v6Only          bool
	quiet           bool
	verbose         bool
	verbosity       int
	localAddrs      []string
	promAddr        string
	eventSocket     string

	vectorPattern, vectorFormat string
	scalarPattern, scalarFormat string
	configPath                  string
}

func newGlobalConfig() *globalConfig {
	return &globalConfig{promAddr: ":9090"}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <remote-host:port>|<local-port> [flags] [flow-spec...]\n", os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	host, port, active, err := classifyEndpoint(os.Args[1])
	rtx.Must(err, "Could not parse endpoint %q", os.Args[1])

	cfg := newGlobalConfig()
	var protocol = msgreader.TCP
	var pendingFlows []pendingFlow
	for _, arg := range os.Args[2:] {
		consumed, err := applyGlobalFlag(cfg, arg)
		rtx.Must(err, "Invalid flag %q", arg)
		if consumed {
			continue
		}
		if !active {
			// A passive process takes no flow specs or output selectors
			// (-vector/-scalar included) -- it mirrors whatever the active
			// side requests per measurement.
			continue
		}
		switch {
		case arg == "-tcp":
			protocol = msgreader.TCP
		case arg == "-udp":
			protocol = msgreader.UDP
		case arg == "-sctp":
			protocol = msgreader.SCTP
		case arg == "-dccp":
			protocol = msgreader.DCCP
		case strings.HasPrefix(arg, "-vector="):
			cfg.vectorPattern, cfg.vectorFormat = parseOutputPath(arg[len("-vector="):], ".vec")
		case strings.HasPrefix(arg, "-scalar="):
			cfg.scalarPattern, cfg.scalarFormat = parseOutputPath(arg[len("-scalar="):], ".sca")
		case strings.HasPrefix(arg, "-config="):
			cfg.configPath = arg[len("-config="):]
		default:
			pf, err := parseFlowSpec(arg, protocol)
			rtx.Must(err, "Invalid flow spec %q", arg)
			pendingFlows = append(pendingFlows, pf)
		}
	}

	promSrv := prometheusx.MustStartPrometheus(cfg.promAddr)
	defer promSrv.Shutdown(context.Background())

	cpu, err := cpustatus.New()
	if err != nil {
		log.Printf("netperfmeter: CPU sampler unavailable, scalar CPU rows will be omitted: %v", err)
		cpu = nil
	}
	manager := flowmanager.New(cpu)

	ctx, cancel := context.WithCancel(context.Background())
	installSignalHandler(cancel)

	if cfg.eventSocket != "" {
		notifier := eventsocket.New(cfg.eventSocket)
		rtx.Must(notifier.Listen(), "Could not listen on event socket %q", cfg.eventSocket)
		go func() {
			if err := notifier.Serve(ctx); err != nil {
				log.Printf("netperfmeter: event socket server stopped: %v", err)
			}
		}()
		manager.SetNotifier(notifier)
	}

	go sampleLoop(ctx, manager)

	measurementID := uuid.New()
	if active {
		rtx.Must(runActive(ctx, manager, host, port, cfg, pendingFlows, measurementID), "Active run failed")
	} else {
		rtx.Must(runPassive(ctx, manager, port, cfg), "Passive run failed")
	}
}

// classifyEndpoint decides active/passive mode from the single positional
// argument (§6.1): a "host:port" selects active mode, a bare numeric port
// selects passive mode. Both require 1023 < port < 65535.
func classifyEndpoint(arg string) (host string, port int, active bool, err error) {
	if strings.Contains(arg, ":") {
		h, portStr, err := net.SplitHostPort(arg)
		if err != nil {
			return "", 0, false, fmt.Errorf("%q is not a valid host:port: %w", arg, err)
		}
		p, err := parsePort(portStr)
		if err != nil {
			return "", 0, false, err
		}
		return h, p, true, nil
	}
	p, err := parsePort(arg)
	if err != nil {
		return "", 0, false, fmt.Errorf("%q is neither a host:port nor a numeric port: %w", arg, err)
	}
	return "", p, false, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	if p <= 1023 || p >= 65535 {
		return 0, fmt.Errorf("port %d out of range (1023, 65535)", p)
	}
	return p, nil
}

// parseOutputPath splits a -vector=/-scalar= path into its name pattern
// and the original-suffix outfile.NamePattern appends, honoring a trailing
// ".bz2" as the compression selector (§6.1, §6.2).
func parseOutputPath(path, ext string) (pattern, format string) {
	if path == "" {
		return "", ""
	}
	if strings.HasSuffix(path, ".bz2") {
		return strings.TrimSuffix(path, ".bz2"), ext + ".bz2"
	}
	return path, ext
}

// applyGlobalFlag recognizes one of §6.1's "either side" flags. consumed is
// false for anything else (protocol selectors, active-only output
// selectors, and flow specs), which the caller handles itself.
func applyGlobalFlag(cfg *globalConfig, arg string) (consumed bool, err error) {
	switch {
	case strings.HasPrefix(arg, "-runtime="):
		n, err := strconv.Atoi(arg[len("-runtime="):])
		if err != nil {
			return true, fmt.Errorf("invalid -runtime: %w", err)
		}
		cfg.runtimeSeconds = n
	case arg == "-control-over-tcp":
		cfg.controlOverTCP = true
	case strings.HasPrefix(arg, "-activenodename="):
		cfg.activeNodeName = arg[len("-activenodename="):]
	case strings.HasPrefix(arg, "-passivenodename="):
		cfg.passiveNodeName = arg[len("-passivenodename="):]
	case strings.HasPrefix(arg, "-pathmgr="):
		cfg.pathMgr = arg[len("-pathmgr="):]
	case strings.HasPrefix(arg, "-scheduler="):
		cfg.scheduler = arg[len("-scheduler="):]
	case strings.HasPrefix(arg, "-sndbuf="):
		n, err := strconv.ParseUint(arg[len("-sndbuf="):], 10, 32)
		if err != nil {
			return true, fmt.Errorf("invalid -sndbuf: %w", err)
		}
		cfg.sndBuf = uint32(n)
	case strings.HasPrefix(arg, "-rcvbuf="):
		n, err := strconv.ParseUint(arg[len("-rcvbuf="):], 10, 32)
		if err != nil {
			return true, fmt.Errorf("invalid -rcvbuf: %w", err)
		}
		cfg.rcvBuf = uint32(n)
	case arg == "-v6only":
		cfg.v6Only = true
	case arg == "-quiet":
		cfg.quiet = true
	case arg == "-verbose":
		cfg.verbose = true
	case strings.HasPrefix(arg, "-verbosity="):
		n, err := strconv.Atoi(arg[len("-verbosity="):])
		if err != nil {
			return true, fmt.Errorf("invalid -verbosity: %w", err)
		}
		cfg.verbosity = n
	case strings.HasPrefix(arg, "-local="):
		cfg.localAddrs = strings.Split(arg[len("-local="):], ",")
	case strings.HasPrefix(arg, "-prom="):
		cfg.promAddr = arg[len("-prom="):]
	case strings.HasPrefix(arg, "-eventsocket="):
		cfg.eventSocket = arg[len("-eventsocket="):]
	default:
		return false, nil
	}
	return true, nil
}

// installSignalHandler implements §6.1's "SIGINT triggers graceful
// shutdown; a second SIGINT within ~2s forces immediate termination": the
// first interrupt cancels ctx so the active/passive run loop tears down
// through Stop/RemoveSocket; os.Exit on the second approximates SIGKILL's
// abruptness, since a process cannot deliver itself an uncatchable signal.
func installSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Print("netperfmeter: interrupted, shutting down")
		cancel()
		select {
		case <-sigCh:
			log.Print("netperfmeter: second interrupt, forcing exit")
			os.Exit(1)
		case <-time.After(2 * time.Second):
		}
	}()
}

func sampleLoop(ctx context.Context, manager *flowmanager.Manager) {
	ticker := time.NewTicker(statsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			manager.SampleStatistics(flow.Now())
		}
	}
}

func controlProtocol(cfg *globalConfig) msgreader.Protocol {
	if cfg.controlOverTCP {
		return msgreader.TCP
	}
	return msgreader.SCTP
}

func socketOptions(cfg *globalConfig) netsock.Options {
	return netsock.Options{
		RcvBufferSize: cfg.rcvBuf,
		SndBufferSize: cfg.sndBuf,
		V6Only:        cfg.v6Only,
		PathMgr:       cfg.pathMgr,
	}
}
