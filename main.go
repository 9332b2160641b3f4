package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"rspoll/pkg/bus"
	"rspoll/pkg/config"
	"rspoll/pkg/logging"
	"rspoll/pkg/pcap"
	"rspoll/pkg/serialport"
)

var Version = "dev"

const (
	captureDepth   = 1024
	drainInterval  = 50 * time.Millisecond
	statusInterval = time.Second
)

type options struct {
	configPath string
	output     string
	pipe       bool
	bigEndian  bool
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "rspoll.yaml", "configuration file (.yaml, .yml or .toml)")
	flag.StringVar(&opts.output, "o", "", "output PCAP file path (overrides capture.path)")
	flag.BoolVar(&opts.pipe, "pipe", false, "create a named pipe (FIFO) for live Wireshark streaming (Unix only)")
	flag.BoolVar(&opts.bigEndian, "bigendian", false, "write PCAP in big-endian byte order")
	flag.BoolVar(&opts.verbose, "v", false, "verbose: debug logging and live status on stderr")
	showVersion := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rspoll [flags]\n\n"+
			"Runs one RS-485 poll/select station. Lines on stdin of the form\n"+
			"\"<channel> <opcode> [payload-hex]\" are queued for sending.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("rspoll", Version)
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	profile := logging.ProfileRuntime
	if opts.verbose {
		profile = logging.ProfileVerbose
	}
	log, err := logging.New(profile)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.output != "" {
		cfg.Capture.Path = opts.output
	}
	cfg.Capture.Pipe = cfg.Capture.Pipe || opts.pipe
	cfg.Capture.BigEndian = cfg.Capture.BigEndian || opts.bigEndian
	if cfg.Capture.Pipe && cfg.Capture.Path == "" {
		return errors.New("-pipe needs -o or capture.path")
	}

	timing, err := cfg.BusTiming()
	if err != nil {
		return err
	}

	port, err := serialport.Open(cfg.SerialPort(), serialport.WithLogger(log.Named("serial")))
	if err != nil {
		return err
	}
	defer func() { _ = port.Close() }()

	busOpts := []bus.Option{bus.WithLogger(log.Named("bus")), bus.WithTiming(timing)}

	var capt *capture
	if path := cfg.Capture.Path; path != "" {
		var f *os.File
		if cfg.Capture.Pipe {
			f, err = createPipe(path, log)
			if err != nil {
				return fmt.Errorf("create pipe: %w", err)
			}
			defer removePipe(path)
		} else {
			f, err = os.Create(path)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
		}
		defer func() { _ = f.Close() }()

		order, linkType := cfg.CaptureFormat()
		pw, err := pcap.NewWriter(f, order, linkType)
		if err != nil {
			return fmt.Errorf("write pcap header: %w", err)
		}
		capt = newCapture(pw, captureDepth, log.Named("capture"))
		busOpts = append(busOpts, bus.WithFrameHook(capt.hook))
	}

	b, err := bus.New(port, cfg.BusConfig(), busOpts...)
	if err != nil {
		return err
	}

	names := make(map[string]bus.ChannelID)
	ids := make([]bus.ChannelID, 0, len(cfg.Channels))
	for i, cc := range cfg.BusChannels() {
		id, err := b.CreateChannel(cc)
		if err != nil {
			return fmt.Errorf("channel %d: %w", i, err)
		}
		if name := cfg.Channels[i].Name; name != "" {
			names[name] = id
		}
		ids = append(ids, id)
	}

	if err := b.Start(); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 3)
	pending := 2
	go func() { errChan <- port.Run(ctx, b.OnByte) }()
	go func() { errChan <- b.Run(ctx) }()
	if capt != nil {
		pending++
		go func() { errChan <- capt.run(ctx) }()
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	status := opts.verbose && term.IsTerminal(int(os.Stderr.Fd()))
	if status {
		enableTerminalStatus()
	}

	log.Info("station running",
		zap.String("version", Version),
		zap.Stringer("role", b.Role()),
		zap.Uint8("address", b.Address()),
		zap.String("device", cfg.Serial.Device),
		zap.Int("baud", cfg.Serial.Baud),
		zap.Duration("silence", timing.Silence),
		zap.Int("channels", len(ids)))

	drain := time.NewTicker(drainInterval)
	defer drain.Stop()
	var lastStatus time.Time
	var runErr error

loop:
	for {
		select {
		case <-drain.C:
			for _, id := range ids {
				for {
					p, ok := b.Receive(id)
					if !ok {
						break
					}
					log.Info("packet",
						zap.Uint8("channel", uint8(id)),
						zap.Uint8("address", p.Address),
						zap.Uint8("opcode", p.Opcode),
						zap.Binary("payload", p.Payload))
				}
			}
			if status && time.Since(lastStatus) >= statusInterval {
				fmt.Fprint(os.Stderr, statusLine(b, ids, capt))
				lastStatus = time.Now()
			}

		case line := <-lines:
			cmd, err := parseCommand(line, names)
			if err != nil {
				log.Warn("command", zap.Error(err))
				continue
			}
			if err := b.Send(cmd.channel, cmd.pkt); err != nil {
				log.Warn("send", zap.Uint8("channel", uint8(cmd.channel)), zap.Error(err))
			}

		case err := <-errChan:
			pending--
			if err != nil && !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break loop

		case <-ctx.Done():
			break loop
		}
	}

	stop()
	for ; pending > 0; pending-- {
		if err := <-errChan; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
			runErr = err
		}
	}
	if err := b.Stop(); err != nil {
		log.Warn("stop bus", zap.Error(err))
	}
	if status {
		fmt.Fprintln(os.Stderr)
	}

	d := b.Diagnostics()
	fields := []zap.Field{
		zap.Uint32("messages", d.Messages),
		zap.Uint32("errors", d.Errors),
		zap.Uint32("overruns", d.Overruns),
		zap.Uint32("dropped", d.Dropped),
		zap.Uint32("transport_errors", d.TransportErrors),
	}
	if capt != nil {
		fields = append(fields,
			zap.Uint32("captured", capt.written.Load()),
			zap.Uint32("capture_dropped", capt.dropped.Load()))
	}
	log.Info("station stopped", fields...)
	return runErr
}

func statusLine(b *bus.Bus, ids []bus.ChannelID, capt *capture) string {
	online := 0
	for _, id := range ids {
		if b.ChannelState(id) == bus.ChannelOnline {
			online++
		}
	}
	d := b.Diagnostics()
	s := fmt.Sprintf("\ronline: %d/%d  msgs: %d  errs: %d  overruns: %d",
		online, len(ids), d.Messages, d.Errors, d.Overruns)
	if capt != nil {
		s += fmt.Sprintf("  packets: %d (TX: %d  RX: %d)", capt.written.Load(), capt.tx.Load(), capt.rx.Load())
	}
	return s + "          "
}
