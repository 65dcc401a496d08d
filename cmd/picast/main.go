package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/picast/internal/announce"
	"github.com/cjeanneret/picast/internal/config"
	"github.com/cjeanneret/picast/internal/debug"
	"github.com/cjeanneret/picast/internal/hw/camera"
	"github.com/cjeanneret/picast/internal/hw/gpio"
	"github.com/cjeanneret/picast/internal/hw/led"
	"github.com/cjeanneret/picast/internal/logic/capture"
	"github.com/cjeanneret/picast/internal/receiver"
	"github.com/cjeanneret/picast/internal/sink"
	"github.com/cjeanneret/picast/internal/telemetry"
	"github.com/cjeanneret/picast/internal/web"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1 // unexpected failure
	exitUsage      = 2 // bad arguments or config
	exitConnection = 3
	exitDevice     = 4
	exitCapture    = 5
)

var defaultConfigPath = filepath.Join("configs", "default.yaml")

const usage = `usage:
  picast [-config path] [-debug n] video [flags] WIDTH HEIGHT FRAMERATE HOST PORT SECONDS
  picast [-config path] [-debug n] still [flags] WIDTH HEIGHT HOST PORT
  picast [-config path] [-debug n] serve [-listen addr]
  picast [-debug n] receive [-listen addr] [-format h264|mjpeg|jpeg]

capture flags: -encoding h264|mjpeg, -warmup 2s, -connect-timeout 5s, -acquire-timeout 10s

exit codes: 0 ok, 1 unexpected, 2 usage, 3 connection, 4 device, 5 capture
`

// errUsage marks command line mistakes.
var errUsage = errors.New("usage error")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("picast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	cfgPath := fs.String("config", defaultConfigPath, "path to config file")
	debugLevel := fs.Int("debug", -1, "debug level 0-4 (overrides config)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := loadConfig(*cfgPath, *cfgPath != defaultConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "picast: %v\n", err)
		return exitUsage
	}
	if *debugLevel >= 0 {
		cfg.Defaults.DebugLevel = *debugLevel
	}
	debug.SetOutput(stderr)
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "video", "still":
		err = runCapture(ctx, cfg, cmd, rest, stderr)
	case "serve":
		err = runServe(ctx, cfg, rest, stderr)
	case "receive":
		err = runReceive(ctx, rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		err = usageErrorf("unknown command %q", cmd)
	}

	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(stderr, "picast: %s\n", describe(err))
		if code == exitUsage && errors.Is(err, errUsage) {
			fmt.Fprint(stderr, usage)
		}
	}
	return code
}

// loadConfig reads path. A missing default config falls back to built-in
// defaults; an explicit path must exist and be valid.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// exitCode maps an error to the documented exit codes.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var serr *capture.Error
	if errors.As(err, &serr) {
		switch serr.Kind {
		case capture.ErrConnection:
			return exitConnection
		case capture.ErrDevice:
			return exitDevice
		case capture.ErrCapture:
			return exitCapture
		}
	}
	switch {
	case errors.Is(err, errUsage), errors.Is(err, capture.ErrInvalidConfig):
		return exitUsage
	case errors.Is(err, capture.ErrConnection):
		return exitConnection
	case errors.Is(err, capture.ErrDevice):
		return exitDevice
	case errors.Is(err, capture.ErrCapture):
		return exitCapture
	}
	return exitFailure
}

// describe names the failed step first so the user sees where it broke.
func describe(err error) string {
	if step := capture.StepOf(err); step != "" {
		return fmt.Sprintf("%s step failed: %v", step, err)
	}
	return err.Error()
}

// captureFlags are shared by video and still.
type captureFlags struct {
	encoding       string
	warmup         time.Duration
	connectTimeout time.Duration
	acquireTimeout time.Duration
}

func newCaptureFlagSet(name string, stderr io.Writer, cfg *config.Config) (*flag.FlagSet, *captureFlags) {
	f := &captureFlags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.StringVar(&f.encoding, "encoding", "", "h264 or mjpeg for video (default from config), jpeg for still")
	fs.DurationVar(&f.warmup, "warmup", cfg.Warmup(), "camera warm-up before capture")
	fs.DurationVar(&f.connectTimeout, "connect-timeout", cfg.ConnectTimeout(), "TCP connect timeout (0 = none)")
	fs.DurationVar(&f.acquireTimeout, "acquire-timeout", cfg.AcquireTimeout(), "camera open timeout (0 = none)")
	return fs, f
}

// parseCaptureArgs turns the positional arguments of video/still into a
// capture config, with flag and config defaults applied.
func parseCaptureArgs(mode capture.Mode, args []string, cfg *config.Config, stderr io.Writer) (capture.Config, error) {
	fs, f := newCaptureFlagSet(mode.String(), stderr, cfg)
	if err := fs.Parse(args); err != nil {
		return capture.Config{}, usageErrorf("%v", err)
	}
	pos := fs.Args()

	out := capture.Config{
		Mode:           mode,
		Warmup:         f.warmup,
		ConnectTimeout: f.connectTimeout,
		AcquireTimeout: f.acquireTimeout,
	}
	switch mode {
	case capture.Video:
		if len(pos) != 6 {
			return capture.Config{}, usageErrorf("video needs WIDTH HEIGHT FRAMERATE HOST PORT SECONDS, got %d arguments", len(pos))
		}
		var seconds int
		err := parseInts(
			[]string{"WIDTH", "HEIGHT", "FRAMERATE", "PORT", "SECONDS"},
			[]string{pos[0], pos[1], pos[2], pos[4], pos[5]},
			[]*int{&out.Width, &out.Height, &out.Framerate, &out.Port, &seconds},
		)
		if err != nil {
			return capture.Config{}, err
		}
		out.Host = pos[3]
		out.Duration = time.Duration(seconds) * time.Second
		out.Encoding = camera.Encoding(cfg.Camera.Encoding)
	default:
		if len(pos) != 4 {
			return capture.Config{}, usageErrorf("still needs WIDTH HEIGHT HOST PORT, got %d arguments", len(pos))
		}
		err := parseInts(
			[]string{"WIDTH", "HEIGHT", "PORT"},
			[]string{pos[0], pos[1], pos[3]},
			[]*int{&out.Width, &out.Height, &out.Port},
		)
		if err != nil {
			return capture.Config{}, err
		}
		out.Host = pos[2]
	}

	if f.encoding != "" {
		enc, err := camera.ParseEncoding(f.encoding)
		if err != nil {
			return capture.Config{}, usageErrorf("%v", err)
		}
		out.Encoding = enc
	}
	out = out.WithDefaults()
	if err := out.Validate(); err != nil {
		return capture.Config{}, fmt.Errorf("%w: %v", capture.ErrInvalidConfig, err)
	}
	return out, nil
}

func parseInts(names, values []string, dst []*int) error {
	for i, s := range values {
		v, err := strconv.Atoi(s)
		if err != nil {
			return usageErrorf("%s must be an integer, got %q", names[i], s)
		}
		*dst[i] = v
	}
	return nil
}

// hardware holds what a capture session needs from the config.
type hardware struct {
	opener    camera.Opener
	indicator capture.Indicator
	close     func()
}

func newHardware(cfg *config.Config) (*hardware, error) {
	opener, err := camera.NewOpener(cfg.Camera.Backend, cfg.Camera.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	hw := &hardware{opener: opener, close: func() {}}
	debug.Value("Camera backend", cfg.Camera.Backend)

	if !cfg.Indicator.Enabled {
		return hw, nil
	}
	debug.PrintStruct("Indicator config", cfg.Indicator)
	g, err := gpio.NewDriver(cfg.Indicator.Driver, cfg.Indicator.Chip)
	if err != nil {
		// The LED is cosmetic; a capture goes ahead without it.
		debug.Warn("Indicator disabled: %v", err)
		return hw, nil
	}
	l, err := led.New(g, led.Config{Pin: cfg.Indicator.Pin, ActiveLow: cfg.Indicator.ActiveLow})
	if err != nil {
		debug.Warn("Indicator disabled: %v", err)
		g.Close()
		return hw, nil
	}
	hw.indicator = l
	hw.close = func() {
		if err := g.Close(); err != nil {
			debug.Warn("Closing GPIO driver: %v", err)
		}
	}
	return hw, nil
}

func (hw *hardware) session(cfg capture.Config) *capture.Session {
	opts := []capture.Option{}
	if hw.indicator != nil {
		opts = append(opts, capture.WithIndicator(hw.indicator))
	}
	return capture.NewSession(sink.TCPDialer{Timeout: cfg.ConnectTimeout}, hw.opener, opts...)
}

func setupTelemetry(ctx context.Context, cfg *config.Config) func() {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		debug.Warn("Telemetry disabled: %v", err)
		return func() {}
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			debug.Warn("Telemetry shutdown: %v", err)
		}
	}
}

func runCapture(ctx context.Context, cfg *config.Config, cmd string, args []string, stderr io.Writer) error {
	mode, err := capture.ParseMode(cmd)
	if err != nil {
		return usageErrorf("%v", err)
	}
	ccfg, err := parseCaptureArgs(mode, args, cfg, stderr)
	if err != nil {
		return err
	}

	hw, err := newHardware(cfg)
	if err != nil {
		return err
	}
	defer hw.close()
	defer setupTelemetry(ctx, cfg)()

	res, err := hw.session(ccfg).Run(ctx, ccfg)
	if err != nil {
		return err
	}
	debug.Info("Sent %d bytes in %v", res.BytesSent, res.Finished.Sub(res.Started).Round(time.Millisecond))
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", cfg.Server.Listen, "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return usageErrorf("%v", err)
	}
	if fs.NArg() != 0 {
		return usageErrorf("serve takes no positional arguments")
	}

	hw, err := newHardware(cfg)
	if err != nil {
		return err
	}
	defer hw.close()
	defer setupTelemetry(ctx, cfg)()

	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(stderr, web.BroadcastWriter(broadcaster)))

	runOne := func(ctx context.Context, c capture.Config) (capture.Result, error) {
		c.Encoding = camera.Encoding(cfg.Camera.Encoding)
		if c.Mode == capture.Still {
			c.Encoding = camera.JPEG
		}
		c.Warmup = cfg.Warmup()
		c.ConnectTimeout = cfg.ConnectTimeout()
		c.AcquireTimeout = cfg.AcquireTimeout()
		return hw.session(c).Run(ctx, c)
	}
	runner := web.NewRunner(ctx, runOne, broadcaster)

	sched, err := web.NewScheduler(cfg.Server.Schedule, cfg.Defaults, runner)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	ann := newAnnouncer(cfg.Server.Announce, *listen)
	if ann != nil {
		ann.Busy = runner.Busy
		if err := ann.Register(ctx); err != nil {
			debug.Warn("Announce: register failed, retrying on heartbeat: %v", err)
		}
		ann.Schedule(ctx, sched, cfg.Server.Announce.Heartbeat())
	}
	sched.Start()
	defer func() {
		web.StopScheduler(sched, runner)
		if ann != nil {
			dctx, cancel := context.WithTimeout(context.Background(), announce.DefaultTimeout)
			defer cancel()
			if err := ann.Deregister(dctx); err != nil {
				debug.Warn("Announce: deregister failed: %v", err)
			}
		}
	}()

	srv, err := web.NewServer(*listen, broadcaster, runner, web.FormConfig{
		Width:     cfg.Defaults.Width,
		Height:    cfg.Defaults.Height,
		Framerate: cfg.Defaults.Framerate,
		Encoding:  cfg.Camera.Encoding,
		Backend:   cfg.Camera.Backend,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// newAnnouncer returns nil when announcing is disabled. The name defaults to
// the hostname and the advertised address to the listen address.
func newAnnouncer(a config.AnnounceConfig, listen string) *announce.Client {
	if a.URL == "" {
		return nil
	}
	name := a.Name
	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = h
		}
	}
	control := a.Advertise
	if control == "" {
		control = listen
	}
	return announce.New(a.URL, name, control)
}

func runReceive(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", ":9000", "TCP listen address")
	format := fs.String("format", "h264", "expected stream format: h264, mjpeg or jpeg")
	if err := fs.Parse(args); err != nil {
		return usageErrorf("%v", err)
	}
	enc, err := camera.ParseEncoding(*format)
	if err != nil {
		return usageErrorf("%v", err)
	}

	r := &receiver.Receiver{Addr: *listen, Format: enc}
	if err := r.Listen(); err != nil {
		return err
	}
	defer r.Close()

	st, err := r.Accept(ctx, stdout)
	if err != nil {
		return err
	}
	debug.Info("Received %d bytes, %d frames", st.Bytes, st.Frames)
	return nil
}
