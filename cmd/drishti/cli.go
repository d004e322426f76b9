package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ayusman/drishti/internal/app"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/store"
	"github.com/ayusman/drishti/internal/tray"
)

const (
	// Flags.
	flagDriver      = "driver"
	flagDevice      = "device"
	flagStereo      = "stereo"
	flagDebug       = "debug"
	flagAddr        = "addr"
	flagDB          = "db"
	flagRecord      = "record"
	flagTray        = "tray"
	flagListDrivers = "list-drivers"
	flagStatic      = "static"
	flagWidth       = "width"
	flagHeight      = "height"
	flagFPS         = "fps"
	flagStreamFPS   = "stream-fps"
	flagMotion      = "motion"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUnavailable = 255
)

// registry is replaced in tests.
var registry = capture.DefaultRegistry

// errUsage marks argument errors that were already reported with usage text.
var errUsage = errors.New("invalid arguments")

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "drishti",
		Usage:           "capture frames from a camera backend",
		UsageText:       "drishti [--driver <id>] [--device <id>] [--stereo] [other options]",
		HideHelpCommand: true,
		Writer:          stdout,
		ErrWriter:       stderr,
		// Exit codes are mapped in run.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  flagDriver,
				Value: int(capture.KindUSB),
				Usage: fmt.Sprintf("camera driver id between %d and %d, see --%s", capture.MinKind, capture.MaxKind, flagListDrivers),
			},
			&cli.IntFlag{
				Name:  flagDevice,
				Value: 0,
				Usage: "device index for the selected driver",
			},
			&cli.BoolFlag{
				Name:  flagStereo,
				Usage: "capture left and right images",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagAddr,
				Value: ":8080",
				Usage: "preview server address, empty to disable",
			},
			&cli.StringFlag{
				Name:  flagDB,
				Value: defaultDBPath(),
				Usage: "session database path, empty to disable",
			},
			&cli.BoolFlag{
				Name:  flagRecord,
				Usage: "record captured frames to the session database",
			},
			&cli.BoolFlag{
				Name:  flagTray,
				Usage: "show a status tray icon",
			},
			&cli.BoolFlag{
				Name:  flagListDrivers,
				Usage: "list drivers and whether this build supports them",
			},
			&cli.StringFlag{
				Name:  flagStatic,
				Usage: "directory of static files served at /",
			},
			&cli.IntFlag{
				Name:  flagWidth,
				Usage: "requested frame width",
			},
			&cli.IntFlag{
				Name:  flagHeight,
				Usage: "requested frame height",
			},
			&cli.Float64Flag{
				Name:  flagFPS,
				Usage: "requested capture rate",
			},
			&cli.Float64Flag{
				Name:  flagStreamFPS,
				Value: 15,
				Usage: "maximum preview stream rate, 0 for unlimited",
			},
			&cli.Float64Flag{
				Name:  flagMotion,
				Usage: "percentage of changed pixels that counts as motion, 0 to disable",
			},
		},
		Action: action,
	}
}

// run executes the command and returns the process exit code.
func run(args []string) int {
	return exitCode(newApp(os.Stdout, os.Stderr).Run(args))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ae *capture.AvailabilityError
	if errors.As(err, &ae) {
		return exitUnavailable
	}

	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return exitFailure
}

func action(c *cli.Context) error {
	if c.Bool(flagListDrivers) {
		listDrivers(c.App.Writer)
		return nil
	}

	cfg, err := cameraConfig(c)
	if err != nil {
		fmt.Fprintf(c.App.ErrWriter, "error: %v\n\n", err)
		cli.ShowAppHelp(c)
		return cli.Exit(errUsage, exitFailure)
	}

	logger, err := newLogger(c.Bool(flagDebug))
	if err != nil {
		return cli.Exit(err, exitFailure)
	}
	defer logger.Sync()

	var st *store.Store
	if path := c.String(flagDB); path != "" {
		if st, err = openStore(path); err != nil {
			return cli.Exit(err, exitFailure)
		}
		defer st.Close()
	}

	a := app.New(app.Config{
		Registry: registry,
		Camera:   cfg,
		Backend: capture.BackendOptions{
			Width:  c.Int(flagWidth),
			Height: c.Int(flagHeight),
			FPS:    c.Float64(flagFPS),
		},
		Addr:            c.String(flagAddr),
		StaticDir:       c.String(flagStatic),
		MaxStreamFPS:    c.Float64(flagStreamFPS),
		Store:           st,
		Record:          c.Bool(flagRecord),
		MotionThreshold: c.Float64(flagMotion),
		Logger:          logger,
	})

	if err := a.Open(); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "error: %v\n", err)
		return cli.Exit(err, exitCode(err))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool(flagTray) {
		err = runWithTray(ctx, a, c.String(flagAddr), logger)
	} else {
		err = a.Run(ctx)
	}
	if err != nil {
		logger.Errorw("capture ended with error", "error", err)
		return cli.Exit(err, exitFailure)
	}
	return nil
}

// cameraConfig validates the driver flags before any backend is resolved.
func cameraConfig(c *cli.Context) (capture.Config, error) {
	kind, err := capture.ParseKind(c.Int(flagDriver))
	if err != nil {
		return capture.Config{}, err
	}
	return capture.NewConfig(kind, c.Int(flagDevice), c.Bool(flagStereo))
}

func listDrivers(w io.Writer) {
	for _, k := range registry.Kinds() {
		d, _ := registry.Describe(k)
		avail := "unavailable"
		if _, err := registry.Resolve(k); err == nil {
			avail = "available"
		}
		fmt.Fprintf(w, "%3d  %-15s %-12s %-12s %s\n", int(k), k, avail, d.Stereo, d.Name)
	}
}

func newLogger(debug bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return l.Sugar(), nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".drishti", "drishti.db")
}

func openStore(path string) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	st, err := store.New(path)
	return st, errors.Wrap(err, "open session database")
}

// runWithTray keeps the tray on the calling goroutine, which some platforms
// require, and runs capture beside it.
func runWithTray(ctx context.Context, a *app.App, addr string, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := tray.New(a.TrayStatus)
	t.OnStop(a.Stop)
	t.OnQuit(cancel)
	if addr != "" {
		t.OnOpen(func() {
			if err := openBrowser(previewURL(addr)); err != nil {
				logger.Warnw("opening browser failed", "error", err)
			}
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
		t.Quit()
	}()

	t.Run()
	cancel()
	return <-errCh
}

func previewURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/api/stream"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
