package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-errors/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/abdullathedruid/tabmux/internal/app"
	"github.com/abdullathedruid/tabmux/internal/config"
	"github.com/abdullathedruid/tabmux/internal/input"
	"github.com/abdullathedruid/tabmux/internal/logging"
)

type runOptions struct {
	fresh   bool
	noSave  bool
	logFile string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the workspace in this terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkspace(cmd, root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "start with a single shell instead of restoring the saved workspace")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not save the workspace on quit")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "log file (default <data dir>/tabmux.log)")
	return cmd
}

// loadConfig reads the config named by --config or the default location and
// returns it with the path it came from.
func loadConfig(root *rootOptions) (*config.Config, string, error) {
	path := root.configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func runWorkspace(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	ctx := cmd.Context()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("stdin is not a terminal")
	}

	cfg, configPath, err := loadConfig(root)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return errors.Errorf("create data directory: %v", err)
	}

	logFile := opts.logFile
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "tabmux.log")
	}
	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: []string{logFile},
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	km, err := config.NewKeymap(cfg.Keys)
	if err != nil {
		return err
	}
	fe := newFrontend(os.Stdout, input.NewHandler(km), log)
	a, err := app.New(cfg, app.Options{
		Callbacks:  fe.callbacks(),
		Logger:     log,
		ConfigPath: configPath,
		OnTrigger:  fe.trigger,
		OnReload:   fe.reload,
	})
	if err != nil {
		return err
	}
	defer a.Shutdown()
	fe.attach(a)

	cols, rows, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		cols, rows = 80, 24
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return errors.Errorf("enter raw mode: %v", err)
	}
	defer func() { _ = term.Restore(fd, saved) }()

	if err := fe.open(ctx, !opts.fresh, uint16(rows), uint16(cols)); err != nil {
		return err
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	reason := fe.loop(ctx, os.Stdin, winch, func() (uint16, uint16) {
		c, r, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			return 0, 0
		}
		return uint16(r), uint16(c)
	})
	log.Info("leaving workspace", zap.String("reason", reason))

	if !opts.noSave && reason == reasonQuit {
		if err := a.SaveSession(ctx); err != nil {
			log.Error("save on quit failed", zap.Error(err))
			return err
		}
	}
	return nil
}
