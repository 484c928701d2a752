package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/master-of-zen/alpine-autoinstall/internal/config"
	"github.com/master-of-zen/alpine-autoinstall/internal/devpath"
	"github.com/master-of-zen/alpine-autoinstall/internal/efi"
	"github.com/master-of-zen/alpine-autoinstall/internal/installer"
	"github.com/master-of-zen/alpine-autoinstall/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

// usageError marks problems with the command line itself.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return exitOK
	}
	var ue usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "Error: %v\n\n%s", err, cmd.UsageString())
		return exitUsage
	}
	color.New(color.FgRed, color.Bold).Fprintf(stderr, "[FATAL] %v\n", err)
	return exitFatal
}

func diskArg(cmd *cobra.Command, args []string) error {
	if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
		return usageError{err}
	}
	return nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "alpine-autoinstall [flags] DISK",
		Short: "Install Alpine Linux on an encrypted ZFS root",
		Long: `alpine-autoinstall wipes DISK, creates an EFI System Partition and an
encrypted ZFS pool, installs Alpine Linux into a boot environment and
registers ZFSBootMenu with the firmware.

Settings are read from defaults, --config, AUTOINSTALL_* environment
variables and flags, later sources winning.`,
		Args:          diskArg,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			return install(cmd.Context(), cfg, stdout, stderr)
		},
	}
	config.AddFlags(root.PersistentFlags())
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	root.AddCommand(newPlanCmd(stdout), newResolveCmd(stdout), newVersionCmd(stdout))
	return root
}

func loadConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	var disk string
	if len(args) > 0 {
		disk = args[0]
	}
	cfg, err := config.Load(cmd.Flags(), disk)
	if err != nil {
		return cfg, usageError{err}
	}
	if cfg.Disk == "" {
		return cfg, usageError{config.ErrNoDisk}
	}
	return cfg, nil
}

func install(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	log, sink, err := logging.New(logging.Options{
		Level:   logging.ParseLevel(cfg.LogLevel),
		File:    cfg.LogFile,
		Console: stderr,
	})
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.LogFile).Msg("install log unavailable, logging to the console only")
	}
	defer sink.Close()

	inst := installer.New(cfg, log)
	inst.Out = stderr
	inst.Fetcher = efi.NewDownloader(log, stderr)
	inst.LogPath = sink.Path()
	inst.Version = version
	if err := inst.Run(ctx); err != nil {
		return err
	}
	sink.Sync()

	fmt.Fprintln(stdout)
	color.New(color.FgGreen, color.Bold).Fprintln(stdout, "Installation complete.")
	fmt.Fprintf(stdout, "Remove the installation media and reboot. ZFSBootMenu will ask for the %s passphrase.\n", cfg.PoolName)
	return nil
}

func newPlanCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [flags] DISK",
		Short: "Print every action an install would take, without touching the disk",
		Args:  diskArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			inst := &installer.Installer{Config: cfg, Log: zerolog.Nop()}
			p, err := inst.Plan()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(stdout)
			enc.SetIndent(2)
			if err := enc.Encode(p); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newResolveCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [flags] DISK",
		Short: "Show the device and partition paths an install would use",
		Args:  diskArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			d := devpath.Resolve(cfg.Disk, cfg.UseByID)
			fmt.Fprintf(stdout, "raw:   %s\nbase:  %s\nclass: %s\nefi:   %s\nzfs:   %s\n", d.Raw, d.Base, d.Class, d.EFI, d.ZFS)
			return nil
		},
	}
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "alpine-autoinstall %s (commit: %s)\n", version, commit)
		},
	}
}
