// Package installer runs the install pipeline: an ordered list of named
// stages executed once each, stopping at the first failure.
package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"github.com/master-of-zen/alpine-autoinstall/internal/config"
	"github.com/master-of-zen/alpine-autoinstall/internal/devpath"
	"github.com/master-of-zen/alpine-autoinstall/internal/efi"
	"github.com/master-of-zen/alpine-autoinstall/internal/journal"
	"github.com/master-of-zen/alpine-autoinstall/internal/partition"
	"github.com/master-of-zen/alpine-autoinstall/internal/storage/blk"
	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

// Fetcher downloads url to dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// Installer holds the configuration, the collaborators every stage uses and
// the state stages hand to each other. Fields left zero by the caller are
// filled by New.
type Installer struct {
	Config  config.Config
	Runner  shell.Runner
	Log     zerolog.Logger
	Out     io.Writer
	Prompt  Prompter
	Host    Host
	Fetcher Fetcher
	// Mounts lists mounted filesystems; nil uses gopsutil.
	Mounts efi.MountLister
	// WaitFor blocks until a partition node exists.
	WaitFor func(ctx context.Context, path string) error
	// LiveRoot is the root of the running live system, "/" outside tests.
	LiveRoot string
	// LogPath is the install log copied into the target at the end.
	LogPath string
	Version string

	disk    blk.Device
	dev     devpath.Device
	sshKeys []string
}

// New returns an Installer for cfg with host defaults.
func New(cfg config.Config, log zerolog.Logger) *Installer {
	out := io.Writer(os.Stderr)
	return &Installer{
		Config:   cfg,
		Runner:   shell.Exec{Log: log},
		Log:      log,
		Out:      out,
		Prompt:   SurveyPrompter{},
		Host:     DefaultHost(),
		Fetcher:  efi.NewDownloader(log, out),
		WaitFor:  partition.WaitForNode,
		LiveRoot: "/",
		Version:  "dev",
	}
}

// Stage is one named step of the pipeline.
type Stage struct {
	id   string
	desc string
	run  func(ctx context.Context) error
}

func (s Stage) ID() string          { return s.id }
func (s Stage) Description() string { return s.desc }

// Stages returns the pipeline in execution order.
func (i *Installer) Stages() []Stage {
	return []Stage{
		{"preflight", "Checking preconditions", i.preflight},
		{"confirm", "Confirming destructive action", i.confirm},
		{"resolve", "Resolving device paths", i.resolve},
		{"partition", "Partitioning disk", i.partition},
		{"pool", "Creating encrypted pool", i.createPool},
		{"datasets", "Creating datasets", i.datasets},
		{"bootstrap", "Installing base system", i.bootstrap},
		{"bootconfig", "Writing boot configuration", i.bootconfig},
		{"bootloader", "Installing boot manager", i.bootloader},
		{"finalize", "Finalizing", i.finalize},
	}
}

// Run executes every stage in order. The returned error is an *Error naming
// the failed stage.
func (i *Installer) Run(ctx context.Context) error {
	i.defaults()
	stages := i.Stages()
	named := make([]journal.Named, len(stages))
	for n, s := range stages {
		named[n] = s
	}
	j := journal.New(i.Config.JournalFile, i.Config.Disk, i.Version, named, i.Log)
	m := newMetrics()
	i.Log.Info().Str("run", j.ID()).Str("disk", i.Config.Disk).Msg("starting installation")
	i.banner()

	bar := progressbar.NewOptions(len(stages),
		progressbar.OptionSetWriter(i.Out),
		progressbar.OptionSetDescription("Installing"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Close()

	var failed *Error
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			failed = classify(s.id, fmt.Errorf("interrupted: %w", err))
			break
		}
		bar.Describe(s.desc)
		j.Start(s.id)
		start := time.Now()
		err := s.run(ctx)
		took := time.Since(start)
		m.observe(s.id, took, err)
		j.Done(s.id, err)
		if err != nil {
			failed = classify(s.id, err)
			i.Log.Error().Str("stage", s.id).Dur("duration", took).Err(err).Msg("stage failed")
			break
		}
		i.Log.Info().Str("stage", s.id).Dur("duration", took).Msg("stage complete")
		_ = bar.Add(1)
	}

	if failed != nil {
		j.Finish(failed)
	} else {
		j.Finish(nil)
	}
	m.finish(failed == nil)
	if path := i.Config.MetricsFile; path != "" {
		if err := m.write(path); err != nil {
			i.Log.Warn().Err(err).Str("path", path).Msg("failed to write metrics")
		}
	}
	if failed != nil {
		return failed
	}
	i.Log.Info().Str("run", j.ID()).Msg("installation complete")
	return nil
}

func (i *Installer) defaults() {
	if i.Out == nil {
		i.Out = io.Discard
	}
	if i.Runner == nil {
		i.Runner = shell.Exec{Log: i.Log}
	}
	if i.Prompt == nil {
		i.Prompt = SurveyPrompter{}
	}
	if i.WaitFor == nil {
		i.WaitFor = partition.WaitForNode
	}
	if i.LiveRoot == "" {
		i.LiveRoot = "/"
	}
	if i.Fetcher == nil {
		i.Fetcher = efi.NewDownloader(i.Log, nil)
	}
	i.Host.fill()
}

func (i *Installer) banner() {
	c := color.New(color.FgBlue, color.Bold)
	c.Fprintln(i.Out, "\nAlpine Linux on encrypted ZFS")
	fmt.Fprintf(i.Out, "  disk:  %s\n  pool:  %s (%s, %s)\n  boot:  %s via ZFSBootMenu\n\n",
		i.Config.Disk, i.Config.PoolName, i.Config.Encryption, i.Config.Compression,
		i.Config.Layout().BootEnvName())
}

// Device returns the resolved device once the resolve stage has run.
func (i *Installer) Device() devpath.Device { return i.dev }

// target joins rel onto the mount root.
func (i *Installer) target(rel ...string) string {
	return joinRoot(i.Config.MountRoot, rel...)
}
