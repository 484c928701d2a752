// Package config assembles the install configuration from defaults, an
// optional YAML file, AUTOINSTALL_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/master-of-zen/alpine-autoinstall/internal/zfs"
	"github.com/master-of-zen/alpine-autoinstall/pkg/validate"
)

// EnvPrefix prefixes every environment variable, e.g. AUTOINSTALL_EFI_SIZE.
const EnvPrefix = "AUTOINSTALL"

// Config is built once and passed by value to every stage.
type Config struct {
	Disk           string `mapstructure:"disk" yaml:"disk"`
	Hostname       string `mapstructure:"hostname" yaml:"hostname"`
	RootPassword   string `mapstructure:"root-password" yaml:"-"`
	SSHKeyFile     string `mapstructure:"ssh-key" yaml:"ssh-key,omitempty"`
	PoolName       string `mapstructure:"pool" yaml:"pool"`
	BootEnv        string `mapstructure:"boot-env" yaml:"boot-env"`
	EFILabel       string `mapstructure:"efi-label" yaml:"efi-label"`
	EFISizeMiB     int    `mapstructure:"efi-size" yaml:"efi-size"`
	Timezone       string `mapstructure:"timezone" yaml:"timezone"`
	KernelFlavor   string `mapstructure:"kernel" yaml:"kernel"`
	Compression    string `mapstructure:"compression" yaml:"compression"`
	Encryption     string `mapstructure:"encryption" yaml:"encryption"`
	KeyFormat      string `mapstructure:"key-format" yaml:"key-format"`
	KeyLocation    string `mapstructure:"key-location" yaml:"key-location"`
	BootloaderURL  string `mapstructure:"bootloader-url" yaml:"bootloader-url"`
	BootloaderPath string `mapstructure:"bootloader-path" yaml:"bootloader-path"`
	KernelCmdline  string `mapstructure:"kernel-cmdline" yaml:"kernel-cmdline"`
	MountRoot      string `mapstructure:"mount-root" yaml:"mount-root"`
	UseByID        bool   `mapstructure:"by-id" yaml:"by-id"`
	NonInteractive bool   `mapstructure:"yes" yaml:"yes"`
	LogFile        string `mapstructure:"log-file" yaml:"log-file"`
	LogLevel       string `mapstructure:"log-level" yaml:"log-level"`
	JournalFile    string `mapstructure:"journal" yaml:"journal"`
	MetricsFile    string `mapstructure:"metrics-file" yaml:"metrics-file,omitempty"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Hostname:       "alpine",
		PoolName:       "zroot",
		BootEnv:        "alpine",
		EFILabel:       "EFI",
		EFISizeMiB:     1024,
		Timezone:       "UTC",
		KernelFlavor:   "lts",
		Compression:    "zstd",
		Encryption:     "aes-256-gcm",
		KeyFormat:      "passphrase",
		KeyLocation:    "prompt",
		BootloaderURL:  "https://get.zfsbootmenu.org/efi",
		BootloaderPath: "EFI/zbm/zfsbootmenu.EFI",
		KernelCmdline:  "quiet",
		MountRoot:      "/mnt",
		UseByID:        true,
		LogFile:        "/var/log/alpine-autoinstall.log",
		LogLevel:       "info",
		JournalFile:    "/var/log/alpine-autoinstall.json",
	}
}

var (
	ErrNoDisk        = errors.New("target disk is required")
	ErrBadKernel     = errors.New("kernel flavor must be lts or virt")
	ErrBadEFISize    = errors.New("EFI partition size must be between 32 and 4096 MiB")
	ErrBadMountRoot  = errors.New("mount root must be an absolute path other than /")
	ErrBadLogLevel   = errors.New("unknown log level")
	ErrBadBootloader = errors.New("bootloader URL must be http or https")
)

var kernelFlavors = map[string]bool{"lts": true, "virt": true}

// Validate checks every field and returns the first problem found.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Disk) == "" {
		return ErrNoDisk
	}
	if err := validate.DevicePath(c.Disk); err != nil {
		return fmt.Errorf("disk %q: %w", c.Disk, err)
	}
	if err := validate.Hostname(c.Hostname); err != nil {
		return fmt.Errorf("hostname %q: %w", c.Hostname, err)
	}
	if err := validate.ZFSName(c.BootEnv); err != nil {
		return fmt.Errorf("boot environment %q: %w", c.BootEnv, err)
	}
	if err := validate.EFILabel(c.EFILabel); err != nil {
		return fmt.Errorf("EFI label %q: %w", c.EFILabel, err)
	}
	if c.EFISizeMiB < 32 || c.EFISizeMiB > 4096 {
		return fmt.Errorf("%w: %d", ErrBadEFISize, c.EFISizeMiB)
	}
	if !kernelFlavors[c.KernelFlavor] {
		return fmt.Errorf("%w: %q", ErrBadKernel, c.KernelFlavor)
	}
	if err := validate.RelPath(c.BootloaderPath); err != nil {
		return fmt.Errorf("bootloader path %q: %w", c.BootloaderPath, err)
	}
	if !strings.HasPrefix(c.BootloaderURL, "https://") && !strings.HasPrefix(c.BootloaderURL, "http://") {
		return fmt.Errorf("%w: %q", ErrBadBootloader, c.BootloaderURL)
	}
	if !path.IsAbs(c.MountRoot) || path.Clean(c.MountRoot) == "/" {
		return fmt.Errorf("%w: %q", ErrBadMountRoot, c.MountRoot)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrBadLogLevel, c.LogLevel)
	}
	// device is filled in once the disk is resolved
	if _, err := zfs.ValidateSpec(c.PoolSpec("/dev/null")); err != nil {
		return err
	}
	return nil
}

// PoolSpec returns the pool definition for the given ZFS partition.
func (c Config) PoolSpec(device string) zfs.PoolSpec {
	return zfs.PoolSpec{
		Name:        c.PoolName,
		Device:      device,
		AltRoot:     path.Clean(c.MountRoot),
		Compression: c.Compression,
		Encryption:  c.Encryption,
		KeyFormat:   c.KeyFormat,
		KeyLocation: c.KeyLocation,
	}
}

// Layout returns the dataset tree of the configured pool.
func (c Config) Layout() zfs.Layout {
	return zfs.Layout{Pool: c.PoolName, BE: c.BootEnv}
}

// AddFlags registers the command-line flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("config", "", "YAML configuration file")
	fs.String("disk", "", "target disk (alternative to the DISK argument)")
	fs.String("hostname", d.Hostname, "hostname of the installed system")
	fs.String("root-password", "", "root password to set (empty leaves it unset)")
	fs.String("ssh-key", "", "public key file to install for root")
	fs.String("pool", d.PoolName, "ZFS pool name")
	fs.String("boot-env", d.BootEnv, "boot environment dataset name")
	fs.String("efi-label", d.EFILabel, "FAT volume label of the EFI partition")
	fs.Int("efi-size", d.EFISizeMiB, "EFI partition size in MiB")
	fs.String("timezone", d.Timezone, "timezone of the installed system")
	fs.String("kernel", d.KernelFlavor, "kernel flavor (lts or virt)")
	fs.Bool("no-by-id", false, "use the device path as given instead of a /dev/disk/by-id link")
	fs.BoolP("yes", "y", false, "skip the destructive-action confirmation")
	fs.String("log-file", d.LogFile, "install log path")
	fs.String("log-level", d.LogLevel, "console log level")
	fs.String("metrics-file", "", "write stage metrics in Prometheus text format to this file")
}

// NewViper returns a viper instance carrying defaults, environment binding
// and the flags of fs.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	d := Defaults()
	for k, val := range map[string]any{
		"disk":            d.Disk,
		"hostname":        d.Hostname,
		"root-password":   d.RootPassword,
		"ssh-key":         d.SSHKeyFile,
		"pool":            d.PoolName,
		"boot-env":        d.BootEnv,
		"efi-label":       d.EFILabel,
		"efi-size":        d.EFISizeMiB,
		"timezone":        d.Timezone,
		"kernel":          d.KernelFlavor,
		"compression":     d.Compression,
		"encryption":      d.Encryption,
		"key-format":      d.KeyFormat,
		"key-location":    d.KeyLocation,
		"bootloader-url":  d.BootloaderURL,
		"bootloader-path": d.BootloaderPath,
		"kernel-cmdline":  d.KernelCmdline,
		"mount-root":      d.MountRoot,
		"by-id":           d.UseByID,
		"yes":             d.NonInteractive,
		"log-file":        d.LogFile,
		"log-level":       d.LogLevel,
		"journal":         d.JournalFile,
		"metrics-file":    d.MetricsFile,
	} {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs == nil {
		return v, nil
	}
	for _, name := range []string{
		"disk", "hostname", "root-password", "ssh-key", "pool", "boot-env", "efi-label",
		"efi-size", "timezone", "kernel", "yes", "log-file", "log-level", "metrics-file",
	} {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(name, f); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load resolves the final configuration. disk, when non-empty, is the
// positional argument and wins over every other source.
func Load(fs *pflag.FlagSet, disk string) (Config, error) {
	v, err := NewViper(fs)
	if err != nil {
		return Config{}, err
	}
	if fs != nil {
		if file, _ := fs.GetString("config"); file != "" {
			if err := MergeFile(v, file); err != nil {
				return Config{}, err
			}
		}
		if f := fs.Lookup("no-by-id"); f != nil && f.Changed {
			noByID, _ := fs.GetBool("no-by-id")
			v.Set("by-id", !noByID)
		}
	}
	if disk != "" {
		v.Set("disk", disk)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}
