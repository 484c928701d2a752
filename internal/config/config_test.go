package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(flags(t), "/dev/sdx")
	if err != nil {
		t.Fatal(err)
	}
	want := Defaults()
	want.Disk = "/dev/sdx"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("AUTOINSTALL_EFI_SIZE", "512")
	t.Setenv("AUTOINSTALL_HOSTNAME", "from-env")
	t.Setenv("AUTOINSTALL_BY_ID", "false")
	t.Setenv("AUTOINSTALL_KERNEL_CMDLINE", "quiet loglevel=3")
	c, err := Load(flags(t, "--hostname", "from-flag", "-y"), "/dev/vda")
	if err != nil {
		t.Fatal(err)
	}
	if c.EFISizeMiB != 512 || c.Hostname != "from-flag" || c.UseByID || !c.NonInteractive {
		t.Fatalf("unexpected: %+v", c)
	}
	if c.KernelCmdline != "quiet loglevel=3" {
		t.Fatalf("cmdline %q", c.KernelCmdline)
	}
}

func TestNoByIDFlag(t *testing.T) {
	c, err := Load(flags(t, "--no-by-id"), "/dev/sdx")
	if err != nil {
		t.Fatal(err)
	}
	if c.UseByID {
		t.Fatalf("--no-by-id ignored")
	}
}

func TestDiskFromEnvOrArgument(t *testing.T) {
	t.Setenv("AUTOINSTALL_DISK", "/dev/sdz")
	c, err := Load(flags(t), "")
	if err != nil || c.Disk != "/dev/sdz" {
		t.Fatalf("disk %q err %v", c.Disk, err)
	}
	c, err = Load(flags(t), "/dev/sdx")
	if err != nil || c.Disk != "/dev/sdx" {
		t.Fatalf("argument should win: %q err %v", c.Disk, err)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "install.yaml")
	body := "hostname: nas\npool: tank\nkernel: virt\nefi-size: 256\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AUTOINSTALL_POOL", "rpool")
	c, err := Load(flags(t, "--config", file, "--kernel", "lts"), "/dev/sdx")
	if err != nil {
		t.Fatal(err)
	}
	if c.Hostname != "nas" || c.EFISizeMiB != 256 {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.PoolName != "rpool" || c.KernelFlavor != "lts" {
		t.Fatalf("env and flags must override the file: %+v", c)
	}
}

func TestConfigFileSchema(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown.yaml": "poolname: tank\n",
		"kernel.yaml":  "kernel: edge\n",
		"size.yaml":    "efi-size: \"big\"\n",
		"broken.yaml":  "hostname: [\n",
	} {
		file := filepath.Join(dir, name)
		if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFile(file); !errors.Is(err, ErrInvalidFile) {
			t.Fatalf("%s: expected ErrInvalidFile, got %v", name, err)
		}
	}
}

func TestValidate(t *testing.T) {
	base := Defaults()
	base.Disk = "/dev/sdx"
	cases := []struct {
		name string
		mut  func(*Config)
		want error
	}{
		{"no disk", func(c *Config) { c.Disk = "" }, ErrNoDisk},
		{"kernel", func(c *Config) { c.KernelFlavor = "edge" }, ErrBadKernel},
		{"efi size", func(c *Config) { c.EFISizeMiB = 16 }, ErrBadEFISize},
		{"mount root", func(c *Config) { c.MountRoot = "/" }, ErrBadMountRoot},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, ErrBadLogLevel},
		{"bootloader url", func(c *Config) { c.BootloaderURL = "ftp://x" }, ErrBadBootloader},
	}
	for _, tc := range cases {
		c := base
		tc.mut(&c)
		if err := c.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
	for _, mut := range []func(*Config){
		func(c *Config) { c.Hostname = "-bad" },
		func(c *Config) { c.PoolName = "mirror" },
		func(c *Config) { c.BootEnv = "has space" },
		func(c *Config) { c.EFILabel = "waytoolonglabel" },
		func(c *Config) { c.BootloaderPath = "../escape.efi" },
		func(c *Config) { c.Compression = "brotli" },
	} {
		c := base
		mut(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("invalid config accepted: %+v", c)
		}
	}
}

func TestPoolSpec(t *testing.T) {
	c := Defaults()
	c.MountRoot = "/mnt/"
	sp := c.PoolSpec("/dev/sdx2")
	if sp.AltRoot != "/mnt" || sp.Device != "/dev/sdx2" || sp.Name != "zroot" {
		t.Fatalf("unexpected: %+v", sp)
	}
	if l := c.Layout(); l.BootEnvName() != "zroot/ROOT/alpine" {
		t.Fatalf("boot env %q", l.BootEnvName())
	}
}
