package installer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"golang.org/x/sys/unix"

	"github.com/master-of-zen/alpine-autoinstall/internal/bootcfg"
	"github.com/master-of-zen/alpine-autoinstall/internal/partition"
	"github.com/master-of-zen/alpine-autoinstall/internal/storage/blk"
	"github.com/master-of-zen/alpine-autoinstall/internal/zfs"
)

// RequiredTools must be on PATH before anything is touched.
var RequiredTools = []string{
	"sgdisk", "partprobe", "mkfs.vfat", "blkid", "lsblk",
	"zpool", "zfs", "setup-disk", "apk", "chroot",
	"mount", "umount", "efibootmgr",
}

// Host answers questions about the machine the installer runs on.
type Host struct {
	EUID          func() int
	LookPath      func(file string) (string, error)
	IsBlockDevice func(path string) (bool, error)
	// Platform returns the distribution id, e.g. "alpine".
	Platform func(ctx context.Context) (string, error)
}

func DefaultHost() Host {
	var h Host
	h.fill()
	return h
}

func (h *Host) fill() {
	if h.EUID == nil {
		h.EUID = os.Geteuid
	}
	if h.LookPath == nil {
		h.LookPath = exec.LookPath
	}
	if h.IsBlockDevice == nil {
		h.IsBlockDevice = isBlockDevice
	}
	if h.Platform == nil {
		h.Platform = func(ctx context.Context) (string, error) {
			platform, _, _, err := host.PlatformInformationWithContext(ctx)
			return platform, err
		}
	}
}

func isBlockDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, err
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}

func (i *Installer) preflight(ctx context.Context) error {
	cfg := i.Config
	if err := cfg.Validate(); err != nil {
		return precondition(err)
	}
	if i.Host.EUID() != 0 {
		return precondition(ErrNotRoot)
	}
	var missing []string
	for _, t := range RequiredTools {
		if _, err := i.Host.LookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return precondition(fmt.Errorf("%w: %s", ErrMissingTools, strings.Join(missing, ", ")))
	}

	ok, err := i.Host.IsBlockDevice(cfg.Disk)
	if err != nil {
		return precondition(fmt.Errorf("%s: %w", cfg.Disk, err))
	}
	if !ok {
		return precondition(fmt.Errorf("%s: %w", cfg.Disk, ErrNotBlock))
	}
	d, err := blk.InspectDisk(ctx, i.Runner, cfg.Disk)
	if err != nil {
		return precondition(err)
	}
	if err := partition.Plan(cfg.EFISizeMiB, cfg.EFILabel).Check(d.SizeBytes); err != nil {
		return precondition(err)
	}
	if m := d.Mounted(); len(m) > 0 {
		return precondition(fmt.Errorf("%w: %s", ErrDiskInUse, strings.Join(m, ", ")))
	}
	i.disk = d

	z := zfs.Client{Run: i.Runner, Log: i.Log}
	imported, err := z.Imported(ctx, cfg.PoolName)
	switch {
	case err != nil:
		i.Log.Warn().Err(err).Msg("could not list imported pools")
	case imported:
		return precondition(fmt.Errorf("%w: %s", ErrPoolImported, cfg.PoolName))
	}

	if cfg.SSHKeyFile != "" {
		keys, err := bootcfg.ReadAuthorizedKeys(cfg.SSHKeyFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			i.Log.Warn().Str("file", cfg.SSHKeyFile).Msg("SSH key file not found, no key will be installed")
		case err != nil:
			return precondition(err)
		default:
			i.sshKeys = keys
		}
	}
	if cfg.RootPassword == "" && len(i.sshKeys) == 0 {
		i.Log.Warn().Msg("neither a root password nor an SSH key is configured")
	}

	i.checkLive(ctx)
	i.Log.Info().Str("disk", d.Path).Str("model", d.Model).Uint64("bytes", d.SizeBytes).Msg("target disk ok")
	return nil
}

// checkLive only warns: the live system may still work when these look off.
func (i *Installer) checkLive(ctx context.Context) {
	if p, err := i.Host.Platform(ctx); err != nil {
		i.Log.Warn().Err(err).Msg("could not detect the live platform")
	} else if p != "alpine" {
		i.Log.Warn().Str("platform", p).Msg("not running on Alpine Linux")
	}
	n, err := activeRepositories(joinRoot(i.LiveRoot, repositoriesFile))
	switch {
	case err != nil:
		i.Log.Warn().Err(err).Msg("live system has no package repository list")
	case n == 0:
		i.Log.Warn().Msg("live repository list has no enabled repositories")
	}
}

const repositoriesFile = "etc/apk/repositories"

func activeRepositories(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ln := strings.TrimSpace(sc.Text())
		if ln != "" && !strings.HasPrefix(ln, "#") {
			n++
		}
	}
	return n, sc.Err()
}

func joinRoot(root string, rel ...string) string {
	parts := append([]string{root}, rel...)
	for n := 1; n < len(parts); n++ {
		parts[n] = strings.TrimPrefix(parts[n], "/")
	}
	return filepath.Join(parts...)
}
