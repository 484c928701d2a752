package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/master-of-zen/alpine-autoinstall/internal/bootcfg"
	"github.com/master-of-zen/alpine-autoinstall/internal/efi"
	"github.com/master-of-zen/alpine-autoinstall/internal/fsatomic"
	"github.com/master-of-zen/alpine-autoinstall/internal/zfs"
)

// CmdlineProperty carries the kernel command line ZFSBootMenu boots with.
const CmdlineProperty = "org.zfsbootmenu:commandline"

func (i *Installer) bootEntry(part int) efi.BootEntry {
	return efi.BootEntry{
		Disk:      i.dev.Raw,
		Partition: part,
		Label:     efi.DefaultLabel,
		Loader:    efi.LoaderPath(i.Config.BootloaderPath),
	}
}

func (i *Installer) bootloader(ctx context.Context) error {
	cfg := i.Config
	dest := i.target(bootcfg.EFIMount, cfg.BootloaderPath)
	if _, err := i.Fetcher.Fetch(ctx, cfg.BootloaderURL, dest); err != nil {
		return err
	}

	uefi := efi.IsUEFI()
	if uefi {
		mounted, err := efi.EfivarsMounted(ctx, i.Mounts)
		if err != nil {
			i.Log.Warn().Err(err).Msg("could not read the mount table")
		}
		if !mounted {
			if _, err := i.Runner.Run(ctx, efi.MountEfivarfs()); err != nil {
				i.Log.Warn().Err(err).Msg("efivarfs not mounted, efibootmgr may fail")
			}
		}
	} else {
		i.Log.Warn().Msg("not booted in UEFI mode, add a boot entry for " + efi.LoaderPath(cfg.BootloaderPath) + " from the firmware setup")
	}

	part, err := efi.PartitionNumber(i.dev.EFI)
	if err != nil {
		return detection(err)
	}
	if uefi {
		if _, err := i.Runner.Run(ctx, i.bootEntry(part).Command()); err != nil {
			return fmt.Errorf("register boot entry: %w", err)
		}
	}

	if cfg.KernelCmdline != "" {
		z := zfs.Client{Run: i.Runner, Log: i.Log}
		if err := z.SetProperty(ctx, cfg.Layout().Root().Name, CmdlineProperty, cfg.KernelCmdline); err != nil {
			i.Log.Warn().Err(err).Msg("kernel command line not set")
		}
	}
	return nil
}

func (i *Installer) finalize(ctx context.Context) error {
	cfg := i.Config
	if i.LogPath != "" {
		if b, err := os.ReadFile(i.LogPath); err != nil {
			i.Log.Warn().Err(err).Msg("install log not copied")
		} else if err := fsatomic.WriteFile(i.target("var/log", filepath.Base(i.LogPath)), b, 0o640); err != nil {
			i.Log.Warn().Err(err).Msg("install log not copied")
		}
	}
	z := zfs.Client{Run: i.Runner, Log: i.Log}
	l := cfg.Layout()
	if err := z.SetBootFS(ctx, cfg.PoolName, l.BootEnvName()); err != nil {
		return err
	}
	if _, err := i.Runner.Run(ctx, i.umountCmd()); err != nil {
		return fmt.Errorf("unmount %s: %w", cfg.MountRoot, err)
	}
	return z.Export(ctx, cfg.PoolName)
}
