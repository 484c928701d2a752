package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/master-of-zen/alpine-autoinstall/internal/bootcfg"
	"github.com/master-of-zen/alpine-autoinstall/internal/fsatomic"
	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

func (i *Installer) bootstrap(ctx context.Context) error {
	esp := i.target(bootcfg.EFIMount)
	if err := os.MkdirAll(esp, 0o755); err != nil {
		return err
	}
	if _, err := i.Runner.Run(ctx, i.mountESPCmd(i.dev.EFI)); err != nil {
		return fmt.Errorf("mount EFI partition: %w", err)
	}
	if _, err := i.Runner.Run(ctx, i.setupDiskCmd()); err != nil {
		return fmt.Errorf("setup-disk: %w", err)
	}
	if err := i.copyLive(repositoriesFile, 0o644); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("copy repositories: %w", err)
		}
		i.Log.Warn().Msg("live system has no repository list, target keeps the one from setup-disk")
	}
	if err := i.copyLive("etc/hostid", 0o644); err != nil {
		i.Log.Warn().Err(err).Msg("hostid not copied, pool import at first boot may need -f")
	}
	for _, fs := range pseudoFS {
		err := os.MkdirAll(i.target(fs), 0o755)
		if err == nil {
			_, err = i.Runner.Run(ctx, i.bindCmd(fs))
		}
		if err != nil {
			i.Log.Warn().Err(err).Str("fs", fs).Msg("pseudo filesystem not available in target")
		}
	}

	if _, err := i.Runner.Run(ctx, i.apkUpdateCmd()); err != nil {
		i.Log.Warn().Err(err).Msg("repository index update failed, continuing with cached indexes")
	}
	if _, err := i.Runner.Run(ctx, i.apkAddCmd()); err != nil {
		return fmt.Errorf("install %s: %w", strings.Join(i.Packages(), " "), err)
	}
	for _, svc := range Services {
		if _, err := i.Runner.Run(ctx, i.rcUpdateCmd(svc)); err != nil {
			return fmt.Errorf("enable %s: %w", svc, err)
		}
	}
	return nil
}

// copyLive copies rel from the live root into the target.
func (i *Installer) copyLive(rel string, perm os.FileMode) error {
	b, err := os.ReadFile(joinRoot(i.LiveRoot, rel))
	if err != nil {
		return err
	}
	return fsatomic.WriteFile(i.target(rel), b, perm)
}

func (i *Installer) bootconfig(ctx context.Context) error {
	cfg := i.Config
	root := cfg.MountRoot
	if err := bootcfg.WriteHostname(root, cfg.Hostname); err != nil {
		return fmt.Errorf("hostname: %w", err)
	}
	if err := bootcfg.WriteHosts(root, cfg.Hostname); err != nil {
		return fmt.Errorf("hosts: %w", err)
	}
	if err := bootcfg.SetTimezone(root, cfg.Timezone); err != nil {
		i.Log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("timezone not set")
	}

	replaced, err := bootcfg.EnsureFeatures(root)
	if err != nil {
		return fmt.Errorf("mkinitfs features: %w", err)
	}
	i.Log.Debug().Bool("replaced", replaced).Msg("mkinitfs features set")
	kver, err := bootcfg.KernelVersion(root, cfg.KernelFlavor)
	if err != nil {
		return detection(err)
	}
	if _, err := i.Runner.Run(ctx, i.mkinitfsCmd(kver)); err != nil {
		return fmt.Errorf("mkinitfs %s: %w", kver, err)
	}

	uuid, err := shell.Output(ctx, i.Runner, blkidCmd(i.dev.EFI))
	if err != nil {
		return fmt.Errorf("blkid %s: %w", i.dev.EFI, err)
	}
	if uuid == "" {
		return detection(fmt.Errorf("%w: %s", ErrNoUUID, i.dev.EFI))
	}
	added, err := bootcfg.EnsureFstab(root, uuid)
	if err != nil {
		return fmt.Errorf("fstab: %w", err)
	}
	if !added {
		i.Log.Info().Msg("fstab already mounts the EFI partition")
	}

	if cfg.RootPassword != "" {
		c := i.chpasswdCmd().WithStdin(strings.NewReader("root:" + cfg.RootPassword + "\n"))
		if _, err := i.Runner.Run(ctx, c); err != nil {
			return fmt.Errorf("set root password: %w", err)
		}
	}
	if len(i.sshKeys) > 0 {
		n, err := bootcfg.InstallAuthorizedKeys(root, i.sshKeys)
		if err != nil {
			return fmt.Errorf("authorized keys: %w", err)
		}
		i.Log.Info().Int("added", n).Msg("root SSH keys installed")
	}
	return nil
}
