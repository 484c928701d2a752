package installer

import (
	"context"
	"fmt"

	"github.com/master-of-zen/alpine-autoinstall/internal/devpath"
	"github.com/master-of-zen/alpine-autoinstall/internal/partition"
	"github.com/master-of-zen/alpine-autoinstall/internal/zfs"
)

func (i *Installer) resolve(context.Context) error {
	i.dev = devpath.Resolve(i.Config.Disk, i.Config.UseByID)
	if i.Config.UseByID && i.dev.Base == i.dev.Raw && i.dev.Class != devpath.ClassStable {
		i.Log.Warn().Str("disk", i.dev.Raw).Msg("no stable identifier found, using the device path")
	}
	i.Log.Info().Str("raw", i.dev.Raw).Str("base", i.dev.Base).Stringer("class", i.dev.Class).
		Str("efi", i.dev.EFI).Str("zfs", i.dev.ZFS).Msg("device resolved")
	return nil
}

func (i *Installer) layout() partition.Layout {
	return partition.Plan(i.Config.EFISizeMiB, i.Config.EFILabel)
}

func (i *Installer) partition(ctx context.Context) error {
	w := partition.Writer{Run: i.Runner, Log: i.Log, WaitFor: i.WaitFor}
	if err := w.Apply(ctx, i.layout(), i.dev.Base, i.dev.EFI, i.dev.ZFS); err != nil {
		return err
	}
	if _, err := i.Runner.Run(ctx, partition.FormatESP(i.dev.EFI, i.Config.EFILabel)); err != nil {
		return fmt.Errorf("format EFI partition: %w", err)
	}
	return nil
}

func (i *Installer) poolSpec() (zfs.PoolSpec, error) {
	return zfs.ValidateSpec(i.Config.PoolSpec(i.dev.ZFS))
}

func (i *Installer) createPool(ctx context.Context) error {
	sp, err := i.poolSpec()
	if err != nil {
		return precondition(err)
	}
	if sp.Interactive() {
		fmt.Fprintf(i.Out, "\nEnter the passphrase for pool %s. It is asked for at every boot.\n", sp.Name)
	}
	return zfs.Client{Run: i.Runner, Log: i.Log}.Create(ctx, sp)
}

func (i *Installer) datasets(ctx context.Context) error {
	return zfs.Client{Run: i.Runner, Log: i.Log}.BuildLayout(ctx, i.Config.Layout(), i.Config.MountRoot)
}
