package installer

import (
	"path/filepath"

	"github.com/master-of-zen/alpine-autoinstall/internal/bootcfg"
	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

// Services are enabled in the sysinit runlevel so the pool is imported,
// unlocked and mounted at boot.
var Services = []string{"zfs-import", "zfs-load-key", "zfs-mount"}

// pseudoFS are made available inside the target for chrooted commands.
var pseudoFS = []string{"proc", "sys", "dev"}

func (i *Installer) mountESPCmd(part string) shell.Cmd {
	return shell.New("mount", "-t", "vfat", part, i.target(bootcfg.EFIMount))
}

func (i *Installer) setupDiskCmd() shell.Cmd {
	return shell.New("setup-disk", "-k", i.Config.KernelFlavor, "-v", i.Config.MountRoot).WithEnv("BOOTLOADER=none")
}

func (i *Installer) bindCmd(fs string) shell.Cmd {
	if fs == "proc" {
		return shell.New("mount", "-t", "proc", "proc", i.target(fs))
	}
	return shell.New("mount", "--rbind", filepath.Join("/", fs), i.target(fs))
}

func (i *Installer) apkUpdateCmd() shell.Cmd {
	return shell.New("apk", "--root", i.Config.MountRoot, "update")
}

// Packages returns the packages added to the target on top of setup-disk.
func (i *Installer) Packages() []string {
	return []string{"zfs", "zfs-" + i.Config.KernelFlavor, "tzdata"}
}

func (i *Installer) apkAddCmd() shell.Cmd {
	return shell.New("apk", append([]string{"--root", i.Config.MountRoot, "add"}, i.Packages()...)...)
}

func (i *Installer) rcUpdateCmd(svc string) shell.Cmd {
	return shell.Chroot(i.Config.MountRoot, "rc-update", "add", svc, "sysinit")
}

func (i *Installer) mkinitfsCmd(kver string) shell.Cmd {
	return shell.Chroot(i.Config.MountRoot, "mkinitfs", "-c", "/"+bootcfg.MkinitfsConf, kver)
}

func blkidCmd(part string) shell.Cmd {
	return shell.New("blkid", "-s", "UUID", "-o", "value", part)
}

func (i *Installer) chpasswdCmd() shell.Cmd {
	return shell.Chroot(i.Config.MountRoot, "chpasswd")
}

func (i *Installer) umountCmd() shell.Cmd {
	return shell.New("umount", "-R", "-l", i.Config.MountRoot)
}
