// Package efi installs the boot manager binary on the EFI System Partition
// and registers it with the firmware.
package efi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/master-of-zen/alpine-autoinstall/internal/devpath"
	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

// DefaultLabel is the firmware boot entry label.
const DefaultLabel = "ZFSBootMenu"

var ErrNoPartitionNumber = errors.New("unable to determine EFI partition number")

// SysRoot is the sysfs mount point. Tests point it at a temp tree.
var SysRoot = "/sys"

// EfivarsDir is where efivarfs is expected, relative to SysRoot.
const EfivarsDir = "firmware/efi/efivars"

// IsUEFI reports whether the running system was booted through UEFI.
func IsUEFI() bool {
	fi, err := os.Stat(filepath.Join(SysRoot, "firmware/efi"))
	return err == nil && fi.IsDir()
}

// MountLister returns the current mount table. gopsutil's
// disk.PartitionsWithContext is the default.
type MountLister func(ctx context.Context, all bool) ([]disk.PartitionStat, error)

// EfivarsMounted reports whether an efivarfs is mounted at the efivars path.
func EfivarsMounted(ctx context.Context, list MountLister) (bool, error) {
	if list == nil {
		list = disk.PartitionsWithContext
	}
	parts, err := list(ctx, true)
	if err != nil {
		return false, err
	}
	want := filepath.Join(SysRoot, EfivarsDir)
	for _, p := range parts {
		if p.Fstype == "efivarfs" && filepath.Clean(p.Mountpoint) == want {
			return true, nil
		}
	}
	return false, nil
}

// MountEfivarfs returns the mount call for efivarfs.
func MountEfivarfs() shell.Cmd {
	return shell.New("mount", "-t", "efivarfs", "efivarfs", filepath.Join(SysRoot, EfivarsDir))
}

// PartitionNumber reads the partition index of partPath from sysfs. Stable
// symlinks are resolved to the kernel name first.
func PartitionNumber(partPath string) (int, error) {
	name := filepath.Base(devpath.Canonical(partPath))
	b, err := os.ReadFile(filepath.Join(SysRoot, "class/block", name, "partition"))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNoPartitionNumber, partPath, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s: bad index %q", ErrNoPartitionNumber, partPath, strings.TrimSpace(string(b)))
	}
	return n, nil
}

// LoaderPath converts a path relative to the ESP root into the backslash
// form firmware expects, with a leading separator.
func LoaderPath(rel string) string {
	rel = strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+rel)), "/")
	return `\` + strings.ReplaceAll(rel, "/", `\`)
}

// BootEntry is one firmware boot entry to create.
type BootEntry struct {
	Disk      string `json:"disk" yaml:"disk"`
	Partition int    `json:"partition" yaml:"partition"`
	Label     string `json:"label" yaml:"label"`
	Loader    string `json:"loader" yaml:"loader"`
}

func (e BootEntry) Command() shell.Cmd {
	return shell.New("efibootmgr",
		"-c",
		"-d", e.Disk,
		"-p", strconv.Itoa(e.Partition),
		"-L", e.Label,
		"-l", e.Loader,
	)
}
