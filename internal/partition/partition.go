// Package partition plans and writes the two-partition GPT layout: an EFI
// System Partition followed by a ZFS partition filling the disk.
package partition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

const (
	MiB = 1 << 20

	// TypeEFI is the sgdisk type code of an EFI System Partition.
	TypeEFI = "EF00"
	// TypeZFS is the sgdisk type code reserved for Solaris/ZFS pools.
	TypeZFS = "BF00"

	// AlignMiB is the start of the first partition.
	AlignMiB = 1
	// MinPoolMiB is the smallest ZFS partition we accept.
	MinPoolMiB = 64
)

var ErrDiskTooSmall = errors.New("disk too small for layout")

// Part is one planned GPT entry. SizeMiB zero means "rest of the disk".
type Part struct {
	Number   int    `json:"number" yaml:"number"`
	Name     string `json:"name" yaml:"name"`
	TypeCode string `json:"type" yaml:"type"`
	StartMiB int    `json:"startMiB,omitempty" yaml:"startMiB,omitempty"`
	SizeMiB  int    `json:"sizeMiB,omitempty" yaml:"sizeMiB,omitempty"`
}

// Layout is the ordered list of partitions to create.
type Layout struct {
	Parts []Part `json:"parts" yaml:"parts"`
}

// Plan returns the fixed two-partition layout with an EFI partition of
// efiMiB. The ZFS partition starts where sgdisk puts the next aligned sector.
func Plan(efiMiB int, efiLabel string) Layout {
	return Layout{Parts: []Part{
		{Number: 1, Name: efiLabel, TypeCode: TypeEFI, StartMiB: AlignMiB, SizeMiB: efiMiB},
		{Number: 2, Name: "zfs", TypeCode: TypeZFS},
	}}
}

// Check rejects disks that cannot hold the layout.
func (l Layout) Check(diskBytes uint64) error {
	need := uint64(AlignMiB+MinPoolMiB) * MiB
	for _, p := range l.Parts {
		need += uint64(p.SizeMiB) * MiB
	}
	if diskBytes <= need {
		return fmt.Errorf("%w: have %d MiB, need more than %d MiB", ErrDiskTooSmall, diskBytes/MiB, need/MiB)
	}
	return nil
}

// SgdiskArgs renders the sgdisk invocation creating every partition of l on disk.
func (l Layout) SgdiskArgs(disk string) []string {
	var args []string
	for _, p := range l.Parts {
		n := strconv.Itoa(p.Number)
		start, end := "0", "0"
		if p.StartMiB > 0 {
			start = fmt.Sprintf("%dM", p.StartMiB)
		}
		if p.SizeMiB > 0 {
			end = fmt.Sprintf("+%dM", p.SizeMiB)
		}
		args = append(args,
			"-n", n+":"+start+":"+end,
			"-t", n+":"+p.TypeCode,
			"-c", n+":"+p.Name,
		)
	}
	return append(args, disk)
}

// Commands returns the ordered commands that write l to disk. wipefs is the
// only one whose failure is tolerated.
func (l Layout) Commands(disk string) []shell.Cmd {
	return []shell.Cmd{
		shell.New("wipefs", "-a", disk),
		shell.New("sgdisk", "--zap-all", disk),
		shell.New("sgdisk", l.SgdiskArgs(disk)...),
		shell.New("partprobe", disk),
	}
}

// FormatESP returns the mkfs.vfat call for the EFI partition.
func FormatESP(part, label string) shell.Cmd {
	return shell.New("mkfs.vfat", "-F", "32", "-n", label, part)
}

// Writer applies a layout through a Runner.
type Writer struct {
	Run shell.Runner
	Log zerolog.Logger
	// WaitFor blocks until a device node exists. Defaults to polling os.Stat.
	WaitFor func(ctx context.Context, path string) error
}

// Apply destroys the partition table on disk and writes l. The partition
// nodes in parts must appear before Apply returns.
func (w Writer) Apply(ctx context.Context, l Layout, disk string, parts ...string) error {
	for i, c := range l.Commands(disk) {
		if _, err := w.Run.Run(ctx, c); err != nil {
			if i == 0 {
				w.Log.Warn().Err(err).Str("disk", disk).Msg("wipefs failed, continuing with sgdisk --zap-all")
				continue
			}
			return fmt.Errorf("partitioning %s: %w", disk, err)
		}
	}
	wait := w.WaitFor
	if wait == nil {
		wait = WaitForNode
	}
	for _, p := range parts {
		if err := wait(ctx, p); err != nil {
			return err
		}
	}
	w.Log.Info().Str("disk", disk).Strs("partitions", parts).Msg("partition table written")
	return nil
}

// WaitForNode polls for path for up to ten seconds.
func WaitForNode(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("partition %s did not appear: %w", path, ctx.Err())
		case <-tick.C:
		}
	}
}
