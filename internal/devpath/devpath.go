// Package devpath maps a raw block device to the path used for provisioning
// and derives partition device paths from it.
package devpath

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Class tags the naming convention a device path follows.
type Class int

const (
	// ClassDirect devices get the partition number appended directly (sda -> sda1).
	ClassDirect Class = iota
	// ClassNVMe devices use a "p" separator (nvme0n1 -> nvme0n1p1).
	ClassNVMe
	// ClassMMC devices use a "p" separator (mmcblk0 -> mmcblk0p1).
	ClassMMC
	// ClassStable paths live under /dev/disk/by-id or by-path and use "-partN".
	ClassStable
)

func (c Class) String() string {
	switch c {
	case ClassNVMe:
		return "nvme"
	case ClassMMC:
		return "mmc"
	case ClassStable:
		return "stable"
	default:
		return "direct"
	}
}

// Stable namespaces. Overridable in tests.
var (
	ByIDDir   = "/dev/disk/by-id"
	ByPathDir = "/dev/disk/by-path"
)

var rePartEntry = regexp.MustCompile(`-part[0-9]+$`)

// Classify reports the naming convention of path.
func Classify(path string) Class {
	if underStable(path) {
		return ClassStable
	}
	name := filepath.Base(path)
	switch {
	case strings.Contains(name, "nvme"):
		return ClassNVMe
	case strings.Contains(name, "mmcblk"):
		return ClassMMC
	default:
		return ClassDirect
	}
}

func underStable(path string) bool {
	for _, ns := range []string{ByIDDir, ByPathDir, "/dev/disk/by-id", "/dev/disk/by-path"} {
		if strings.HasPrefix(path, strings.TrimSuffix(ns, "/")+"/") {
			return true
		}
	}
	return false
}

// PartitionPath returns the device path of partition n on base.
func PartitionPath(base string, n int) string {
	switch Classify(base) {
	case ClassStable:
		return fmt.Sprintf("%s-part%d", base, n)
	case ClassNVMe, ClassMMC:
		return fmt.Sprintf("%sp%d", base, n)
	default:
		return fmt.Sprintf("%s%d", base, n)
	}
}

// Device is the resolved target disk.
type Device struct {
	Raw   string `json:"raw" yaml:"raw"`
	Base  string `json:"base" yaml:"base"`
	Class Class  `json:"-" yaml:"-"`
	EFI   string `json:"efi" yaml:"efi"`
	ZFS   string `json:"zfs" yaml:"zfs"`
}

// Partition returns the path of partition n on the resolved base.
func (d Device) Partition(n int) string { return PartitionPath(d.Base, n) }

// Resolve picks the base path for raw. With preferStable set it looks for a
// by-id entry pointing at the same device and falls back to raw.
func Resolve(raw string, preferStable bool) Device {
	base := raw
	if preferStable {
		if p, ok := StablePath(raw); ok {
			base = p
		}
	}
	return Device{
		Raw:   raw,
		Base:  base,
		Class: Classify(base),
		EFI:   PartitionPath(base, 1),
		ZFS:   PartitionPath(base, 2),
	}
}

// StablePath searches ByIDDir for an entry resolving to raw. Entries are
// visited in name order so the result is deterministic.
func StablePath(raw string) (string, bool) {
	if Classify(raw) == ClassStable {
		return raw, true
	}
	entries, err := os.ReadDir(ByIDDir)
	if err != nil {
		return "", false
	}
	target := Canonical(raw)
	for _, e := range entries {
		if rePartEntry.MatchString(e.Name()) {
			continue
		}
		p := filepath.Join(ByIDDir, e.Name())
		if Canonical(p) == target {
			return p, true
		}
	}
	return "", false
}

// Canonical resolves p to the device node it names. Dangling relative links,
// as by-id entries are when /dev is not populated, are resolved textually.
func Canonical(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	if t, err := os.Readlink(p); err == nil {
		if !filepath.IsAbs(t) {
			t = filepath.Join(filepath.Dir(p), t)
		}
		return filepath.Clean(t)
	}
	return filepath.Clean(p)
}
