// Package bootcfg edits configuration files inside the installed target root.
// Every path argument is relative to the target root, and every write is
// atomic.
package bootcfg

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/master-of-zen/alpine-autoinstall/internal/fsatomic"
)

const (
	MkinitfsConf = "etc/mkinitfs/mkinitfs.conf"
	Fstab        = "etc/fstab"
	EFIMount     = "/boot/efi"

	// Features are the mkinitfs features needed to import and unlock the
	// pool and to see NVMe, SCSI and virtio disks in early boot.
	Features = "ata base keymap kms mmc nvme scsi usb virtio zfs"
)

var (
	ErrNoKernel    = errors.New("no installed kernel modules found")
	ErrNoZoneInfo  = errors.New("timezone not found in target zoneinfo")
	ErrEmptyUUID   = errors.New("empty filesystem UUID")
	ErrBadHostname = errors.New("empty hostname")
)

func target(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
}

// WriteHostname replaces etc/hostname.
func WriteHostname(root, host string) error {
	if strings.TrimSpace(host) == "" {
		return ErrBadHostname
	}
	return fsatomic.WriteFile(target(root, "etc/hostname"), []byte(host+"\n"), 0o644)
}

var loopbacks = map[string]bool{"127.0.0.1": true, "127.0.1.1": true, "::1": true}

// WriteHosts rewrites the loopback entries of etc/hosts to carry host and
// keeps every other line.
func WriteHosts(root, host string) error {
	path := target(root, "etc/hosts")
	var kept []string
	if b, err := os.ReadFile(path); err == nil {
		for _, ln := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
			f := strings.Fields(ln)
			if len(f) > 0 && loopbacks[f[0]] {
				continue
			}
			kept = append(kept, ln)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	lines := []string{
		fmt.Sprintf("127.0.0.1\t%s localhost localhost.localdomain", host),
		"::1\t\tlocalhost localhost.localdomain",
	}
	for _, ln := range kept {
		if strings.TrimSpace(ln) != "" {
			lines = append(lines, ln)
		}
	}
	return fsatomic.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// SetTimezone points etc/localtime at the zone from the target's tzdata and
// records the name in etc/timezone.
func SetTimezone(root, zone string) error {
	rel := filepath.Join("/usr/share/zoneinfo", filepath.Clean("/"+zone))
	if _, err := os.Stat(target(root, rel)); err != nil {
		return fmt.Errorf("%w: %s", ErrNoZoneInfo, zone)
	}
	link := target(root, "etc/localtime")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Symlink(rel, link); err != nil {
		return err
	}
	return fsatomic.WriteFile(target(root, "etc/timezone"), []byte(zone+"\n"), 0o644)
}

// EnsureFeatures sets the features= line of the mkinitfs config, replacing
// the first existing one or appending. It reports whether a line was replaced.
func EnsureFeatures(root string) (bool, error) {
	path := target(root, MkinitfsConf)
	want := `features="` + Features + `"`
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	lines := splitLines(string(b))
	replaced := false
	for i, ln := range lines {
		if strings.HasPrefix(strings.TrimSpace(ln), "features=") {
			lines[i] = want
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, want)
	}
	return replaced, fsatomic.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// KernelVersion returns the module directory name under lib/modules of the
// target. Directories ending in -flavor win; among candidates the last in
// lexical order is returned.
func KernelVersion(root, flavor string) (string, error) {
	entries, err := os.ReadDir(target(root, "lib/modules"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	var all, matching []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		all = append(all, e.Name())
		if flavor != "" && strings.HasSuffix(e.Name(), "-"+flavor) {
			matching = append(matching, e.Name())
		}
	}
	if len(matching) > 0 {
		all = matching
	}
	if len(all) == 0 {
		return "", ErrNoKernel
	}
	sort.Strings(all)
	return all[len(all)-1], nil
}

// FstabLine is the entry mounting the EFI partition with owner-only masks.
func FstabLine(uuid string) string {
	return "UUID=" + uuid + " " + EFIMount + " vfat defaults,nofail,fmask=0077,dmask=0077 0 2"
}

// EnsureFstab appends the EFI mount line unless a non-comment entry already
// mounts EFIMount. It reports whether a line was appended.
func EnsureFstab(root, uuid string) (bool, error) {
	if strings.TrimSpace(uuid) == "" {
		return false, ErrEmptyUUID
	}
	path := target(root, Fstab)
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			fields := strings.Fields(sc.Text())
			if len(fields) >= 2 && !strings.HasPrefix(fields[0], "#") && filepath.Clean(fields[1]) == EFIMount {
				return false, nil
			}
		}
		if err := sc.Err(); err != nil {
			return false, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return false, err
	}
	return true, fsatomic.Append(path, FstabLine(uuid), 0)
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
