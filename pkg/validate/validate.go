package validate

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	reZFSName    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.:-]{0,63}$`)
	reHostname   = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
	reEFILabel   = regexp.MustCompile(`^[A-Z0-9_-]{1,11}$`)
	ErrBadName   = errors.New("invalid zfs name component")
	ErrReserved  = errors.New("zfs name is reserved")
	ErrBadHost   = errors.New("invalid hostname")
	ErrBadLabel  = errors.New("invalid FAT volume label")
	ErrBadPath   = errors.New("path must be relative and stay inside its root")
	ErrBadDevice = errors.New("device path must be under /dev")
)

// ZFSName checks a single pool or dataset name component.
func ZFSName(s string) error {
	if !reZFSName.MatchString(s) {
		return ErrBadName
	}
	switch s {
	case "mirror", "raidz", "raidz1", "raidz2", "raidz3", "spare", "log", "cache", "draid":
		return ErrReserved
	}
	if strings.HasPrefix(s, "c") && len(s) > 1 && s[1] >= '0' && s[1] <= '9' {
		return ErrReserved
	}
	return nil
}

// Hostname accepts a single RFC 1123 label.
func Hostname(s string) error {
	if !reHostname.MatchString(s) {
		return ErrBadHost
	}
	return nil
}

// EFILabel accepts labels mkfs.vfat will store verbatim.
func EFILabel(s string) error {
	if !reEFILabel.MatchString(s) {
		return ErrBadLabel
	}
	return nil
}

// RelPath rejects absolute paths and paths escaping their root.
func RelPath(p string) error {
	if p == "" || filepath.IsAbs(p) {
		return ErrBadPath
	}
	c := filepath.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, ".."+string(filepath.Separator)) {
		return ErrBadPath
	}
	return nil
}

func DevicePath(p string) error {
	c := filepath.Clean(p)
	if !strings.HasPrefix(c, "/dev/") || len(c) <= len("/dev/") {
		return ErrBadDevice
	}
	return nil
}
