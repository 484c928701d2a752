package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestZFSName_Valid(t *testing.T) {
	valid := []string{"zroot", "tank", "alpine", "be-2024.01", "A_1:x"}
	for _, v := range valid {
		if err := ZFSName(v); err != nil {
			t.Fatalf("expected valid name %q, got error: %v", v, err)
		}
	}
}

func TestZFSName_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"1pool",
		"with space",
		"slash/inside",
		strings.Repeat("a", 65),
	}
	for _, v := range invalid {
		if err := ZFSName(v); err == nil {
			t.Fatalf("expected error for invalid name %q", v)
		}
	}
	for _, v := range []string{"mirror", "raidz2", "c0"} {
		if err := ZFSName(v); !errors.Is(err, ErrReserved) {
			t.Fatalf("expected reserved error for %q, got %v", v, err)
		}
	}
}

func TestHostname(t *testing.T) {
	for _, v := range []string{"alpine", "nas-01", "a"} {
		if err := Hostname(v); err != nil {
			t.Fatalf("expected valid hostname %q: %v", v, err)
		}
	}
	for _, v := range []string{"", "-lead", "trail-", "dot.ted", strings.Repeat("h", 64)} {
		if err := Hostname(v); err == nil {
			t.Fatalf("expected error for hostname %q", v)
		}
	}
}

func TestEFILabel(t *testing.T) {
	if err := EFILabel("EFI"); err != nil {
		t.Fatalf("EFI: %v", err)
	}
	for _, v := range []string{"", "efi", "TOO_LONG_LABEL"} {
		if err := EFILabel(v); err == nil {
			t.Fatalf("expected error for label %q", v)
		}
	}
}

func TestRelPath(t *testing.T) {
	for _, v := range []string{"EFI/zbm/zfsbootmenu.EFI", "a/../b"} {
		if err := RelPath(v); err != nil {
			t.Fatalf("expected valid %q: %v", v, err)
		}
	}
	for _, v := range []string{"", "/EFI/x", "..", "../x", "a/../../x", "."} {
		if err := RelPath(v); err == nil {
			t.Fatalf("expected error for %q", v)
		}
	}
}

func TestDevicePath(t *testing.T) {
	if err := DevicePath("/dev/sdx"); err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"sdx", "/dev/", "/tmp/disk", "/dev/../etc/passwd"} {
		if err := DevicePath(v); err == nil {
			t.Fatalf("expected error for %q", v)
		}
	}
}
