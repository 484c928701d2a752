package devpath

import (
	"os"
	"path/filepath"
	"testing"
)

func withByID(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "by-id")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	old := ByIDDir
	ByIDDir = dir
	t.Cleanup(func() { ByIDDir = old })
	return dir
}

func TestClassify(t *testing.T) {
	cases := map[string]Class{
		"/dev/sda":                           ClassDirect,
		"/dev/vdb":                           ClassDirect,
		"/dev/nvme0n1":                       ClassNVMe,
		"/dev/mmcblk0":                       ClassMMC,
		"/dev/disk/by-id/ata-WDC_123":        ClassStable,
		"/dev/disk/by-path/pci-0000:00:1f.2": ClassStable,
		"/dev/disk/by-id/nvme-Samsung_SSD":   ClassStable,
	}
	for in, want := range cases {
		if got := Classify(in); got != want {
			t.Fatalf("Classify(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPartitionPath(t *testing.T) {
	cases := []struct {
		base string
		n    int
		want string
	}{
		{"/dev/sda", 1, "/dev/sda1"},
		{"/dev/sdx", 2, "/dev/sdx2"},
		{"/dev/nvme0n1", 1, "/dev/nvme0n1p1"},
		{"/dev/nvme0n1", 2, "/dev/nvme0n1p2"},
		{"/dev/mmcblk0", 1, "/dev/mmcblk0p1"},
		{"/dev/disk/by-id/ata-WDC_123", 1, "/dev/disk/by-id/ata-WDC_123-part1"},
		{"/dev/disk/by-id/nvme-Samsung_SSD_980", 2, "/dev/disk/by-id/nvme-Samsung_SSD_980-part2"},
		{"/dev/disk/by-path/pci-0000:00:1f.2-ata-1", 2, "/dev/disk/by-path/pci-0000:00:1f.2-ata-1-part2"},
	}
	for _, c := range cases {
		if got := PartitionPath(c.base, c.n); got != c.want {
			t.Fatalf("PartitionPath(%q, %d) = %q, want %q", c.base, c.n, got, c.want)
		}
	}
}

func TestResolveWithoutStableFlagKeepsRaw(t *testing.T) {
	dir := withByID(t)
	// an entry that would match if the flag were honoured
	if err := os.Symlink("/dev/sdx", filepath.Join(dir, "ata-DISK")); err != nil {
		t.Fatal(err)
	}
	for _, raw := range []string{"/dev/sdx", "/dev/nvme0n1", "/dev/vda"} {
		d := Resolve(raw, false)
		if d.Base != raw {
			t.Fatalf("Resolve(%q, false).Base = %q", raw, d.Base)
		}
	}
}

func TestResolveFindsByIDEntry(t *testing.T) {
	dir := withByID(t)
	devDir := t.TempDir()
	raw := filepath.Join(devDir, "sdx")
	other := filepath.Join(devDir, "sdy")
	for _, p := range []string{raw, other} {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	links := map[string]string{
		"ata-OTHER":        other,
		"ata-TARGET":       raw,
		"ata-TARGET-part1": raw + "1",
		"wwn-0x5000":       raw,
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}

	d := Resolve(raw, true)
	want := filepath.Join(dir, "ata-TARGET")
	if d.Base != want {
		t.Fatalf("base = %q, want %q", d.Base, want)
	}
	if d.Class != ClassStable {
		t.Fatalf("class = %v", d.Class)
	}
	if d.EFI != want+"-part1" || d.ZFS != want+"-part2" {
		t.Fatalf("partitions = %q %q", d.EFI, d.ZFS)
	}
	if d.Raw != raw {
		t.Fatalf("raw changed: %q", d.Raw)
	}
}

func TestResolveRelativeDanglingLink(t *testing.T) {
	dir := withByID(t)
	if err := os.Symlink("../../sdq", filepath.Join(dir, "ata-Q")); err != nil {
		t.Fatal(err)
	}
	raw := filepath.Clean(filepath.Join(dir, "../../sdq"))
	d := Resolve(raw, true)
	if d.Base != filepath.Join(dir, "ata-Q") {
		t.Fatalf("base = %q", d.Base)
	}
}

func TestResolveFallsBackToRaw(t *testing.T) {
	withByID(t)
	d := Resolve("/dev/nvme9n1", true)
	if d.Base != "/dev/nvme9n1" || d.EFI != "/dev/nvme9n1p1" || d.ZFS != "/dev/nvme9n1p2" {
		t.Fatalf("unexpected: %+v", d)
	}

	old := ByIDDir
	ByIDDir = filepath.Join(t.TempDir(), "missing")
	defer func() { ByIDDir = old }()
	if d := Resolve("/dev/sda", true); d.Base != "/dev/sda" {
		t.Fatalf("missing by-id dir should fall back, got %q", d.Base)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	dir := withByID(t)
	raw := filepath.Join(t.TempDir(), "sdz")
	if err := os.WriteFile(raw, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"wwn-0x1", "ata-Z", "scsi-Z"} {
		if err := os.Symlink(raw, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	first := Resolve(raw, true)
	for i := 0; i < 5; i++ {
		if got := Resolve(raw, true); got != first {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
	if first.Base != filepath.Join(dir, "ata-Z") {
		t.Fatalf("expected first entry in name order, got %q", first.Base)
	}
}
