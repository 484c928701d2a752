package bootcfg

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/ssh"
)

func writeTarget(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func read(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestEnsureFeaturesReplaces(t *testing.T) {
	root := t.TempDir()
	p := writeTarget(t, root, MkinitfsConf, "features=\"ata base ide scsi usb virtio ext4\"\ndisable_trigger=yes\n")
	replaced, err := EnsureFeatures(root)
	if err != nil || !replaced {
		t.Fatalf("replaced=%v err=%v", replaced, err)
	}
	want := "features=\"" + Features + "\"\ndisable_trigger=yes\n"
	if diff := cmp.Diff(want, read(t, p)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestEnsureFeaturesAppends(t *testing.T) {
	root := t.TempDir()
	p := writeTarget(t, root, MkinitfsConf, "disable_trigger=yes")
	replaced, err := EnsureFeatures(root)
	if err != nil || replaced {
		t.Fatalf("replaced=%v err=%v", replaced, err)
	}
	want := "disable_trigger=yes\nfeatures=\"" + Features + "\"\n"
	if got := read(t, p); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if !strings.Contains(Features, "zfs") || !strings.Contains(Features, "nvme") {
		t.Fatalf("feature list must carry zfs and nvme")
	}
}

func TestEnsureFstabAppendsOnce(t *testing.T) {
	root := t.TempDir()
	p := writeTarget(t, root, Fstab, "# /boot/efi is mounted below\nzroot/ROOT/alpine / zfs defaults 0 0\n")
	added, err := EnsureFstab(root, "ABCD-1234")
	if err != nil || !added {
		t.Fatalf("added=%v err=%v", added, err)
	}
	added, err = EnsureFstab(root, "ABCD-1234")
	if err != nil || added {
		t.Fatalf("second call added=%v err=%v", added, err)
	}
	got := read(t, p)
	if n := strings.Count(got, EFIMount+" vfat"); n != 1 {
		t.Fatalf("%d EFI lines in\n%s", n, got)
	}
	if !strings.HasSuffix(got, "UUID=ABCD-1234 /boot/efi vfat defaults,nofail,fmask=0077,dmask=0077 0 2\n") {
		t.Fatalf("unexpected fstab:\n%s", got)
	}
}

func TestEnsureFstabRespectsExistingMount(t *testing.T) {
	root := t.TempDir()
	orig := "/dev/sda1 /boot/efi/ vfat defaults 0 2\n"
	p := writeTarget(t, root, Fstab, orig)
	added, err := EnsureFstab(root, "ABCD-1234")
	if err != nil || added {
		t.Fatalf("added=%v err=%v", added, err)
	}
	if read(t, p) != orig {
		t.Fatalf("fstab modified")
	}
}

func TestEnsureFstabEmptyUUID(t *testing.T) {
	if _, err := EnsureFstab(t.TempDir(), " "); !errors.Is(err, ErrEmptyUUID) {
		t.Fatalf("got %v", err)
	}
}

func TestKernelVersion(t *testing.T) {
	root := t.TempDir()
	if _, err := KernelVersion(root, "lts"); !errors.Is(err, ErrNoKernel) {
		t.Fatalf("empty target: %v", err)
	}
	for _, d := range []string{"6.6.31-0-lts", "6.6.40-0-virt", "6.6.29-0-lts"} {
		if err := os.MkdirAll(filepath.Join(root, "lib/modules", d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cases := map[string]string{
		"lts":  "6.6.31-0-lts",
		"virt": "6.6.40-0-virt",
		"":     "6.6.40-0-virt",
	}
	for flavor, want := range cases {
		got, err := KernelVersion(root, flavor)
		if err != nil || got != want {
			t.Fatalf("flavor %q: got %q, %v want %q", flavor, got, err, want)
		}
	}
}

func TestHostnameAndHosts(t *testing.T) {
	root := t.TempDir()
	writeTarget(t, root, "etc/hosts", "127.0.0.1\tlocalhost\n::1\tlocalhost\n10.0.0.5\tnas\n")
	if err := WriteHostname(root, "box"); err != nil {
		t.Fatal(err)
	}
	if err := WriteHosts(root, "box"); err != nil {
		t.Fatal(err)
	}
	if got := read(t, filepath.Join(root, "etc/hostname")); got != "box\n" {
		t.Fatalf("hostname %q", got)
	}
	hosts := read(t, filepath.Join(root, "etc/hosts"))
	want := "127.0.0.1\tbox localhost localhost.localdomain\n::1\t\tlocalhost localhost.localdomain\n10.0.0.5\tnas\n"
	if diff := cmp.Diff(want, hosts); diff != "" {
		t.Fatalf("hosts (-want +got):\n%s", diff)
	}
	if err := WriteHostname(root, ""); !errors.Is(err, ErrBadHostname) {
		t.Fatalf("empty hostname accepted: %v", err)
	}
}

func TestSetTimezone(t *testing.T) {
	root := t.TempDir()
	if err := SetTimezone(root, "Europe/Berlin"); !errors.Is(err, ErrNoZoneInfo) {
		t.Fatalf("missing zone: %v", err)
	}
	writeTarget(t, root, "usr/share/zoneinfo/Europe/Berlin", "TZif")
	writeTarget(t, root, "etc/localtime", "old")
	if err := SetTimezone(root, "Europe/Berlin"); err != nil {
		t.Fatal(err)
	}
	dst, err := os.Readlink(filepath.Join(root, "etc/localtime"))
	if err != nil || dst != "/usr/share/zoneinfo/Europe/Berlin" {
		t.Fatalf("localtime -> %q %v", dst, err)
	}
	if got := read(t, filepath.Join(root, "etc/timezone")); got != "Europe/Berlin\n" {
		t.Fatalf("timezone %q", got)
	}
}

func testKey(t *testing.T, comment string) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sp, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sp))) + " " + comment
}

func TestAuthorizedKeys(t *testing.T) {
	dir := t.TempDir()
	k1, k2 := testKey(t, "op@laptop"), testKey(t, "backup")
	src := filepath.Join(dir, "id.pub")
	if err := os.WriteFile(src, []byte("\n"+k1+"\n"+k2+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	keys, err := ReadAuthorizedKeys(src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{k1, k2}, keys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}

	root := filepath.Join(dir, "target")
	n, err := InstallAuthorizedKeys(root, keys)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	n, err = InstallAuthorizedKeys(root, keys[:1])
	if err != nil || n != 0 {
		t.Fatalf("duplicate key appended: n=%d err=%v", n, err)
	}
	fi, err := os.Stat(filepath.Join(root, "root/.ssh"))
	if err != nil || fi.Mode().Perm() != 0o700 {
		t.Fatalf(".ssh mode %v %v", fi, err)
	}
	fi, err = os.Stat(filepath.Join(root, "root/.ssh/authorized_keys"))
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("authorized_keys mode %v %v", fi, err)
	}
	if got := read(t, filepath.Join(root, "root/.ssh/authorized_keys")); got != k1+"\n"+k2+"\n" {
		t.Fatalf("authorized_keys:\n%s", got)
	}
}

func TestReadAuthorizedKeysRejectsGarbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.pub")
	if err := os.WriteFile(p, []byte("not a key\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadAuthorizedKeys(p); err == nil {
		t.Fatalf("expected parse error")
	}
}
