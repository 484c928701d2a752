package shell

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"":                      "''",
		"/dev/sda":              "/dev/sda",
		"mountpoint=none":       "mountpoint=none",
		`\EFI\zbm\x.EFI`:        `'\EFI\zbm\x.EFI'`,
		"it's":                  `'it'\''s'`,
		"org.zfsbootmenu:a=b c": "'org.zfsbootmenu:a=b c'",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Fatalf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCmdString(t *testing.T) {
	c := New("setup-disk", "-k", "lts", "/mnt").WithEnv("BOOTLOADER=none")
	if got := c.String(); got != "BOOTLOADER=none setup-disk -k lts /mnt" {
		t.Fatalf("unexpected: %s", got)
	}
	ch := Chroot("/mnt", "rc-update", "add", "zfs-mount", "sysinit")
	if got := ch.String(); got != "chroot /mnt rc-update add zfs-mount sysinit" {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestWithEnvDoesNotAlias(t *testing.T) {
	base := New("true").WithEnv("A=1")
	a := base.WithEnv("B=2")
	b := base.WithEnv("C=3")
	if len(a.Env) != 2 || len(b.Env) != 2 || a.Env[1] != "B=2" || b.Env[1] != "C=3" {
		t.Fatalf("env aliasing: %v %v", a.Env, b.Env)
	}
}

func TestExecExitError(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	x := Exec{Log: zerolog.Nop()}
	_, err := x.Run(context.Background(), New("sh", "-c", "echo boom >&2; exit 3"))
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if ee.Code != 3 || !strings.Contains(ee.Stderr, "boom") {
		t.Fatalf("unexpected exit error: %+v", ee)
	}
}

func TestExecStdinAndOutput(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	out, err := Output(context.Background(), Exec{Log: zerolog.Nop()}, New("cat").WithStdin(strings.NewReader("root:pw\n")))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "root:pw" {
		t.Fatalf("got %q", out)
	}
}

func TestRunTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	_, err := Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
