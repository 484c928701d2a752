// Package zfs builds and issues the zpool/zfs commands for the encrypted root
// pool and its dataset tree.
package zfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

// poolOptions are the -o properties every pool gets.
var poolOptions = []string{
	"ashift=12",
	"autotrim=on",
}

// fsOptions are the -O root dataset properties every pool gets, before the
// configurable compression and encryption properties.
var fsOptions = []string{
	"acltype=posixacl",
	"xattr=sa",
	"atime=off",
	"relatime=on",
	"dnodesize=auto",
	"normalization=formD",
	"mountpoint=none",
	"canmount=off",
}

// CreateArgs renders the zpool create argument list for sp.
func CreateArgs(sp PoolSpec) []string {
	args := []string{"create", "-f"}
	for _, o := range poolOptions {
		args = append(args, "-o", o)
	}
	fs := append(append([]string(nil), fsOptions...),
		"compression="+sp.Compression,
		"encryption="+sp.Encryption,
		"keyformat="+sp.KeyFormat,
		"keylocation="+sp.KeyLocation,
	)
	for _, o := range fs {
		args = append(args, "-O", o)
	}
	return append(args, "-R", sp.AltRoot, sp.Name, sp.Device)
}

// CreatePool returns the zpool create command. With a prompt key location it
// is attached to the terminal so the passphrase can be typed or piped.
func CreatePool(sp PoolSpec) shell.Cmd {
	c := shell.New("zpool", CreateArgs(sp)...)
	if sp.Interactive() {
		c = c.Attached()
	}
	return c
}

// Dataset is one entry of the fixed dataset tree.
type Dataset struct {
	Name  string            `json:"name" yaml:"name"`
	Props map[string]string `json:"props,omitempty" yaml:"props,omitempty"`
	// Mode, when non-zero, is applied to the mounted directory after creation.
	Mode os.FileMode `json:"-" yaml:"-"`
	// Mountpoint relative to the altroot, used for Mode.
	Mountpoint string `json:"-" yaml:"-"`
}

// Layout is the dataset tree under one pool.
type Layout struct {
	Pool string
	BE   string
}

func (l Layout) Root() Dataset {
	return Dataset{Name: path.Join(l.Pool, "ROOT"), Props: map[string]string{"mountpoint": "none", "canmount": "off"}}
}

// BootEnv is mounted at / but never at pool import; it is mounted by hand
// once during installation and by the boot manager afterwards.
func (l Layout) BootEnv() Dataset {
	return Dataset{Name: l.BootEnvName(), Props: map[string]string{"mountpoint": "/", "canmount": "noauto"}}
}

func (l Layout) BootEnvName() string { return path.Join(l.Pool, "ROOT", l.BE) }

// Auxiliary returns the independent datasets created after the boot
// environment is mounted, parents first.
func (l Layout) Auxiliary() []Dataset {
	return []Dataset{
		{Name: path.Join(l.Pool, "home"), Props: map[string]string{"mountpoint": "/home"}},
		{Name: path.Join(l.Pool, "var"), Props: map[string]string{"mountpoint": "/var", "canmount": "off"}},
		{Name: path.Join(l.Pool, "var/log")},
		{Name: path.Join(l.Pool, "var/tmp"), Props: map[string]string{"setuid": "off"}},
		{
			Name:       path.Join(l.Pool, "tmp"),
			Props:      map[string]string{"mountpoint": "/tmp", "setuid": "off", "devices": "off"},
			Mode:       os.ModeSticky | 0o777,
			Mountpoint: "/tmp",
		},
	}
}

// CreateArgs renders zfs create with properties in a stable order.
func (d Dataset) CreateArgs() []string {
	args := []string{"create"}
	for _, k := range propOrder(d.Props) {
		args = append(args, "-o", k+"="+d.Props[k])
	}
	return append(args, d.Name)
}

var knownOrder = map[string]int{"mountpoint": 0, "canmount": 1, "setuid": 2, "devices": 3}

func propOrder(props map[string]string) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		oi, iok := knownOrder[keys[i]]
		oj, jok := knownOrder[keys[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// Client issues zpool/zfs commands for one pool.
type Client struct {
	Run shell.Runner
	Log zerolog.Logger
}

func (c Client) Create(ctx context.Context, sp PoolSpec) error {
	c.Log.Info().Str("pool", sp.Name).Str("device", sp.Device).Bool("prompt", sp.Interactive()).Msg("creating encrypted pool")
	if _, err := c.Run.Run(ctx, CreatePool(sp)); err != nil {
		return fmt.Errorf("zpool create %s: %w", sp.Name, err)
	}
	return nil
}

// Imported reports whether a pool called name is currently imported.
func (c Client) Imported(ctx context.Context, name string) (bool, error) {
	out, err := shell.Output(ctx, c.Run, shell.New("zpool", "list", "-H", "-o", "name"))
	if err != nil {
		return false, err
	}
	for _, ln := range strings.Split(out, "\n") {
		if strings.TrimSpace(ln) == name {
			return true, nil
		}
	}
	return false, nil
}

func (c Client) CreateDataset(ctx context.Context, d Dataset) error {
	if _, err := c.Run.Run(ctx, shell.New("zfs", d.CreateArgs()...)); err != nil {
		return fmt.Errorf("zfs create %s: %w", d.Name, err)
	}
	return nil
}

func (c Client) Mount(ctx context.Context, dataset string) error {
	if _, err := c.Run.Run(ctx, shell.New("zfs", "mount", dataset)); err != nil {
		return fmt.Errorf("zfs mount %s: %w", dataset, err)
	}
	return nil
}

// BuildLayout creates ROOT and the boot environment, mounts the boot
// environment under altRoot, then attempts every auxiliary dataset. Failures
// of auxiliaries are accumulated and returned together.
func (c Client) BuildLayout(ctx context.Context, l Layout, altRoot string) error {
	for _, d := range []Dataset{l.Root(), l.BootEnv()} {
		if err := c.CreateDataset(ctx, d); err != nil {
			return err
		}
	}
	if err := c.Mount(ctx, l.BootEnvName()); err != nil {
		return err
	}

	var result *multierror.Error
	for _, d := range l.Auxiliary() {
		if err := c.CreateDataset(ctx, d); err != nil {
			c.Log.Error().Err(err).Str("dataset", d.Name).Msg("dataset creation failed")
			result = multierror.Append(result, err)
			continue
		}
		if d.Mode != 0 {
			dir := filepath.Join(altRoot, d.Mountpoint)
			if err := os.Chmod(dir, d.Mode); err != nil {
				result = multierror.Append(result, fmt.Errorf("chmod %s: %w", dir, err))
			}
		}
		c.Log.Debug().Str("dataset", d.Name).Msg("dataset created")
	}
	return result.ErrorOrNil()
}

func (c Client) SetProperty(ctx context.Context, dataset, key, value string) error {
	if _, err := c.Run.Run(ctx, shell.New("zfs", "set", key+"="+value, dataset)); err != nil {
		return fmt.Errorf("zfs set %s on %s: %w", key, dataset, err)
	}
	return nil
}

func (c Client) SetBootFS(ctx context.Context, pool, dataset string) error {
	if _, err := c.Run.Run(ctx, shell.New("zpool", "set", "bootfs="+dataset, pool)); err != nil {
		return fmt.Errorf("zpool set bootfs on %s: %w", pool, err)
	}
	return nil
}

func (c Client) Export(ctx context.Context, pool string) error {
	if _, err := c.Run.Run(ctx, shell.New("zpool", "export", pool)); err != nil {
		return fmt.Errorf("zpool export %s: %w", pool, err)
	}
	return nil
}
