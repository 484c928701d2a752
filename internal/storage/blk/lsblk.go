package blk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

var (
	ErrNotFound = errors.New("lsblk returned no device")
	ErrNotDisk  = errors.New("not a whole disk")
)

var columns = "NAME,KNAME,PATH,SIZE,ROTA,TYPE,TRAN,MODEL,SERIAL,MOUNTPOINT,FSTYPE,RM"

// Inspect runs lsblk for path and returns the device with its partitions.
func Inspect(ctx context.Context, r shell.Runner, path string) (Device, error) {
	res, err := r.Run(ctx, shell.New("lsblk", "--bytes", "--json", "-o", columns, path).WithTimeout(5*time.Second))
	if err != nil {
		return Device{}, err
	}
	return parse(res.Stdout)
}

// InspectDisk is Inspect plus a check that path is a whole disk.
func InspectDisk(ctx context.Context, r shell.Runner, path string) (Device, error) {
	d, err := Inspect(ctx, r, path)
	if err != nil {
		return d, err
	}
	if d.Type != "disk" {
		return d, fmt.Errorf("%w: %s is %q", ErrNotDisk, path, d.Type)
	}
	return d, nil
}

func parse(b []byte) (Device, error) {
	var tree rawTree
	if err := json.Unmarshal(b, &tree); err != nil {
		return Device{}, fmt.Errorf("lsblk json: %w", err)
	}
	if len(tree.Blockdevices) == 0 {
		return Device{}, ErrNotFound
	}
	return convert(tree.Blockdevices[0]), nil
}

func convert(n rawDevice) Device {
	d := Device{
		Name:      n.Name,
		Path:      firstNonEmpty(n.Path, "/dev/"+n.Name),
		SizeBytes: normalizeSize(n.Size),
		Model:     strings.TrimSpace(n.Model),
		Serial:    n.Serial,
		Tran:      n.Tran,
		Rota:      n.Rota,
		Removable: n.RM,
		Type:      n.Type,
		FSType:    n.FSType,
	}
	if n.Mountpoint != nil {
		d.Mountpoint = *n.Mountpoint
	}
	for _, c := range n.Children {
		d.Children = append(d.Children, convert(c))
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeSize(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case json.Number:
		n, _ := t.Int64()
		if n < 0 {
			return 0
		}
		return uint64(n)
	case string:
		// older util-linux prints sizes as strings even with --bytes
		var n uint64
		if _, err := fmt.Sscan(t, &n); err == nil {
			return n
		}
		return 0
	default:
		return 0
	}
}
