package zfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/master-of-zen/alpine-autoinstall/pkg/validate"
)

// PoolSpec models the encrypted single-device pool created on the ZFS partition.
type PoolSpec struct {
	Name        string `json:"name" yaml:"name"`
	Device      string `json:"device" yaml:"device"`
	AltRoot     string `json:"altroot" yaml:"altroot"`
	Compression string `json:"compression" yaml:"compression"`
	Encryption  string `json:"encryption" yaml:"encryption"`
	KeyFormat   string `json:"keyformat" yaml:"keyformat"`
	KeyLocation string `json:"keylocation" yaml:"keylocation"`
}

var (
	ErrNoDevice              = errors.New("pool device required")
	ErrNoAltRoot             = errors.New("altroot must be an absolute path")
	ErrUnsupportedCompress   = errors.New("unsupported compression")
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
	ErrUnsupportedKeyFormat  = errors.New("unsupported keyformat")
	ErrUnsupportedKeyLoc     = errors.New("unsupported keylocation")
)

var (
	compressions = map[string]bool{"on": true, "off": true, "lz4": true, "zstd": true, "gzip": true, "lzjb": true, "zle": true}
	encryptions  = map[string]bool{"on": true, "aes-128-ccm": true, "aes-192-ccm": true, "aes-256-ccm": true, "aes-128-gcm": true, "aes-192-gcm": true, "aes-256-gcm": true}
	keyFormats   = map[string]bool{"passphrase": true, "hex": true, "raw": true}
)

// ValidateSpec normalizes and validates a pool definition, returning a copy with
// defaults applied.
func ValidateSpec(in PoolSpec) (PoolSpec, error) {
	sp := in
	sp.Name = strings.TrimSpace(sp.Name)
	sp.Device = strings.TrimSpace(sp.Device)
	sp.Compression = strings.ToLower(strings.TrimSpace(sp.Compression))
	sp.Encryption = strings.ToLower(strings.TrimSpace(sp.Encryption))
	sp.KeyFormat = strings.ToLower(strings.TrimSpace(sp.KeyFormat))
	sp.KeyLocation = strings.TrimSpace(sp.KeyLocation)

	if err := validate.ZFSName(sp.Name); err != nil {
		return sp, fmt.Errorf("pool %q: %w", sp.Name, err)
	}
	if sp.Device == "" {
		return sp, ErrNoDevice
	}
	if !strings.HasPrefix(sp.AltRoot, "/") {
		return sp, ErrNoAltRoot
	}

	if sp.Compression == "" {
		sp.Compression = "zstd"
	}
	if sp.Encryption == "" {
		sp.Encryption = "aes-256-gcm"
	}
	if sp.KeyFormat == "" {
		sp.KeyFormat = "passphrase"
	}
	if sp.KeyLocation == "" {
		sp.KeyLocation = "prompt"
	}

	// zstd-N and gzip-N levels
	base := sp.Compression
	if i := strings.IndexByte(base, '-'); i > 0 {
		base = base[:i]
	}
	if !compressions[base] {
		return sp, fmt.Errorf("%w: %s", ErrUnsupportedCompress, sp.Compression)
	}
	if !encryptions[sp.Encryption] {
		return sp, fmt.Errorf("%w: %s", ErrUnsupportedEncryption, sp.Encryption)
	}
	if !keyFormats[sp.KeyFormat] {
		return sp, fmt.Errorf("%w: %s", ErrUnsupportedKeyFormat, sp.KeyFormat)
	}
	if sp.KeyLocation != "prompt" && !strings.HasPrefix(sp.KeyLocation, "file://") && !strings.HasPrefix(sp.KeyLocation, "https://") {
		return sp, fmt.Errorf("%w: %s", ErrUnsupportedKeyLoc, sp.KeyLocation)
	}
	return sp, nil
}

// Interactive reports whether creating the pool will prompt for the key.
func (sp PoolSpec) Interactive() bool { return sp.KeyLocation == "prompt" }
