package bootcfg

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/master-of-zen/alpine-autoinstall/internal/fsatomic"
)

var ErrNoKeys = errors.New("no public keys in key file")

// ReadAuthorizedKeys parses every key in an authorized_keys style file and
// returns them in canonical one-line form with their comments.
func ReadAuthorizedKeys(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys []string
	rest := b
	for len(bytes.TrimSpace(rest)) > 0 {
		pub, comment, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
		if comment != "" {
			line += " " + comment
		}
		keys = append(keys, line)
		rest = next
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoKeys)
	}
	return keys, nil
}

// InstallAuthorizedKeys appends keys to root/.ssh/authorized_keys in the
// target, skipping keys already present. The directory is 0700 and the file
// 0600. It returns the number of keys added.
func InstallAuthorizedKeys(root string, keys []string) (int, error) {
	dir := target(root, "root/.ssh")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return 0, err
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return 0, err
	}
	path := filepath.Join(dir, "authorized_keys")
	have := map[string]bool{}
	if b, err := os.ReadFile(path); err == nil {
		for _, ln := range strings.Split(string(b), "\n") {
			if pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(ln)); err == nil {
				have[string(pub.Marshal())] = true
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	added := 0
	for _, k := range keys {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k))
		if err != nil {
			return added, err
		}
		if have[string(pub.Marshal())] {
			continue
		}
		if err := fsatomic.Append(path, k, 0o600); err != nil {
			return added, err
		}
		have[string(pub.Marshal())] = true
		added++
	}
	return added, nil
}
