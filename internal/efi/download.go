package efi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

var ErrHTTPStatus = errors.New("unexpected HTTP status")

// Downloader fetches the boot manager image with retries.
type Downloader struct {
	Client *retryablehttp.Client
	Log    zerolog.Logger
	// Progress, when set, receives a byte progress bar.
	Progress io.Writer
}

// NewDownloader returns a Downloader retrying up to four times with
// exponential backoff, logging retries through log.
func NewDownloader(log zerolog.Logger, progress io.Writer) *Downloader {
	c := retryablehttp.NewClient()
	c.RetryMax = 4
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 8 * time.Second
	c.HTTPClient.Timeout = 5 * time.Minute
	c.Logger = leveled{log}
	return &Downloader{Client: c, Log: log, Progress: progress}
}

// Fetch downloads url into dest through a temp file and returns the number
// of bytes written.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: %w: %s", url, ErrHTTPStatus, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp := dest + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	var w io.Writer = f
	if d.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(d.Progress),
			progressbar.OptionSetDescription("Downloading "+filepath.Base(dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Close()
		w = io.MultiWriter(f, bar)
	}
	n, err := io.Copy(w, resp.Body)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, dest)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	d.Log.Info().Str("url", url).Str("dest", dest).Int64("bytes", n).Msg("boot manager downloaded")
	return n, nil
}

// leveled adapts zerolog to retryablehttp.LeveledLogger.
type leveled struct{ log zerolog.Logger }

func fields(kv []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

func (l leveled) Error(msg string, kv ...interface{}) { l.log.Error().Fields(fields(kv)).Msg(msg) }
func (l leveled) Info(msg string, kv ...interface{})  { l.log.Info().Fields(fields(kv)).Msg(msg) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(fields(kv)).Msg(msg) }

// Debug promotes retry notices so they reach the console.
func (l leveled) Debug(msg string, kv ...interface{}) {
	if strings.Contains(msg, "retrying") {
		l.log.Warn().Fields(fields(kv)).Msg(msg)
		return
	}
	l.log.Debug().Fields(fields(kv)).Msg(msg)
}
