package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/khegiw/llamactl/internal/format"
)

// downloadChunk is the copy granularity; progress updates land between chunks.
const downloadChunk = 1 << 20

// Downloader fetches model artifacts over HTTP. An interrupted fetch leaves
// a .partial file next to the destination that the next run resumes from
// with a Range request.
type Downloader struct {
	HTTP *http.Client
	// Out receives progress lines; nil silences them.
	Out io.Writer
	Log zerolog.Logger
}

// NewDownloader reports progress on stderr. No client timeout: model files
// take as long as they take, cancellation comes from the context.
func NewDownloader(log zerolog.Logger) *Downloader {
	return &Downloader{HTTP: &http.Client{}, Out: os.Stderr, Log: log}
}

func (d *Downloader) client() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return http.DefaultClient
}

// Fetch downloads url into dest. The destination only appears once the
// download is complete and size-verified.
func (d *Downloader) Fetch(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	partial := dest + ".partial"
	var offset int64
	if fi, err := os.Stat(partial); err == nil {
		offset = fi.Size()
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", partial, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		d.Log.Info().Str("offset", format.HumanBytes(offset)).Msg("resuming download")
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			// server ignored the range request, start over
			d.Log.Warn().Str("url", url).Msg("server does not support resume, restarting")
			if err := os.Truncate(partial, 0); err != nil {
				return err
			}
			offset = 0
		}
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// nothing left to fetch, the partial file already holds everything
		return os.Rename(partial, dest)
	default:
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	out, err := os.OpenFile(partial, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	completed := offset
	var lastReport time.Time
	for {
		n, copyErr := io.CopyN(out, resp.Body, downloadChunk)
		completed += n
		if copyErr != nil || time.Since(lastReport) >= 200*time.Millisecond {
			d.report(completed, total)
			lastReport = time.Now()
		}
		if errors.Is(copyErr, io.EOF) {
			break
		}
		if copyErr != nil {
			out.Close()
			return fmt.Errorf("download %s: %w", url, copyErr)
		}
	}
	d.endReport()
	if err := out.Close(); err != nil {
		return err
	}
	if total >= 0 && completed != total {
		return fmt.Errorf("download %s: got %s of %s", url, format.HumanBytes(completed), format.HumanBytes(total))
	}
	if completed == 0 {
		return fmt.Errorf("download %s: empty response", url)
	}
	return os.Rename(partial, dest)
}

// FetchBytes downloads a small file (a signing key, a checksum) fully into
// memory.
func (d *Downloader) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return b, nil
}

func (d *Downloader) report(completed, total int64) {
	if d.Out == nil {
		return
	}
	if total > 0 {
		pct := completed * 100 / total
		fmt.Fprintf(d.Out, "\r%3d%%  %s / %s   ", pct, format.HumanBytes(completed), format.HumanBytes(total))
		return
	}
	fmt.Fprintf(d.Out, "\r%s   ", format.HumanBytes(completed))
}

func (d *Downloader) endReport() {
	if d.Out != nil {
		fmt.Fprintln(d.Out)
	}
}
