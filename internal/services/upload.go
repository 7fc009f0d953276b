package services

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/detectx/internal/models"
	"github.com/desertthunder/detectx/internal/shared"
)

const defaultMimeType = "application/octet-stream"

// Uploader implements [Transport] with a single HTTP PUT to the presigned destination.
type Uploader struct {
	httpClient *http.Client
	logger     *log.Logger
}

// NewUploader creates an Uploader. The client should not carry a short timeout: uploads may run for minutes.
func NewUploader(client *http.Client, logger *log.Logger) *Uploader {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Uploader{httpClient: client, logger: logger}
}

// Upload streams the asset's file to cred.DestinationURL.
//
// Progress starts at 0, never decreases, stays at or below 99 while bytes are in flight and is
// reported as exactly 100 once the destination acknowledges with a 2xx status.
func (u *Uploader) Upload(ctx context.Context, cred *models.UploadCredential, asset *models.FileAsset, onProgress ProgressFunc) error {
	if cred == nil || cred.DestinationURL == "" {
		return shared.NewPreconditionError("upload", "no upload credential")
	}
	if asset == nil || asset.Path == "" {
		return shared.NewPreconditionError("upload", "no file selected")
	}

	f, err := os.Open(asset.Path)
	if err != nil {
		return &shared.TransportError{Err: fmt.Errorf("failed to open %s: %w", asset.Path, err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &shared.TransportError{Err: fmt.Errorf("failed to stat %s: %w", asset.Path, err)}
	}
	size := info.Size()

	tracker := newProgressTracker(size, onProgress)
	tracker.report(0)

	var body io.Reader = http.NoBody
	if size > 0 {
		body = &progressReader{r: f, tracker: tracker}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, cred.DestinationURL, body)
	if err != nil {
		return &shared.TransportError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.ContentLength = size

	contentType := asset.MimeType
	if contentType == "" {
		contentType = defaultMimeType
	}
	req.Header.Set("Content-Type", contentType)

	u.logger.Debug("uploading asset", "file", asset.Name, "bytes", size, "key", cred.ObjectKey)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return &shared.TransportError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Warn("destination rejected upload", "status", resp.StatusCode, "key", cred.ObjectKey)
		return &shared.TransportError{StatusCode: resp.StatusCode}
	}

	tracker.report(100)
	u.logger.Info("upload complete", "file", asset.Name, "bytes", size)
	return nil
}

// progressTracker converts byte counts into non-decreasing whole percentages.
type progressTracker struct {
	mu    sync.Mutex
	total int64
	sent  int64
	last  int
	fn    ProgressFunc
}

func newProgressTracker(total int64, fn ProgressFunc) *progressTracker {
	return &progressTracker{total: total, last: -1, fn: fn}
}

// add records n more bytes sent. In-flight progress is capped at 99.
func (p *progressTracker) add(n int) {
	p.mu.Lock()
	p.sent += int64(n)
	pct := 0
	if p.total > 0 {
		pct = int(math.Round(float64(p.sent) / float64(p.total) * 100))
	}
	p.mu.Unlock()

	p.report(min(pct, 99))
}

func (p *progressTracker) report(pct int) {
	p.mu.Lock()
	if pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = pct
	fn := p.fn
	p.mu.Unlock()

	if fn != nil {
		fn(pct)
	}
}

type progressReader struct {
	r       io.Reader
	tracker *progressTracker
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.tracker.add(n)
	}
	return n, err
}
