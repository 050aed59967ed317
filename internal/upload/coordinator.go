// Package upload implements the three-step signed-URL upload protocol:
// acquire a signed URL from an authority, PUT the bytes directly to the
// authorized destination, then send a best-effort confirmation.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// putTimeout is generous: payloads can be several MB over residential links.
const putTimeout = 60 * time.Second

// ProgressFunc receives cumulative transfer progress during the direct PUT.
type ProgressFunc func(sentBytes, totalBytes int)

// Request is one photo upload.
type Request struct {
	CustomerID string
	SessionID  string
	FileType   string
	Data       []byte
	OnProgress ProgressFunc // optional
}

// Result identifies the stored artifact.
type Result struct {
	UploadID  string
	BlobPath  string
	PublicURL string
	// Fallback is true when the primary authority failed and the upload
	// went through the configured fallback.
	Fallback bool
}

// Coordinator drives the upload protocol against a primary authority with an
// optional fallback. Failure of step 1 or 2 on the primary transparently
// retries the whole protocol through the fallback; confirmation failures
// never fail the upload.
type Coordinator struct {
	primary    *Authority
	fallback   *Authority // may be nil
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCoordinator creates a Coordinator. fallback may be nil.
func NewCoordinator(primary, fallback *Authority) *Coordinator {
	return &Coordinator{
		primary:    primary,
		fallback:   fallback,
		httpClient: &http.Client{Timeout: 0},
		logger:     slog.Default(),
	}
}

// Upload runs the full protocol. The steps are not independently
// cancellable beyond ctx; once the PUT starts it runs to completion or to
// its own timeout.
func (c *Coordinator) Upload(ctx context.Context, req Request) (Result, error) {
	if len(req.Data) == 0 {
		return Result{}, fmt.Errorf("upload: empty payload")
	}

	res, err := c.uploadVia(ctx, c.primary, req)
	if err == nil {
		return res, nil
	}
	if c.fallback == nil {
		return Result{}, err
	}

	c.logger.Warn("primary upload authority failed, retrying via fallback", "error", err)
	res, fbErr := c.uploadVia(ctx, c.fallback, req)
	if fbErr != nil {
		return Result{}, fmt.Errorf("fallback upload failed: %w (primary: %v)", fbErr, err)
	}
	res.Fallback = true
	return res, nil
}

func (c *Coordinator) uploadVia(ctx context.Context, authority *Authority, req Request) (Result, error) {
	grant, err := authority.Sign(ctx, SignRequest{
		CustomerID: req.CustomerID,
		SessionID:  req.SessionID,
		FileType:   req.FileType,
	})
	if err != nil {
		return Result{}, err
	}

	if err := c.put(ctx, grant, req); err != nil {
		return Result{}, err
	}

	// Best-effort: the artifact is durable after the PUT, so a failed
	// confirmation is logged and swallowed.
	if err := authority.Confirm(ctx, ConfirmRequest{
		UploadID:   grant.UploadID,
		BlobPath:   grant.BlobPath,
		CustomerID: req.CustomerID,
		SessionID:  req.SessionID,
	}); err != nil {
		c.logger.Warn("upload confirmation failed",
			"upload_id", grant.UploadID, "error", err)
	}

	return Result{
		UploadID:  grant.UploadID,
		BlobPath:  grant.BlobPath,
		PublicURL: grant.PublicURL,
	}, nil
}

// put transfers the raw bytes directly to the signed destination.
func (c *Coordinator) put(ctx context.Context, grant SignedURL, req Request) error {
	ctx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()

	var body io.Reader = bytes.NewReader(req.Data)
	if req.OnProgress != nil {
		body = &progressReader{
			r:     body,
			total: len(req.Data),
			fn:    req.OnProgress,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, grant.SignedURL, body)
	if err != nil {
		return fmt.Errorf("creating put request: %w", err)
	}
	httpReq.ContentLength = int64(len(req.Data))
	if grant.ContentType != "" {
		httpReq.Header.Set("Content-Type", grant.ContentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("uploading to signed url: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("signed upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// progressReader reports cumulative bytes read to a callback.
type progressReader struct {
	r     io.Reader
	sent  int
	total int
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += n
		p.fn(p.sent, p.total)
	}
	return n, err
}
