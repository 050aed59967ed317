package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// signTimeout bounds the signed-URL request; the authority targets
// sub-100ms responses, so anything slower than this is down.
const signTimeout = 10 * time.Second

// SignRequest asks the authority for a short-lived pre-authorized
// destination URL.
type SignRequest struct {
	CustomerID string `json:"customerId"`
	SessionID  string `json:"sessionId"`
	FileType   string `json:"fileType"`
}

// SignedURL is the authority's grant: where to PUT the bytes and how the
// artifact will be addressed afterwards.
type SignedURL struct {
	UploadID    string `json:"uploadId"`
	SignedURL   string `json:"signedUrl"`
	BlobPath    string `json:"blobPath"`
	PublicURL   string `json:"publicUrl"`
	ContentType string `json:"contentType"`
}

// ConfirmRequest reports a completed direct upload back to the authority.
type ConfirmRequest struct {
	UploadID   string `json:"uploadId"`
	BlobPath   string `json:"blobPath"`
	CustomerID string `json:"customerId"`
	SessionID  string `json:"sessionId"`
}

// Authority is an HTTP client for one signed-URL upload authority.
type Authority struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuthority creates an Authority targeting baseURL.
func NewAuthority(baseURL string) *Authority {
	return &Authority{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 0},
	}
}

// Sign requests a signed upload URL. A single request, no retry: a slow or
// failing authority is handled by the coordinator's fallback path.
func (a *Authority) Sign(ctx context.Context, req SignRequest) (SignedURL, error) {
	ctx, cancel := context.WithTimeout(ctx, signTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return SignedURL{}, fmt.Errorf("marshalling sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/upload/signed-url", bytes.NewReader(body))
	if err != nil {
		return SignedURL{}, fmt.Errorf("creating sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return SignedURL{}, fmt.Errorf("requesting signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SignedURL{}, fmt.Errorf("signed-url request: unexpected status %d", resp.StatusCode)
	}

	var grant SignedURL
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return SignedURL{}, fmt.Errorf("decoding signed url: %w", err)
	}
	if grant.SignedURL == "" {
		return SignedURL{}, fmt.Errorf("authority returned empty signed url")
	}
	return grant, nil
}

// Confirm reports the finished upload. Callers treat failures as non-fatal;
// the artifact is already durable after the direct PUT.
func (a *Authority) Confirm(ctx context.Context, req ConfirmRequest) error {
	ctx, cancel := context.WithTimeout(ctx, signTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling confirm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/upload/confirm", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating confirm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("confirming upload: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("confirm: unexpected status %d", resp.StatusCode)
	}
	return nil
}
