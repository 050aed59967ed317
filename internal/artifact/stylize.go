package artifact

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
)

// multipartBoundary is fixed so that equal payloads serialize identically
// and concurrent duplicate stylize calls collapse onto one request.
const multipartBoundary = "pawkit-artifact-boundary"

// Stylize uploads image bytes plus an effects selector and returns the
// decoded artifacts. The call is deduplicated while in flight but never
// cached: stylization is treated as a mutating operation.
func (c *Client) Stylize(ctx context.Context, filename string, image []byte, effects []string) (Set, error) {
	if len(image) == 0 {
		return Set{}, fmt.Errorf("stylize: empty image")
	}
	if len(effects) == 0 {
		return Set{}, fmt.Errorf("stylize: no effects requested")
	}

	body, contentType, err := buildStylizeBody(filename, image, effects)
	if err != nil {
		return Set{}, err
	}

	resp, err := c.call(ctx, "/process", RequestOptions{
		Method:      http.MethodPost,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		return Set{}, err
	}

	set, err := Decode(resp.contentType, resp.body, effects[0])
	if err != nil {
		return Set{}, fmt.Errorf("stylize: %w", err)
	}
	return set, nil
}

func buildStylizeBody(filename string, image []byte, effects []string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(multipartBoundary); err != nil {
		return nil, "", fmt.Errorf("setting boundary: %w", err)
	}

	if filename == "" {
		filename = "photo.jpg"
	}
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", fmt.Errorf("creating image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", fmt.Errorf("writing image part: %w", err)
	}

	if err := w.WriteField("effects", strings.Join(effects, ",")); err != nil {
		return nil, "", fmt.Errorf("writing effects field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing multipart body: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}
