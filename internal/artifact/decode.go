package artifact

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the wire shape of a stylization response.
type Kind string

const (
	// KindJSON is a JSON map of effect name to encoded image payload.
	KindJSON Kind = "json"
	// KindBinary is a single raw image body.
	KindBinary Kind = "binary"
)

// Set is the normalized result of a stylization call: named artifacts
// regardless of whether the service answered with JSON or raw bytes.
type Set struct {
	Kind      Kind
	Artifacts map[string][]byte // effect name -> decoded image bytes
}

// jsonEnvelope tolerates both the bare map shape and the {"images": {...}}
// wrapper the service has been observed to produce.
type jsonEnvelope struct {
	Images map[string]string `json:"images"`
}

// Decode turns a stylization response into a Set. JSON responses carry a map
// of effect name to base64 payload (optionally as data: URLs); any other
// content type is treated as a single binary image stored under defaultName.
func Decode(contentType string, body []byte, defaultName string) (Set, error) {
	if strings.Contains(contentType, "application/json") {
		return decodeJSON(body)
	}

	if len(body) == 0 {
		return Set{}, fmt.Errorf("empty binary response")
	}
	if defaultName == "" {
		defaultName = "original"
	}
	return Set{
		Kind:      KindBinary,
		Artifacts: map[string][]byte{defaultName: body},
	}, nil
}

func decodeJSON(body []byte) (Set, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Images) > 0 {
		return decodePayloads(env.Images)
	}

	var bare map[string]string
	if err := json.Unmarshal(body, &bare); err != nil {
		return Set{}, fmt.Errorf("decoding artifact JSON: %w", err)
	}
	if len(bare) == 0 {
		return Set{}, fmt.Errorf("artifact JSON contains no images")
	}
	return decodePayloads(bare)
}

func decodePayloads(payloads map[string]string) (Set, error) {
	artifacts := make(map[string][]byte, len(payloads))
	for name, payload := range payloads {
		data, err := decodeImagePayload(payload)
		if err != nil {
			return Set{}, fmt.Errorf("decoding artifact %q: %w", name, err)
		}
		artifacts[name] = data
	}
	return Set{Kind: KindJSON, Artifacts: artifacts}, nil
}

// decodeImagePayload accepts a base64 string, optionally wrapped as a
// data: URL ("data:image/png;base64,....").
func decodeImagePayload(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		_, after, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("malformed data URL")
		}
		payload = after
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return data, nil
}
