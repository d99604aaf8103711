package detect

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"sherlock/video"
)

// InferenceClient communicates with the Python model-serving sidecar. The
// sidecar owns model loading and the forward pass; this client only ships
// frame tensors across and reads back per-frame scores.
type InferenceClient struct {
	serviceURL string
	client     *http.Client
}

// scoreResponse is the sidecar's reply for one batch.
type scoreResponse struct {
	Scores []Score `json:"scores"`
}

// NewInferenceClient creates a client for the model-serving service.
func NewInferenceClient(serviceURL string) *InferenceClient {
	if serviceURL == "" {
		serviceURL = "http://localhost:5001"
	}

	return &InferenceClient{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// HealthCheck verifies the model-serving service is running.
func (ic *InferenceClient) HealthCheck() error {
	resp, err := ic.client.Get(ic.serviceURL + "/health")
	if err != nil {
		return fmt.Errorf("inference service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// Score posts a batch of frames to the sidecar and returns one score per
// frame, in input order. Frames are shipped as a single raw float32
// little-endian tensor part plus shape fields.
func (ic *InferenceClient) Score(ctx context.Context, modelID string, frames []video.Frame) ([]Score, error) {
	if len(frames) == 0 {
		return []Score{}, nil
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"model":  modelID,
		"count":  strconv.Itoa(len(frames)),
		"width":  strconv.Itoa(frames[0].Width),
		"height": strconv.Itoa(frames[0].Height),
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}

	part, err := writer.CreateFormFile("frames", "frames.f32")
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor part: %w", err)
	}

	raw := make([]byte, 4)
	for _, frame := range frames {
		for _, value := range frame.Pixels {
			binary.LittleEndian.PutUint32(raw, math.Float32bits(value))
			if _, err := part.Write(raw); err != nil {
				return nil, fmt.Errorf("failed to write tensor data: %w", err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ic.serviceURL+"/score", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build score request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := ic.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode score response: %w", err)
	}
	if len(decoded.Scores) != len(frames) {
		return nil, fmt.Errorf("inference service returned %d scores for %d frames", len(decoded.Scores), len(frames))
	}

	return decoded.Scores, nil
}
