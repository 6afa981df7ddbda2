package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// Detection is one face found in a frame: its embedding and bounding box
// as [x1, y1, x2, y2].
type Detection struct {
	Embedding []float32 `json:"embedding"`
	Box       [4]int    `json:"box"`
	Score     float64   `json:"score"`
}

// Recognizer abstracts the face model: detect faces in an image and compare
// two embeddings. The production implementation is an HTTP microservice.
type Recognizer interface {
	DetectAndEmbed(ctx context.Context, image []byte) ([]Detection, error)
	Compare(ctx context.Context, a, b []float32) (float64, error)
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip enables a deterministic mock for dev setups
// without the face service running.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// DetectAndEmbed sends a frame and returns the detected faces with
// embeddings.
func (c *Client) DetectAndEmbed(ctx context.Context, image []byte) ([]Detection, error) {
	if c.Skip {
		return []Detection{{
			Embedding: []float32{0.1, 0.2, 0.3},
			Box:       [4]int{40, 40, 240, 240},
			Score:     0.95,
		}}, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}

	body, _ := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Faces []Detection `json:"faces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Faces, nil
}

// Compare returns the cosine similarity of two embeddings. Computed locally;
// the model service is only needed for detection.
func (c *Client) Compare(_ context.Context, a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("embeddings must be non-empty and of equal length")
	}
	return Cosine(a, b), nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

// Cosine computes cosine similarity between two vectors, clamped to [-1, 1].
// Mismatched or zero vectors score -1 (maximally dissimilar).
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}
