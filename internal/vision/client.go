// Package vision calls the external photo analysis service that classifies
// scalp photos into slots and grades their quality.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
)

// Analysis is the verdict for a single photo.
type Analysis struct {
	Slot         string   `json:"slot"` // "front", "top", "back", "left", "right", "unknown"
	Confidence   float64  `json:"confidence"`
	QualityScore float64  `json:"quality_score"`
	Usable       bool     `json:"usable"`
	Issues       []string `json:"issues"`
	Fallback     bool     `json:"-"`
}

// Client talks to the vision service over HTTP. A zero baseURL means vision
// is disabled and every photo passes with an unknown slot.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(cfg config.VisionConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.GetVisionURL(), "/"),
		apiKey:  cfg.GetVisionAPIKey(),
		http:    &http.Client{Timeout: 20 * time.Second},
		log:     log,
	}
}

type analyzeRequest struct {
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
}

// AnalyzePhoto classifies one photo. Vision failures never block photo
// intake: the fallback accepts the photo with an unknown slot so a human
// or the QA step can sort it out later.
func (c *Client) AnalyzePhoto(ctx context.Context, data []byte, contentType string) Analysis {
	if c.baseURL == "" {
		return fallbackAnalysis()
	}

	body, err := json.Marshal(analyzeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	})
	if err != nil {
		c.log.ExternalCallFailed("vision", "marshal", err)
		return fallbackAnalysis()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewBuffer(body))
	if err != nil {
		c.log.ExternalCallFailed("vision", "build_request", err)
		return fallbackAnalysis()
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.ExternalCallFailed("vision", "analyze", err)
		return fallbackAnalysis()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		c.log.ExternalCallFailed("vision", "analyze", fmt.Errorf("vision returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
		return fallbackAnalysis()
	}

	var analysis Analysis
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		c.log.ExternalCallFailed("vision", "decode", err)
		return fallbackAnalysis()
	}

	if analysis.Slot == "" {
		analysis.Slot = "unknown"
	}
	return analysis
}

func fallbackAnalysis() Analysis {
	return Analysis{
		Slot:     "unknown",
		Usable:   true,
		Fallback: true,
	}
}
