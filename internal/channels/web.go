package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
)

// WebAdapter pushes replies back to the website chat widget gateway. The
// gateway keeps the websocket/SSE session per visitor; we only deliver.
type WebAdapter struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type webPushRequest struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Media     *webMedia `json:"media,omitempty"`
	Kind      string    `json:"kind,omitempty"` // "message", "consent_prompt", "flow_prompt"
	LinkURL   string    `json:"link_url,omitempty"`
}

type webMedia struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

func NewWebAdapter(cfg config.ChannelConfig, log *logger.Logger) *WebAdapter {
	if cfg.GetWebChannelURL() == "" {
		return nil
	}

	return &WebAdapter{
		baseURL: strings.TrimRight(cfg.GetWebChannelURL(), "/"),
		apiKey:  cfg.GetWebChannelKey(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (a *WebAdapter) Name() string { return ChannelWeb }

func (a *WebAdapter) SendMessage(ctx context.Context, channelUserID, content string, media *Media) error {
	payload := webPushRequest{
		SessionID: channelUserID,
		Text:      content,
		Kind:      "message",
	}
	if media != nil {
		payload.Media = &webMedia{URL: media.URL, ContentType: media.ContentType}
	}
	return a.push(ctx, payload)
}

func (a *WebAdapter) SendConsentPrompt(ctx context.Context, channelUserID, language, consentLinkURL string) error {
	return a.push(ctx, webPushRequest{
		SessionID: channelUserID,
		Text:      consentPromptText(language, consentLinkURL),
		Kind:      "consent_prompt",
		LinkURL:   consentLinkURL,
	})
}

func (a *WebAdapter) SendFlowSelectionPrompt(ctx context.Context, channelUserID, language, formURL string) error {
	return a.push(ctx, webPushRequest{
		SessionID: channelUserID,
		Text:      flowPromptText(language, formURL),
		Kind:      "flow_prompt",
		LinkURL:   formURL,
	})
}

// DownloadMedia fetches an upload the widget already stored on the gateway.
func (a *WebAdapter) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	url := fmt.Sprintf("%s/uploads/%s", a.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("web upload download failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("web upload download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (a *WebAdapter) push(ctx context.Context, payload webPushRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal web payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/push", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-API-Key", a.apiKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("web push failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("web gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return nil
}
