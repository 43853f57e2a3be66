package channels

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
	"clinic_funnel_backend/platform/phone"
)

// WhatsAppAdapter talks to a gowa-compatible WhatsApp HTTP bridge.
type WhatsAppAdapter struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *logger.Logger
}

type gowaSendRequest struct {
	Phone    string `json:"phone"`
	Message  string `json:"message"`
	ImageURL string `json:"image_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

func NewWhatsAppAdapter(cfg config.ChannelConfig, log *logger.Logger) *WhatsAppAdapter {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &WhatsAppAdapter{
		baseURL: strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:  cfg.GetWhatsAppKey(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (a *WhatsAppAdapter) Name() string { return ChannelWhatsApp }

func (a *WhatsAppAdapter) SendMessage(ctx context.Context, channelUserID, content string, media *Media) error {
	normalized := strings.TrimPrefix(phone.NormalizeE164(channelUserID), "+")

	payload := gowaSendRequest{
		Phone:   normalized,
		Message: content,
	}
	endpoint := "/send/message"
	if media != nil {
		endpoint = "/send/image"
		payload.ImageURL = media.URL
		payload.Caption = media.Caption
		if payload.Caption == "" {
			payload.Caption = content
		}
	}

	return a.post(ctx, endpoint, payload)
}

func (a *WhatsAppAdapter) SendConsentPrompt(ctx context.Context, channelUserID, language, consentLinkURL string) error {
	return a.SendMessage(ctx, channelUserID, consentPromptText(language, consentLinkURL), nil)
}

func (a *WhatsAppAdapter) SendFlowSelectionPrompt(ctx context.Context, channelUserID, language, formURL string) error {
	return a.SendMessage(ctx, channelUserID, flowPromptText(language, formURL), nil)
}

// DownloadMedia fetches media bytes from the bridge by its media id.
func (a *WhatsAppAdapter) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	url := fmt.Sprintf("%s/media/%s", a.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	a.setAuth(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp media download failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("whatsapp media download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (a *WhatsAppAdapter) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+endpoint, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	a.setAuth(req)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return nil
}

func (a *WhatsAppAdapter) setAuth(req *http.Request) {
	if a.apiKey == "" {
		return
	}
	if strings.HasPrefix(strings.ToLower(a.apiKey), "basic ") {
		req.Header.Set("Authorization", a.apiKey)
		return
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(a.apiKey))
	req.Header.Set("Authorization", "Basic "+encoded)
}
