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

const telegramAPIBase = "https://api.telegram.org"

// TelegramAdapter sends messages through the Telegram Bot API.
type TelegramAdapter struct {
	token string
	http  *http.Client
	log   *logger.Logger
}

type telegramSendMessage struct {
	ChatID      string                `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *telegramInlineMarkup `json:"reply_markup,omitempty"`
}

type telegramSendPhoto struct {
	ChatID  string `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

type telegramInlineMarkup struct {
	InlineKeyboard [][]telegramInlineButton `json:"inline_keyboard"`
}

type telegramInlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type telegramAPIResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type telegramFile struct {
	FilePath string `json:"file_path"`
}

func NewTelegramAdapter(cfg config.ChannelConfig, log *logger.Logger) *TelegramAdapter {
	if cfg.GetTelegramBotToken() == "" {
		return nil
	}

	return &TelegramAdapter{
		token: cfg.GetTelegramBotToken(),
		http:  &http.Client{Timeout: 10 * time.Second},
		log:   log,
	}
}

func (a *TelegramAdapter) Name() string { return ChannelTelegram }

func (a *TelegramAdapter) SendMessage(ctx context.Context, channelUserID, content string, media *Media) error {
	if media != nil {
		return a.call(ctx, "sendPhoto", telegramSendPhoto{
			ChatID:  channelUserID,
			Photo:   media.URL,
			Caption: content,
		}, nil)
	}

	return a.call(ctx, "sendMessage", telegramSendMessage{
		ChatID: channelUserID,
		Text:   content,
	}, nil)
}

// SendConsentPrompt renders the consent ask with an inline link button,
// which Telegram supports natively.
func (a *TelegramAdapter) SendConsentPrompt(ctx context.Context, channelUserID, language, consentLinkURL string) error {
	msg := telegramSendMessage{
		ChatID: channelUserID,
		Text:   consentPromptText(language, consentLinkURL),
	}
	if consentLinkURL != "" {
		msg.ReplyMarkup = &telegramInlineMarkup{
			InlineKeyboard: [][]telegramInlineButton{
				{{Text: buttonLabel(language, "consent"), URL: consentLinkURL}},
			},
		}
	}
	return a.call(ctx, "sendMessage", msg, nil)
}

func (a *TelegramAdapter) SendFlowSelectionPrompt(ctx context.Context, channelUserID, language, formURL string) error {
	msg := telegramSendMessage{
		ChatID: channelUserID,
		Text:   flowPromptText(language, formURL),
	}
	if formURL != "" {
		msg.ReplyMarkup = &telegramInlineMarkup{
			InlineKeyboard: [][]telegramInlineButton{
				{{Text: buttonLabel(language, "form"), URL: formURL}},
			},
		}
	}
	return a.call(ctx, "sendMessage", msg, nil)
}

// DownloadMedia resolves a Telegram file id to a file path and fetches it.
func (a *TelegramAdapter) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	var file telegramFile
	if err := a.call(ctx, "getFile", map[string]string{"file_id": mediaID}, &file); err != nil {
		return nil, "", err
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("telegram getFile returned empty path for %s", mediaID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", telegramAPIBase, a.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram file download failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("telegram file download returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (a *TelegramAdapter) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", telegramAPIBase, a.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var apiResp telegramAPIResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram %s failed: %s", method, strings.TrimSpace(apiResp.Description))
	}

	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("decode telegram result: %w", err)
		}
	}
	return nil
}

func buttonLabel(language, kind string) string {
	switch language {
	case "tr":
		if kind == "consent" {
			return "Onay formu"
		}
		return "Formu aç"
	case "de":
		if kind == "consent" {
			return "Einwilligung"
		}
		return "Formular öffnen"
	default:
		if kind == "consent" {
			return "Consent form"
		}
		return "Open form"
	}
}
