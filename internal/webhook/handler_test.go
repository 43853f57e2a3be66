package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"clinic_funnel_backend/internal/leads/ingest"
	"clinic_funnel_backend/platform/logger"
	"clinic_funnel_backend/platform/validator"
)

const testAPIKey = "test-webhook-key"

type fakePipeline struct {
	mu       sync.Mutex
	messages []ingest.InboundMessage
}

func (f *fakePipeline) Process(_ context.Context, msg ingest.InboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

type testWebhookConfig struct{ key string }

func (c testWebhookConfig) GetWebhookAPIKey() string { return c.key }

type testHTTPConfig struct{}

func (testHTTPConfig) GetHTTPAddr() string      { return ":0" }
func (testHTTPConfig) GetCORSOrigins() []string { return []string{"https://clinic.test"} }

func newTestRouter(pipeline *fakePipeline) *gin.Engine {
	handler := NewHandler(pipeline, validator.New())
	return NewRouter(handler, testWebhookConfig{key: testAPIKey}, testHTTPConfig{}, logger.New("test"))
}

func post(router *gin.Engine, path, apiKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Webhook-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMissingAPIKeyIsRejected(t *testing.T) {
	router := newTestRouter(&fakePipeline{})
	rec := post(router, "/api/v1/webhook/web", "", `{"sessionId":"s1","messageId":"m1","text":"hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWrongAPIKeyIsRejected(t *testing.T) {
	router := newTestRouter(&fakePipeline{})
	rec := post(router, "/api/v1/webhook/web", "nope", `{"sessionId":"s1","messageId":"m1","text":"hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthzNeedsNoKey(t *testing.T) {
	router := newTestRouter(&fakePipeline{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTelegramUpdateMapsToInboundMessage(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(pipeline)

	body := `{
		"update_id": 9001,
		"message": {
			"message_id": 77,
			"from": {"id": 5, "first_name": "Ali", "last_name": "Demir", "language_code": "tr"},
			"chat": {"id": 123456},
			"text": "Merhaba"
		}
	}`
	rec := post(router, "/api/v1/webhook/telegram", testAPIKey, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if len(pipeline.messages) != 1 {
		t.Fatalf("messages = %d", len(pipeline.messages))
	}
	msg := pipeline.messages[0]
	if msg.Channel != "telegram" || msg.ChannelUserID != "123456" || msg.ChannelMessageID != "77" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Content != "Merhaba" || msg.Language != "tr" || msg.SenderName != "Ali Demir" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestTelegramPhotoPicksLargestResolution(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(pipeline)

	body := `{
		"update_id": 9002,
		"message": {
			"message_id": 78,
			"from": {"id": 5, "language_code": "tr"},
			"chat": {"id": 123456},
			"caption": "saçım",
			"photo": [
				{"file_id": "small", "file_size": 100},
				{"file_id": "large", "file_size": 9000}
			]
		}
	}`
	rec := post(router, "/api/v1/webhook/telegram", testAPIKey, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	msg := pipeline.messages[0]
	if msg.MediaID != "large" {
		t.Fatalf("MediaID = %q, want large", msg.MediaID)
	}
	if msg.Content != "saçım" {
		t.Fatalf("Content = %q, want caption fallback", msg.Content)
	}
}

func TestTelegramNonMessageUpdateIsIgnored(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(pipeline)

	rec := post(router, "/api/v1/webhook/telegram", testAPIKey, `{"update_id": 9003}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so Telegram stops retrying", rec.Code)
	}
	if len(pipeline.messages) != 0 {
		t.Fatalf("messages = %d, want 0", len(pipeline.messages))
	}
}

func TestWhatsAppRequiresSenderAndMessageID(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(pipeline)

	rec := post(router, "/api/v1/webhook/whatsapp", testAPIKey, `{"text":"hello"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(pipeline.messages) != 0 {
		t.Fatalf("messages = %d, want 0", len(pipeline.messages))
	}
}

func TestWebWidgetMapsMediaFields(t *testing.T) {
	pipeline := &fakePipeline{}
	router := newTestRouter(pipeline)

	body := `{
		"sessionId": "sess-1",
		"messageId": "web-1",
		"uploadId": "up-9",
		"mimeType": "image/png",
		"language": "de",
		"country": "DE"
	}`
	rec := post(router, "/api/v1/webhook/web", testAPIKey, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	msg := pipeline.messages[0]
	if msg.Channel != "web" || msg.MediaID != "up-9" || msg.MediaContentType != "image/png" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Language != "de" || msg.Country != "DE" {
		t.Fatalf("msg = %+v", msg)
	}
}
