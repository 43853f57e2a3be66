// Package webhook is the inbound HTTP surface. Channel bridges (Telegram bot
// gateway, WhatsApp bridge, web widget) POST their provider payloads here;
// handlers translate them into the channel-neutral inbound message and hand
// off to the ingestion pipeline.
package webhook

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"clinic_funnel_backend/internal/channels"
	"clinic_funnel_backend/internal/leads/ingest"
	"clinic_funnel_backend/platform/httpkit"
	"clinic_funnel_backend/platform/validator"
)

// Ingestor is the pipeline surface the handlers depend on.
type Ingestor interface {
	Process(ctx context.Context, msg ingest.InboundMessage) error
}

type Handler struct {
	pipeline Ingestor
	val      *validator.Validator
}

func NewHandler(pipeline Ingestor, val *validator.Validator) *Handler {
	return &Handler{pipeline: pipeline, val: val}
}

// ---- Telegram ----

// telegramUpdate is the subset of the Bot API Update object we consume.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID           int64  `json:"id"`
			FirstName    string `json:"first_name"`
			LastName     string `json:"last_name"`
			LanguageCode string `json:"language_code"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text    string `json:"text"`
		Caption string `json:"caption"`
		Photo   []struct {
			FileID   string `json:"file_id"`
			FileSize int64  `json:"file_size"`
		} `json:"photo"`
	} `json:"message"`
}

// HandleTelegram processes a Bot API update.
// POST /api/v1/webhook/telegram
func (h *Handler) HandleTelegram(c *gin.Context) {
	var update telegramUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid telegram update")
		return
	}
	// Edits, callbacks, and channel posts carry no message; acknowledge so
	// Telegram does not redeliver.
	if update.Message == nil {
		httpkit.OK(c, gin.H{"status": "ignored"})
		return
	}

	msg := ingest.InboundMessage{
		Channel:          channels.ChannelTelegram,
		ChannelUserID:    strconv.FormatInt(update.Message.Chat.ID, 10),
		ChannelMessageID: strconv.FormatInt(update.Message.MessageID, 10),
		Content:          update.Message.Text,
		Language:         update.Message.From.LanguageCode,
		SenderName:       joinName(update.Message.From.FirstName, update.Message.From.LastName),
	}
	if len(update.Message.Photo) > 0 {
		// Telegram sends one entry per resolution; the last is the largest.
		msg.MediaID = update.Message.Photo[len(update.Message.Photo)-1].FileID
		msg.MediaContentType = "image/jpeg"
		if msg.Content == "" {
			msg.Content = update.Message.Caption
		}
	}

	if err := h.pipeline.Process(c.Request.Context(), msg); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "accepted"})
}

// ---- WhatsApp ----

// whatsappInbound is the payload shape the WhatsApp bridge posts.
type whatsappInbound struct {
	SenderID  string `json:"sender_id" validate:"required"`
	MessageID string `json:"message_id" validate:"required"`
	PushName  string `json:"push_name"`
	Text      string `json:"text"`
	MediaID   string `json:"media_id"`
	MediaType string `json:"media_type"`
	Phone     string `json:"phone"`
}

// HandleWhatsApp processes an inbound WhatsApp message.
// POST /api/v1/webhook/whatsapp
func (h *Handler) HandleWhatsApp(c *gin.Context) {
	var req whatsappInbound
	if !h.bindAndValidate(c, &req) {
		return
	}

	msg := ingest.InboundMessage{
		Channel:          channels.ChannelWhatsApp,
		ChannelUserID:    req.SenderID,
		ChannelMessageID: req.MessageID,
		Content:          req.Text,
		MediaID:          req.MediaID,
		MediaContentType: req.MediaType,
		SenderName:       req.PushName,
		SenderPhone:      req.Phone,
	}

	if err := h.pipeline.Process(c.Request.Context(), msg); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "accepted"})
}

// ---- Web widget ----

type webInbound struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
	MessageID string `json:"messageId" validate:"required,max=128"`
	Text      string `json:"text" validate:"max=4000"`
	UploadID  string `json:"uploadId"`
	MimeType  string `json:"mimeType"`
	Language  string `json:"language" validate:"max=8"`
	Country   string `json:"country" validate:"max=64"`
	Name      string `json:"name" validate:"max=200"`
}

// HandleWeb processes a message from the site chat widget.
// POST /api/v1/webhook/web
func (h *Handler) HandleWeb(c *gin.Context) {
	var req webInbound
	if !h.bindAndValidate(c, &req) {
		return
	}

	msg := ingest.InboundMessage{
		Channel:          channels.ChannelWeb,
		ChannelUserID:    req.SessionID,
		ChannelMessageID: req.MessageID,
		Content:          req.Text,
		MediaID:          req.UploadID,
		MediaContentType: req.MimeType,
		Language:         req.Language,
		Country:          req.Country,
		SenderName:       req.Name,
	}

	if err := h.pipeline.Process(c.Request.Context(), msg); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"status": "accepted"})
}

func (h *Handler) bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func joinName(first, last string) string {
	if first == "" {
		return last
	}
	if last == "" {
		return first
	}
	return first + " " + last
}
