// Package channels provides the outbound chat channel adapters. Each channel
// (Telegram, WhatsApp, Web) implements the same small Adapter surface; the
// orchestration core never branches on channel names itself.
package channels

import (
	"context"
	"fmt"
	"sync"
)

// Channel names used as registry keys and stored on leads.
const (
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
	ChannelWeb      = "web"
)

// Media is an optional attachment on an outbound message.
type Media struct {
	URL         string
	ContentType string
	Caption     string
}

// Adapter is the per-channel send/download surface. Sends are fire-and-forget
// from the orchestrator's perspective; channel-native errors surface to the
// caller for retry/marking.
type Adapter interface {
	Name() string
	SendMessage(ctx context.Context, channelUserID, content string, media *Media) error
	SendConsentPrompt(ctx context.Context, channelUserID, language, consentLinkURL string) error
	SendFlowSelectionPrompt(ctx context.Context, channelUserID, language, formURL string) error
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// Registry holds one adapter per channel name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Get returns the adapter for a channel name.
func (r *Registry) Get(channel string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %q", channel)
	}
	return adapter, nil
}
