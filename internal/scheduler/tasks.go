package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskAIAnalyze = "funnel.ai.analyze"

const TaskChannelSend = "funnel.channel.send"

// Analysis triggers.
const (
	TriggerMessage    = "message"
	TriggerPhotoBurst = "photo_burst"
)

// Outbound send kinds. Prompt kinds use the channel-native rendering
// (inline buttons on Telegram, plain links elsewhere).
const (
	SendKindMessage       = "message"
	SendKindConsentPrompt = "consent_prompt"
	SendKindFlowPrompt    = "flow_prompt"
)

type AIAnalyzePayload struct {
	LeadID         string `json:"leadId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Trigger        string `json:"trigger"`
	BurstSize      int    `json:"burstSize,omitempty"`
}

type ChannelSendPayload struct {
	LeadID        string `json:"leadId"`
	Channel       string `json:"channel"`
	ChannelUserID string `json:"channelUserId"`
	Language      string `json:"language"`
	Kind          string `json:"kind"`
	Content       string `json:"content"`
	LinkURL       string `json:"linkUrl,omitempty"`
	Part          int    `json:"part"`
	Parts         int    `json:"parts"`
}

func NewAIAnalyzeTask(payload AIAnalyzePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAIAnalyze, data), nil
}

func ParseAIAnalyzePayload(task *asynq.Task) (AIAnalyzePayload, error) {
	var payload AIAnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AIAnalyzePayload{}, err
	}
	return payload, nil
}

func NewChannelSendTask(payload ChannelSendPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskChannelSend, data), nil
}

func ParseChannelSendPayload(task *asynq.Task) (ChannelSendPayload, error) {
	var payload ChannelSendPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ChannelSendPayload{}, err
	}
	return payload, nil
}
