// Package ai wraps the Gemini API behind two typed operations: conversation
// analysis and follow-up strategy. Every operation degrades to a deterministic
// fallback so the funnel keeps moving when the model is down or disabled.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
)

// Client talks to Gemini. A nil inner client means AI is disabled and all
// calls return fallbacks immediately.
type Client struct {
	inner   *genai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

func NewClient(ctx context.Context, cfg config.AIConfig, log *logger.Logger) (*Client, error) {
	c := &Client{
		model:   cfg.GetGeminiModel(),
		timeout: cfg.GetAITimeout(),
		log:     log,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}

	if !cfg.IsAIEnabled() {
		log.Warn("ai disabled, using deterministic fallbacks")
		return c, nil
	}

	inner, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.inner = inner
	return c, nil
}

// AnalyzeConversation returns the model's verdict on the latest inbound turn.
// On any model failure the deterministic fallback is returned with a nil error.
func (c *Client) AnalyzeConversation(ctx context.Context, input ConversationInput) (ConversationAnalysis, error) {
	if c.inner == nil {
		return fallbackAnalysis(input), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := buildConversationPrompt(input)
	raw, err := c.generateJSON(ctx, prompt)
	if err != nil {
		c.log.ExternalCallFailed("gemini", "analyze_conversation", err)
		return fallbackAnalysis(input), nil
	}

	var analysis ConversationAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		c.log.ExternalCallFailed("gemini", "analyze_conversation_decode", err)
		return fallbackAnalysis(input), nil
	}

	if analysis.DesireScore < 0 {
		analysis.DesireScore = 0
	}
	if analysis.DesireScore > 100 {
		analysis.DesireScore = 100
	}
	if analysis.Language == "" {
		analysis.Language = input.Language
	}
	return analysis, nil
}

// AnalyzeFollowup decides whether and how to nudge a silent lead.
func (c *Client) AnalyzeFollowup(ctx context.Context, input FollowupInput) (FollowupDecision, error) {
	if c.inner == nil {
		return fallbackFollowup(input), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.generateJSON(ctx, buildFollowupPrompt(input))
	if err != nil {
		c.log.ExternalCallFailed("gemini", "analyze_followup", err)
		return fallbackFollowup(input), nil
	}

	var decision FollowupDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		c.log.ExternalCallFailed("gemini", "analyze_followup_decode", err)
		return fallbackFollowup(input), nil
	}

	switch decision.Strategy {
	case FollowupSendNow, FollowupWait, FollowupGiveUp, FollowupEscalate:
	default:
		decision.Strategy = FollowupSendNow
	}
	if decision.Strategy == FollowupWait && decision.WaitHours <= 0 {
		decision.WaitHours = 4
	}
	return decision, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) ([]byte, error) {
	temp := float32(0.4)
	resp, err := c.inner.Models.GenerateContent(
		ctx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:      &temp,
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := stripCodeFences(sb.String())
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty text")
	}
	return []byte(text), nil
}

// stripCodeFences removes a surrounding ```json ... ``` block if the model
// ignored the JSON mime type.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func buildConversationPrompt(input ConversationInput) string {
	var sb strings.Builder
	sb.WriteString("You are ")
	if input.AgentName != "" {
		sb.WriteString(input.AgentName)
	} else {
		sb.WriteString("a patient coordinator")
	}
	sb.WriteString(", a warm and professional consultant at a hair transplant clinic. ")
	sb.WriteString("You qualify leads over chat: learn their situation, collect medical answers, and guide them to send scalp photos. ")
	sb.WriteString("Reply in the patient's language. Split long replies into natural chat-sized parts separated by \"|||\".\n\n")

	fmt.Fprintf(&sb, "Lead status: %s\nLanguage: %s\nCountry: %s\nConsent granted: %v\nTreatment category: %s\nUsable photos: %d of %d\n",
		input.LeadStatus, input.Language, input.Country, input.ConsentGranted, orUnknown(input.TreatmentCategory), input.PhotoCount, input.RequiredPhotos)
	if input.BurstSize > 1 {
		fmt.Fprintf(&sb, "The patient just sent %d photos in a burst. Acknowledge them together, once.\n", input.BurstSize)
	}

	if len(input.Profile) > 0 {
		sb.WriteString("\nKnown profile fields:\n")
		for k, v := range input.Profile {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}

	sb.WriteString("\nConversation history (oldest first):\n")
	for _, m := range input.History {
		role := "patient"
		if m.Direction == "out" {
			role = "you"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", role, m.Content)
	}

	sb.WriteString(`
Respond with JSON only:
{
  "intent": "question|answer|photo|objection|pricing|greeting|other",
  "language": "two-letter code of the patient's language",
  "reply": "your next message, parts separated by |||",
  "extraction": {"full_name": "...", "age": 0, "city": "...", "hair_loss_duration": "...", "medical_conditions": "...", "medications": "...", "allergies": "...", "previous_transplant": "yes|no", "chronic_illness": "yes|no", "smoking": "yes|no"},
  "desire_score": 0,
  "treatment_category": "hair|beard|eyebrow|unknown",
  "consent_granted": false,
  "flow_form_requested": false,
  "qualification_done": false,
  "ready_for_doctor": false,
  "photos_declined": false,
  "medical_risk": false,
  "medical_risk_reason": "",
  "needs_handoff": false,
  "handoff_reason": "",
  "sentiment": "positive|neutral|negative",
  "toxicity": false
}
Omit extraction keys you did not learn this turn. desire_score is 0-100.
Set medical_risk when the patient mentions blood thinners, uncontrolled diabetes, heart conditions, keloid scarring or similar contraindications.
Set needs_handoff for explicit human requests, complaints, price negotiations you cannot answer, or anything medically unsafe to answer yourself.
qualification_done means consent is granted AND the treatment area is known AND the medical questions are answered.
ready_for_doctor means the photo set looks complete and the case can go to medical review.`)

	return sb.String()
}

func buildFollowupPrompt(input FollowupInput) string {
	var sb strings.Builder
	sb.WriteString("You decide whether a hair transplant clinic should nudge a lead who went silent.\n\n")
	fmt.Fprintf(&sb, "Lead status: %s\nLanguage: %s\nAttempt: %d of %d\nSilent for: %s\nLead local time: %s\nInside messaging window: %v\n",
		input.LeadStatus, input.Language, input.Attempt, input.MaxAttempts,
		input.SilentFor.Round(time.Hour), input.LocalTime.Format("Mon 15:04"), input.CanSendNow)
	if !input.CanSendNow {
		fmt.Fprintf(&sb, "Hours until window opens: %.1f\n", input.WaitHours)
	}

	if len(input.Profile) > 0 {
		sb.WriteString("\nKnown profile fields:\n")
		for k, v := range input.Profile {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}

	sb.WriteString("\nRecent conversation (oldest first):\n")
	for _, m := range input.History {
		role := "patient"
		if m.Direction == "out" {
			role = "clinic"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", role, m.Content)
	}

	sb.WriteString(`
Respond with JSON only:
{
  "strategy": "immediate|wait|give_up|escalate",
  "wait_hours": 0,
  "tone": "friendly|informative|gentle_urgency|final",
  "message": "the nudge text in the patient's language",
  "reasoning": "one sentence",
  "confidence": 0.0
}
Choose give_up when the patient clearly declined. Choose escalate when a human should take over. wait_hours only matters for the wait strategy.`)

	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
