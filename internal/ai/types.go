package ai

import "time"

// ConversationInput is everything the model sees for one analysis turn.
type ConversationInput struct {
	LeadStatus        string
	Language          string
	Country           string
	AgentName         string
	ConsentGranted    bool
	TreatmentCategory string
	Profile           map[string]string
	History           []HistoryMessage
	PhotoCount        int
	RequiredPhotos    int
	BurstSize         int // >1 when analyzing a debounced photo burst
}

// HistoryMessage is one prior message in chronological order.
type HistoryMessage struct {
	Direction string // "in" or "out"
	Content   string
	SentAt    time.Time
}

// ConversationAnalysis is the structured verdict for one inbound turn.
type ConversationAnalysis struct {
	Intent            string         `json:"intent"`
	Language          string         `json:"language"`
	Reply             string         `json:"reply"`
	Extraction        map[string]any `json:"extraction"`
	DesireScore       int            `json:"desire_score"`
	TreatmentCategory string         `json:"treatment_category"`
	ConsentGranted    bool           `json:"consent_granted"`
	FlowFormRequested bool           `json:"flow_form_requested"`
	QualificationDone bool           `json:"qualification_done"`
	ReadyForDoctor    bool           `json:"ready_for_doctor"`
	PhotosDeclined    bool           `json:"photos_declined"`
	MedicalRisk       bool           `json:"medical_risk"`
	MedicalRiskReason string         `json:"medical_risk_reason"`
	NeedsHandoff      bool           `json:"needs_handoff"`
	HandoffReason     string         `json:"handoff_reason"`
	Sentiment         string         `json:"sentiment"`
	Toxicity          bool           `json:"toxicity"`
	Fallback          bool           `json:"-"`
}

// FollowupInput is the context for deciding the next nudge.
type FollowupInput struct {
	LeadStatus     string
	Language       string
	AgentName      string
	Attempt        int
	MaxAttempts    int
	SilentFor      time.Duration
	History        []HistoryMessage
	Profile        map[string]string
	LocalTime      time.Time
	CanSendNow     bool
	WaitHours      float64
}

// Follow-up strategies the model may choose.
const (
	FollowupSendNow  = "immediate"
	FollowupWait     = "wait"
	FollowupGiveUp   = "give_up"
	FollowupEscalate = "escalate"
)

// FollowupDecision is the structured verdict for one due follow-up.
type FollowupDecision struct {
	Strategy   string  `json:"strategy"`
	WaitHours  float64 `json:"wait_hours"`
	Tone       string  `json:"tone"`
	Message    string  `json:"message"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"-"`
}
