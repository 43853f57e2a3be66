package ai

import "fmt"

// Deterministic fallbacks keep the funnel responsive when the model fails.
// They never extract fields or change scores; they only keep the conversation
// alive and flag the lead for a human when attempts run out.

func fallbackAnalysis(input ConversationInput) ConversationAnalysis {
	return ConversationAnalysis{
		Intent:     "other",
		Language:   input.Language,
		Reply:      fallbackReply(input.Language),
		Extraction: map[string]any{},
		Sentiment:  "neutral",
		Fallback:   true,
	}
}

func fallbackReply(language string) string {
	switch language {
	case "tr":
		return "Mesajınız için teşekkürler! Bilgilerinizi aldım, kısa süre içinde size döneceğim."
	case "de":
		return "Vielen Dank für Ihre Nachricht! Ich habe alles erhalten und melde mich in Kürze bei Ihnen."
	default:
		return "Thank you for your message! I've received it and will get back to you shortly."
	}
}

func fallbackFollowup(input FollowupInput) FollowupDecision {
	if input.Attempt >= input.MaxAttempts {
		// The last attempt still goes out: a warm goodbye, after which the
		// send path parks the lead.
		return FollowupDecision{
			Strategy:   FollowupSendNow,
			Tone:       "warm",
			Message:    fallbackNudge(input.Language, input.Attempt),
			Reasoning:  "final attempt, closing with a goodbye",
			Confidence: 1,
			Fallback:   true,
		}
	}
	return FollowupDecision{
		Strategy:   FollowupSendNow,
		Tone:       "friendly",
		Message:    fallbackNudge(input.Language, input.Attempt),
		Reasoning:  fmt.Sprintf("template nudge, attempt %d", input.Attempt),
		Confidence: 0.5,
		Fallback:   true,
	}
}

func fallbackNudge(language string, attempt int) string {
	switch language {
	case "tr":
		switch attempt {
		case 1:
			return "Merhaba! Görüşmemize kaldığımız yerden devam etmek isterseniz buradayım. Sorularınız varsa memnuniyetle yanıtlarım."
		case 2:
			return "Merhaba, saç ekimi hakkında düşünmeye devam ediyor musunuz? Size özel değerlendirmeniz için birkaç adım kaldı."
		default:
			return "Merhaba! Bu son hatırlatmam olacak. Hazır olduğunuzda yazmanız yeterli, dosyanız bizde güvende."
		}
	case "de":
		switch attempt {
		case 1:
			return "Hallo! Ich wollte kurz nachfragen, ob Sie noch Fragen haben. Ich bin gern für Sie da."
		case 2:
			return "Hallo, denken Sie noch über die Haartransplantation nach? Es fehlen nur wenige Schritte bis zu Ihrer persönlichen Einschätzung."
		default:
			return "Hallo! Das ist meine letzte Erinnerung. Melden Sie sich einfach, wenn Sie bereit sind."
		}
	default:
		switch attempt {
		case 1:
			return "Hi! Just checking in to see if you have any questions. I'm here whenever you're ready."
		case 2:
			return "Hi, are you still considering the hair transplant? You're only a few steps away from your personal assessment."
		default:
			return "Hi! This will be my last reminder. Just write whenever you're ready, your file is safe with us."
		}
	}
}
