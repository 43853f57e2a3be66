package apply

import (
	"strconv"
	"strings"
	"time"

	"clinic_funnel_backend/internal/leads/repository"
	"clinic_funnel_backend/platform/phone"
)

// BuildProfilePatch maps the AI's extraction keys onto profile columns.
// Only keys present in the map are written; booleans are coerced from
// yes/no-shaped answers and never defaulted.
func BuildProfilePatch(extraction map[string]any, now time.Time) repository.ProfilePatch {
	patch := repository.ProfilePatch{}
	if len(extraction) == 0 {
		return patch
	}

	for key, value := range extraction {
		switch normalizeKey(key) {
		case "full_name", "name":
			patch.FullName = stringValue(value)
		case "phone", "phone_number":
			if s := stringValue(value); s != nil {
				normalized := phone.NormalizeE164(*s)
				patch.Phone = &normalized
			}
		case "age":
			patch.Age = intValue(value)
		case "gender":
			patch.Gender = stringValue(value)
		case "city", "location":
			patch.City = stringValue(value)
		case "hair_loss_duration", "hair_loss":
			patch.HairLossDuration = stringValue(value)
		case "medical_conditions", "conditions":
			patch.MedicalConditions = stringValue(value)
		case "medications":
			patch.Medications = stringValue(value)
		case "allergies":
			patch.Allergies = stringValue(value)
		case "previous_transplant":
			patch.PreviousTransplant = boolValue(value)
		case "chronic_illness":
			patch.ChronicIllness = boolValue(value)
		case "smoking", "smoker":
			patch.Smoking = boolValue(value)
		case "high_medical_risk", "medical_risk":
			patch.HighMedicalRisk = boolValue(value)
		case "consent_accepted", "consent":
			if b := boolValue(value); b != nil {
				patch.ConsentAccepted = b
				if *b {
					at := now
					patch.ConsentAcceptedAt = &at
				}
			}
		}
	}
	return patch
}

// profileFacts flattens the known profile into the key/value lines the AI
// prompt renders. Unset fields are omitted entirely.
func profileFacts(p repository.LeadProfile) map[string]string {
	facts := make(map[string]string)
	put := func(key string, value *string) {
		if value != nil && *value != "" {
			facts[key] = *value
		}
	}
	putBool := func(key string, value *bool) {
		if value != nil {
			facts[key] = strconv.FormatBool(*value)
		}
	}
	put("full_name", p.FullName)
	put("phone", p.Phone)
	if p.Age != nil {
		facts["age"] = strconv.Itoa(*p.Age)
	}
	put("gender", p.Gender)
	put("city", p.City)
	put("hair_loss_duration", p.HairLossDuration)
	put("medical_conditions", p.MedicalConditions)
	put("medications", p.Medications)
	put("allergies", p.Allergies)
	putBool("previous_transplant", p.PreviousTransplant)
	putBool("chronic_illness", p.ChronicIllness)
	putBool("smoking", p.Smoking)
	putBool("high_medical_risk", p.HighMedicalRisk)
	return facts
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func stringValue(value any) *string {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func intValue(value any) *int {
	switch v := value.(type) {
	case float64:
		n := int(v)
		if n > 0 {
			return &n
		}
	case int:
		if v > 0 {
			return &v
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return &n
		}
	}
	return nil
}

// boolValue coerces yes/no-shaped answers. "yes" and its localized cousins
// become true; any other string becomes false. Non-answers return nil so the
// merge-upsert leaves the column untouched.
func boolValue(value any) *bool {
	switch v := value.(type) {
	case bool:
		return &v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if s == "" {
			return nil
		}
		result := s == "yes" || s == "true" || s == "evet" || s == "ja" || s == "y"
		return &result
	}
	return nil
}
