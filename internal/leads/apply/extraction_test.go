package apply

import (
	"testing"
	"time"
)

func TestBuildProfilePatchRenamesKeys(t *testing.T) {
	now := time.Now().UTC()
	patch := BuildProfilePatch(map[string]any{
		"name":     "Ayşe Kaya",
		"location": "Izmir",
		"Age":      "29",
	}, now)

	if patch.FullName == nil || *patch.FullName != "Ayşe Kaya" {
		t.Fatalf("FullName = %v", patch.FullName)
	}
	if patch.City == nil || *patch.City != "Izmir" {
		t.Fatalf("City = %v", patch.City)
	}
	if patch.Age == nil || *patch.Age != 29 {
		t.Fatalf("Age = %v", patch.Age)
	}
}

func TestBuildProfilePatchCoercesBooleans(t *testing.T) {
	cases := []struct {
		value any
		want  *bool
	}{
		{"yes", boolPtr(true)},
		{"evet", boolPtr(true)},
		{"ja", boolPtr(true)},
		{"no", boolPtr(false)},
		{"hayır", boolPtr(false)},
		{true, boolPtr(true)},
		{"", nil},
		{42.0, nil},
	}
	for _, tc := range cases {
		patch := BuildProfilePatch(map[string]any{"smoking": tc.value}, time.Now())
		switch {
		case tc.want == nil:
			if patch.Smoking != nil {
				t.Errorf("smoking=%v: got %v, want nil", tc.value, *patch.Smoking)
			}
		case patch.Smoking == nil:
			t.Errorf("smoking=%v: got nil, want %v", tc.value, *tc.want)
		case *patch.Smoking != *tc.want:
			t.Errorf("smoking=%v: got %v, want %v", tc.value, *patch.Smoking, *tc.want)
		}
	}
}

func TestBuildProfilePatchStampsConsentTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	patch := BuildProfilePatch(map[string]any{"consent_accepted": "yes"}, now)
	if patch.ConsentAccepted == nil || !*patch.ConsentAccepted {
		t.Fatalf("ConsentAccepted = %v", patch.ConsentAccepted)
	}
	if patch.ConsentAcceptedAt == nil || !patch.ConsentAcceptedAt.Equal(now) {
		t.Fatalf("ConsentAcceptedAt = %v", patch.ConsentAcceptedAt)
	}

	declined := BuildProfilePatch(map[string]any{"consent_accepted": "no"}, now)
	if declined.ConsentAccepted == nil || *declined.ConsentAccepted {
		t.Fatalf("declined ConsentAccepted = %v", declined.ConsentAccepted)
	}
	if declined.ConsentAcceptedAt != nil {
		t.Fatal("declined consent must not stamp a timestamp")
	}
}

func TestBuildProfilePatchNormalizesPhone(t *testing.T) {
	patch := BuildProfilePatch(map[string]any{"phone": "0090 532 111 22 33"}, time.Now())
	if patch.Phone == nil || *patch.Phone == "" {
		t.Fatalf("Phone = %v", patch.Phone)
	}
}

func TestBuildProfilePatchIgnoresUnknownKeys(t *testing.T) {
	patch := BuildProfilePatch(map[string]any{"favorite_color": "blue"}, time.Now())
	if !patch.IsEmpty() {
		t.Fatalf("patch should be empty, got %+v", patch)
	}
}

func TestIsPhotoRequestDetection(t *testing.T) {
	cases := []struct {
		reply    string
		language string
		want     bool
	}{
		{"Could you share some photos of your scalp?", "en", true},
		{"Lütfen saç fotoğrafı gönderin", "tr", true},
		{"Bitte Fotos schicken", "de", true},
		{"Our clinic is in Istanbul.", "en", false},
		{"Fiyat bilgisi için formu doldurun", "tr", false},
	}
	for _, tc := range cases {
		if got := isPhotoRequest(tc.reply, tc.language); got != tc.want {
			t.Errorf("isPhotoRequest(%q, %s) = %v, want %v", tc.reply, tc.language, got, tc.want)
		}
	}
}

func boolPtr(b bool) *bool { return &b }
