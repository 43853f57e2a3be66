package ai

import "testing"

func TestFallbackFollowupNudgesBeforeMaxAttempts(t *testing.T) {
	decision := fallbackFollowup(FollowupInput{Language: "en", Attempt: 1, MaxAttempts: 3})
	if decision.Strategy != FollowupSendNow {
		t.Fatalf("strategy = %q, want immediate", decision.Strategy)
	}
	if decision.Message != fallbackNudge("en", 1) {
		t.Fatalf("message = %q", decision.Message)
	}
	if !decision.Fallback {
		t.Fatal("expected fallback flag")
	}
}

func TestFallbackFollowupFinalAttemptStillSends(t *testing.T) {
	for _, language := range []string{"en", "tr", "de"} {
		decision := fallbackFollowup(FollowupInput{Language: language, Attempt: 3, MaxAttempts: 3})
		if decision.Strategy != FollowupSendNow {
			t.Fatalf("%s: strategy = %q, want immediate goodbye", language, decision.Strategy)
		}
		if decision.Message != fallbackNudge(language, 3) {
			t.Fatalf("%s: message = %q", language, decision.Message)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                     "{\"a\":1}",
		"```json\n{\"a\":1}\n```":       "{\"a\":1}",
		"```\n{\"a\":1}\n```":           "{\"a\":1}",
		"  ```json\n{\"a\":1}\n```\n  ": "{\"a\":1}",
	}
	for in, want := range cases {
		if got := stripCodeFences(in); got != want {
			t.Fatalf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}
