package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestParseCategory(t *testing.T) {
	cases := []struct {
		label string
		want  Category
	}{
		{"Personal Health Question", CategoryPersonal},
		{"PERSONAL HEALTH QUESTION ", CategoryPersonal},
		{"\tpersonal health question\n", CategoryPersonal},
		{"General health question not related to person's data", CategoryGeneral},
		{"something else", CategoryOther},
		{"", CategoryOther},
	}
	for _, c := range cases {
		if got := ParseCategory(c.label); got != c.want {
			t.Errorf("ParseCategory(%q) = %v, want %v", c.label, got, c.want)
		}
	}
}

func TestValidateChatRequest_MissingUserID(t *testing.T) {
	req := ChatRequest{Conversation: []Message{{Role: RoleUser, Content: "hi"}}}
	err := ValidateChatRequest(&req)
	if !errors.Is(err, ErrRequired) {
		t.Fatalf("expected ErrRequired, got %v", err)
	}
	if err.Error() != "user_id is required" {
		t.Errorf("message = %q", err.Error())
	}
	if KindOf(err) != KindValidation {
		t.Errorf("kind = %v", KindOf(err))
	}
}

func TestValidateChatRequest_EmptyConversation(t *testing.T) {
	req := ChatRequest{UserID: "42"}
	err := ValidateChatRequest(&req)
	if err == nil || err.Error() != "conversation is required" {
		t.Fatalf("got %v", err)
	}
}

func TestValidateChatRequest_NormalizesRoles(t *testing.T) {
	req := ChatRequest{UserID: "42", Conversation: []Message{
		{Role: "model", Content: "hello"},
		{Role: "", Content: "why?"},
	}}
	if err := ValidateChatRequest(&req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Conversation[0].Role != RoleAssistant || req.Conversation[1].Role != RoleUser {
		t.Errorf("roles = %v, %v", req.Conversation[0].Role, req.Conversation[1].Role)
	}

	bad := ChatRequest{UserID: "42", Conversation: []Message{{Role: "robot", Content: "x"}}}
	if err := ValidateChatRequest(&bad); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestUserID_AcceptsStringAndNumber(t *testing.T) {
	for _, body := range []string{`{"user_id":"42"}`, `{"user_id":42}`} {
		var req ChatRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		if req.UserID != "42" {
			t.Errorf("%s: user_id = %q", body, req.UserID)
		}
	}
	var req ChatRequest
	if err := json.Unmarshal([]byte(`{"user_id":{"a":1}}`), &req); err == nil {
		t.Error("expected error for object user_id")
	}
}

func TestExplanationRecord_JSONKeepsOrder(t *testing.T) {
	rec := ExplanationRecord{
		UserID:  "42",
		Disease: "heart disease",
		Features: []FeatureRecord{
			{Name: "zeta", Value: 3, Weight: 0.3},
			{Name: "alpha", Value: 1, Weight: -0.2},
			{Name: "mid", Value: 2.5, Weight: 0.1},
		},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"user_id":"42","disease":"heart disease","top_5_features":{"zeta":[3,0.3],"alpha":[1,-0.2],"mid":[2.5,0.1]}}`
	if string(b) != want {
		t.Fatalf("json = %s\nwant  %s", b, want)
	}

	var back ExplanationRecord
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	for i, f := range back.Features {
		if f != rec.Features[i] {
			t.Errorf("feature %d = %+v, want %+v", i, f, rec.Features[i])
		}
	}
}

func TestExplanationRecord_LegacyBareMapping(t *testing.T) {
	var rec ExplanationRecord
	if err := json.Unmarshal([]byte(`{"Patients Age in years":[63,0.12],"Serum cholesterol in mg/dl":[240,-0.05]}`), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Disease != "" || len(rec.Features) != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Features[0].Name != "Patients Age in years" || rec.Features[1].Weight != -0.05 {
		t.Errorf("features = %+v", rec.Features)
	}
}

func TestExplanationRecord_Corrupt(t *testing.T) {
	var rec ExplanationRecord
	err := json.Unmarshal([]byte(`{"top_5_features": "nope"}`), &rec)
	if !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("expected ErrCorruptPayload, got %v", err)
	}
	if KindOf(err) != KindData {
		t.Errorf("kind = %v", KindOf(err))
	}
}

func TestUpstreamError(t *testing.T) {
	cause := errors.New("503")
	err := fmt.Errorf("rag: invoke: %w", Upstream("gemini generate", cause))
	if !errors.Is(err, ErrUpstream) || !errors.Is(err, cause) {
		t.Fatalf("chain broken: %v", err)
	}
	if KindOf(err) != KindUpstream {
		t.Errorf("kind = %v", KindOf(err))
	}
	if Upstream("x", nil) != nil {
		t.Error("Upstream(nil) should be nil")
	}
}

func TestRecordVectorAndSupports(t *testing.T) {
	rec := ExplanationRecord{UserID: "7", Features: []FeatureRecord{{Value: 63, Weight: 0}, {Value: 1.5, Weight: -0.01}}}
	e := rec.Entry()
	if e.Key != "7" || len(e.Vector) != 2 || e.Vector[0] != 63 {
		t.Errorf("entry = %+v", e)
	}
	if !rec.Features[0].Supports() || rec.Features[1].Supports() {
		t.Error("zero weight supports, negative opposes")
	}
	if FormatValue(63) != "63" || FormatValue(2.5) != "2.5" {
		t.Errorf("FormatValue: %s %s", FormatValue(63), FormatValue(2.5))
	}
}
