// Package domain defines the shared types, error taxonomy, and validation for
// the health assistant. It acts as the validation gate at request entry points.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserID identifies the user a conversation belongs to. Clients send it as
// either a JSON string or a JSON number.
type UserID string

// UnmarshalJSON accepts "42" and 42 alike.
func (u *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user_id: expected string or number: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

func (u UserID) String() string { return string(u) }

// ChatRequest is the inbound conversation for one user.
type ChatRequest struct {
	UserID       UserID    `json:"user_id"`
	Conversation []Message `json:"conversation"`
}

// LastMessage returns the content of the final message, or "" when the
// conversation is empty.
func (r ChatRequest) LastMessage() string {
	if len(r.Conversation) == 0 {
		return ""
	}
	return r.Conversation[len(r.Conversation)-1].Content
}

// FeatureRecord is one explained feature: a human-readable name, the numeric
// literal taken from the explainer's bucket description, and the signed
// contribution toward the explained label.
type FeatureRecord struct {
	Name   string
	Value  float64
	Weight float64
}

// Supports reports whether the feature pushes toward the prediction.
// A zero weight counts as supporting.
func (f FeatureRecord) Supports() bool { return f.Weight >= 0 }

// ExplanationRecord is the persisted explanation for one user. Features keep
// the explainer's order (descending absolute weight).
type ExplanationRecord struct {
	UserID      string
	Disease     string
	Prediction  string
	Probability float64
	Features    []FeatureRecord
}

// Vector returns the similarity-index vector for the record: the value of
// each feature in record order.
func (r ExplanationRecord) Vector() []float32 {
	v := make([]float32, len(r.Features))
	for i, f := range r.Features {
		v[i] = float32(f.Value)
	}
	return v
}

// Entry pairs the record's vector with its user key.
func (r ExplanationRecord) Entry() VectorEntry {
	return VectorEntry{Key: r.UserID, Vector: r.Vector()}
}

// VectorEntry is a point in the similarity index. Key is optional on queries.
type VectorEntry struct {
	Key    string
	Vector []float32
}

// Status is the outcome carried by an Envelope.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Envelope is the uniform result of handling one conversation.
type Envelope struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Success wraps generated text.
func Success(text string) Envelope {
	return Envelope{Status: StatusSuccess, Message: text}
}

// Failure wraps an error description.
func Failure(err error) Envelope {
	return Envelope{Status: StatusError, Message: err.Error()}
}

// OK reports whether the envelope carries a successful result.
func (e Envelope) OK() bool { return e.Status == StatusSuccess }

// FormatValue renders a feature value the way prompts and logs show it:
// integers without a fractional part, everything else in shortest form.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
