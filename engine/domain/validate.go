package domain

import (
	"fmt"
	"strings"
)

// ParseRole maps a wire role onto a Role. "model" is accepted as an alias
// for assistant; the empty role defaults to user.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user", "human":
		return RoleUser, nil
	case "assistant", "model", "ai":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	default:
		return "", NewValidationError("role", s, ErrInvalidRole)
	}
}

// ValidateChatRequest checks that user_id and a non-empty conversation are
// present and that every message has a known role. Roles are normalized in
// place.
func ValidateChatRequest(req *ChatRequest) error {
	if strings.TrimSpace(req.UserID.String()) == "" {
		return NewValidationError("user_id", "", ErrRequired)
	}
	if len(req.Conversation) == 0 {
		return NewValidationError("conversation", "", ErrRequired)
	}
	for i := range req.Conversation {
		role, err := ParseRole(string(req.Conversation[i].Role))
		if err != nil {
			return fmt.Errorf("conversation[%d]: %w", i, err)
		}
		req.Conversation[i].Role = role
	}
	return nil
}

// ValidateVector checks a vector against the index dimension.
func ValidateVector(v []float32, dim int) error {
	if len(v) != dim {
		return NewValidationError("vector", fmt.Sprintf("len=%d want=%d", len(v), dim), ErrInvalidShape)
	}
	return nil
}
