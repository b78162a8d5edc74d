// Package prompt renders the language model inputs for both routing branches.
package prompt

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

// DefaultDisease names the condition when a record carries none.
const DefaultDisease = "the condition"

// SystemPreamble is prepended to general conversations.
const SystemPreamble = "You are a highly skilled health advisor. You have expertise in explaining " +
	"health concepts clearly and concisely. Your role is to assist the user based " +
	"on the context of the previous messages. Always make sure your responses are " +
	"accurate, helpful, and based on the context of the conversation. " +
	"Respond to the last user message considering the context provided above."

// Explanation renders the prompt asking the model to explain a record.
// Features with a non-negative weight are listed as contributing, the rest as
// acting against; each group keeps the record's order.
func Explanation(rec domain.ExplanationRecord) string {
	disease := strings.TrimSpace(rec.Disease)
	if disease == "" {
		disease = DefaultDisease
	}

	var supporting, opposing []string
	for _, f := range rec.Features {
		line := fmt.Sprintf("- %s: value=%s, impact=%.2f", f.Name, domain.FormatValue(f.Value), f.Weight)
		if f.Supports() {
			supporting = append(supporting, line)
		} else {
			opposing = append(opposing, line)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user has been diagnosed or has been not diagnosed with %s based on the classification. "+
		"Here are the factors influencing this prediction:\n\n", disease)
	b.WriteString("**Contributing Factors:**\n")
	b.WriteString(group(supporting))
	b.WriteString("\n\n**Factors Acting Against the Prediction:**\n")
	b.WriteString(group(opposing))
	fmt.Fprintf(&b, "\n\nExplain why these factors impact %s in simple terms.", disease)
	return b.String()
}

func group(lines []string) string {
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}

// General returns preamble as a system message followed by the conversation.
// An empty preamble yields the conversation alone.
func General(conversation []domain.Message, preamble string) []domain.Message {
	out := make([]domain.Message, 0, len(conversation)+1)
	if preamble != "" {
		out = append(out, domain.Message{Role: domain.RoleSystem, Content: preamble})
	}
	return append(out, conversation...)
}
