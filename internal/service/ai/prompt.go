package ai

import (
	"fmt"
	"strings"

	"github.com/venux/panel/backend/internal/model/tenant"
)

// HandoffMarker is emitted by the assistant when a lead should go to a
// human broker.
const HandoffMarker = "[TRANSFERIR]"

const defaultInstructions = `Você é uma assistente SDR que atende leads pelo WhatsApp.
Responda em português do Brasil, com mensagens curtas e cordiais.
Nunca invente preços, endereços ou condições que não foram informados.`

// BuildSystemPrompt composes the guardrails, the tenant's own prompt and the
// handoff rule for an instance.
func BuildSystemPrompt(company string, inst tenant.Instance) string {
	var b strings.Builder
	b.WriteString(defaultInstructions)

	if company = strings.TrimSpace(company); company != "" {
		fmt.Fprintf(&b, "\n\nVocê representa a empresa %s.", company)
	}
	if name := strings.TrimSpace(inst.Name); name != "" {
		fmt.Fprintf(&b, "\nCanal de atendimento: %s.", name)
	}

	if custom := strings.TrimSpace(inst.AIPrompt); custom != "" {
		b.WriteString("\n\nInstruções da empresa:\n")
		b.WriteString(custom)
	}

	if topics := splitTopics(inst.AIHandoffTopics); len(topics) > 0 {
		b.WriteString("\n\nQuando o lead falar sobre ")
		b.WriteString(strings.Join(topics, ", "))
		fmt.Fprintf(&b, ", responda brevemente e termine a mensagem com %s para que um corretor assuma a conversa.", HandoffMarker)
	}
	return b.String()
}

func splitTopics(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
