package store

import (
	"context"
	"fmt"
	"time"
)

// DemoTenant is the identity seeded by Seed.
const DemoTenant = "demo"

// Seed loads a small demo tenant: two instances, a week of leads and two
// brokers. Timestamps are relative to now so the 7-day chart is populated.
func Seed(ctx context.Context, dst Inserter, now time.Time) error {
	session := Row{
		"id":         DemoTenant,
		"name":       "Venux Demo Imóveis",
		"updated_at": now.UTC().Format(time.RFC3339Nano),
		"data": map[string]any{
			"company": "Venux Demo Imóveis",
			"plan":    "pro",
			"instances": []any{
				map[string]any{
					"id":                "inst-vendas",
					"name":              "Vendas",
					"status":            "available",
					"ai_enabled":        true,
					"ai_prompt":         "Você é a SDR da Venux. Qualifique o interesse e o orçamento do lead.",
					"ai_handoff_topics": "visita, proposta, financiamento",
				},
				map[string]any{
					"id":         "inst-pos",
					"name":       "Pós-venda",
					"status":     "unavailable",
					"ai_enabled": false,
				},
			},
		},
	}
	if err := dst.Insert(ctx, TableSessions, session); err != nil {
		return fmt.Errorf("seed sessions: %w", err)
	}

	statuses := []string{"AI_SENT", "RESPONDED", "NUDGED", "HUMAN_ACTIVE", "TRANSFERRED"}
	leads := make([]Row, 0, 12)
	for i := 0; i < 12; i++ {
		instance := "inst-vendas"
		if i%4 == 3 {
			instance = "inst-pos"
		}
		leads = append(leads, Row{
			"id":               fmt.Sprintf("lead-%02d", i+1),
			"name":             fmt.Sprintf("Lead %02d", i+1),
			"phone":            fmt.Sprintf("+55119000000%02d", i+1),
			"status":           statuses[i%len(statuses)],
			"last_interaction": now.Add(-time.Duration(i*13) * time.Hour).UTC().Format(time.RFC3339Nano),
			"instance_id":      instance,
		})
	}
	if err := dst.Insert(ctx, TableLeads, leads...); err != nil {
		return fmt.Errorf("seed leads: %w", err)
	}

	brokers := []Row{
		{"id": "broker-ana", "name": "Ana Souza", "active": true, "leads_received": 3, "owner_id": DemoTenant},
		{"id": "broker-joao", "name": "João Lima", "active": false, "leads_received": 1, "owner_id": DemoTenant},
	}
	if err := dst.Insert(ctx, TableBrokers, brokers...); err != nil {
		return fmt.Errorf("seed brokers: %w", err)
	}
	return nil
}
