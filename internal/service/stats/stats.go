// Package stats derives the dashboard figures shown above the lead lists.
package stats

import (
	"fmt"
	"math"
	"time"

	"github.com/venux/panel/backend/internal/model/tenant"
)

// SeriesDays is the length of the trailing activity chart.
const SeriesDays = 7

const dayLayout = "2006-01-02"

// StatusCount is one bar of the funnel chart.
type StatusCount struct {
	Status tenant.LeadStatus `json:"status"`
	Count  int               `json:"count"`
}

// DailyCount is one point of the activity chart.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats are recomputed from scratch on every fetch or delta.
type Stats struct {
	TotalLeads         int           `json:"total_leads"`
	QualifiedLeads     int           `json:"qualified_leads"`
	Conversion         float64       `json:"conversion"`
	ActiveInstances    int           `json:"active_instances"`
	StatusDistribution []StatusCount `json:"status_distribution"`
	Series             []DailyCount  `json:"series"`
}

// ConversionLabel renders the rate with one decimal place, e.g. "50.0".
func (s Stats) ConversionLabel() string {
	return fmt.Sprintf("%.1f", s.Conversion)
}

// Aggregate computes Stats from the current leads and instances. It never
// mutates its inputs and the result does not depend on their order.
func Aggregate(leads []tenant.Lead, instances []tenant.Instance, now time.Time) Stats {
	out := Stats{
		TotalLeads:         len(leads),
		StatusDistribution: []StatusCount{},
	}

	counts := make(map[tenant.LeadStatus]int)
	for _, lead := range leads {
		counts[lead.Status]++
		if lead.Status == tenant.LeadTransferred {
			out.QualifiedLeads++
		}
	}
	if out.TotalLeads > 0 {
		out.Conversion = round1(float64(out.QualifiedLeads) / float64(out.TotalLeads) * 100)
	}

	for _, status := range tenant.LeadStatuses() {
		if n := counts[status]; n > 0 {
			out.StatusDistribution = append(out.StatusDistribution, StatusCount{Status: status, Count: n})
		}
	}

	for _, inst := range instances {
		if inst.Status == tenant.PresenceAvailable {
			out.ActiveInstances++
		}
	}

	out.Series = dailySeries(leads, now)
	return out
}

func dailySeries(leads []tenant.Lead, now time.Time) []DailyCount {
	loc := now.Location()
	y, m, d := now.Date()

	series := make([]DailyCount, SeriesDays)
	index := make(map[string]int, SeriesDays)
	for i := 0; i < SeriesDays; i++ {
		day := time.Date(y, m, d-(SeriesDays-1-i), 0, 0, 0, 0, loc).Format(dayLayout)
		series[i] = DailyCount{Date: day}
		index[day] = i
	}

	for _, lead := range leads {
		if lead.LastInteraction.IsZero() {
			continue
		}
		day := lead.LastInteraction.In(loc).Format(dayLayout)
		if i, ok := index[day]; ok {
			series[i].Count++
		}
	}
	return series
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// BrokerSummary is the broker panel of the analytics dashboard.
type BrokerSummary struct {
	Total         int `json:"total"`
	Active        int `json:"active"`
	LeadsReceived int `json:"leads_received"`
}

// SummarizeBrokers counts active brokers and the leads handed to them.
func SummarizeBrokers(brokers []tenant.Broker) BrokerSummary {
	out := BrokerSummary{Total: len(brokers)}
	for _, b := range brokers {
		if b.Active {
			out.Active++
		}
		out.LeadsReceived += b.LeadsReceived
	}
	return out
}
