package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/service/view"
)

const barWidth = 30

func writeStats(w io.Writer, state view.State) {
	title := state.Company
	if title == "" {
		title = state.Name
	}
	fmt.Fprintln(w, color.CyanString("%s (%s)", title, state.Identity))
	fmt.Fprintln(w, strings.Repeat("─", 48))

	s := state.Stats
	fmt.Fprintf(w, "Leads        %d\n", s.TotalLeads)
	fmt.Fprintf(w, "Qualified    %d\n", s.QualifiedLeads)
	fmt.Fprintf(w, "Conversion   %s%%\n", s.ConversionLabel())
	fmt.Fprintf(w, "Active       %d/%d\n", s.ActiveInstances, len(state.Instances))

	fmt.Fprintln(w)
	fmt.Fprintln(w, color.CyanString("By status"))
	for _, sc := range s.StatusDistribution {
		fmt.Fprintf(w, "  %-13s %d\n", sc.Status, sc.Count)
	}

	peak := 0
	for _, d := range s.Series {
		peak = max(peak, d.Count)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, color.CyanString("Last 7 days"))
	for _, d := range s.Series {
		fmt.Fprintf(w, "  %s %s %d\n", d.Date, bar(d.Count, peak), d.Count)
	}

	writeWarnings(w, state)
}

func bar(n, peak int) string {
	if peak == 0 || n == 0 {
		return strings.Repeat(" ", barWidth)
	}
	filled := max(1, n*barWidth/peak)
	return color.GreenString(strings.Repeat("█", filled)) + strings.Repeat(" ", barWidth-filled)
}

func writeWarnings(w io.Writer, state view.State) {
	for _, warn := range state.Warnings {
		fmt.Fprintf(w, "%s %s: %s\n", color.YellowString("warning:"), warn.Source, warn.Message)
	}
}

func writeInstances(w io.Writer, instances []tenant.Instance) {
	if len(instances) == 0 {
		fmt.Fprintln(w, "No instances")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tAI\tHANDOFF")
	for _, inst := range instances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", inst.ID, inst.Name, presence(inst.Status), onOff(inst.AIEnabled), inst.AIHandoffTopics)
	}
	_ = tw.Flush()

	for _, inst := range instances {
		if inst.AIPrompt != "" {
			fmt.Fprintf(w, "%s %s\n", color.HiBlackString(inst.ID+":"), inst.AIPrompt)
		}
	}
}

func presence(p tenant.Presence) string {
	if p == tenant.PresenceAvailable {
		return color.GreenString(string(p))
	}
	return color.HiBlackString(string(p))
}

func onOff(b bool) string {
	if b {
		return color.GreenString("on")
	}
	return "off"
}

func writeLeads(w io.Writer, leads []tenant.Lead, instances []tenant.Instance) {
	if len(leads) == 0 {
		fmt.Fprintln(w, "No leads")
		return
	}
	names := make(map[string]string, len(instances))
	for _, inst := range instances {
		names[inst.ID] = inst.Name
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tSTATUS\tINSTANCE\tLAST INTERACTION")
	for _, l := range leads {
		instance := names[l.InstanceID]
		if instance == "" {
			instance = l.InstanceID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Name, l.Phone, l.Status, instance, l.LastInteraction.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func writeWatchLine(w io.Writer, state view.State) {
	live := color.GreenString("live")
	if !state.Live {
		live = color.YellowString("manual refresh")
	}
	line := fmt.Sprintf("[%s] #%d leads=%d qualified=%d conversion=%s%% active=%d %s",
		time.Now().Format(time.TimeOnly), state.Seq, state.Stats.TotalLeads, state.Stats.QualifiedLeads,
		state.Stats.ConversionLabel(), state.Stats.ActiveInstances, live)
	if state.Error != "" {
		line += " " + color.RedString(state.Error)
	}
	fmt.Fprintln(w, line)
}
