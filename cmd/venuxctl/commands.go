package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/service/view"
)

func loginCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "login <tid>",
		Short: "Save the tenant identity used by later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok, err := c.resolver().Resolve(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("tenant identity is required")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s logged in as %s\n", color.GreenString("✓"), id)
			return nil
		},
	}
}

func logoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved tenant identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.resolver().Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func whoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the resolved tenant identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.identity()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func statsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show lead totals, conversion and the 7-day chart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withController(cmd.Context(), func(ctrl *view.Controller) error {
				state, err := ctrl.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				writeStats(cmd.OutOrStdout(), state)
				return nil
			})
		},
	}
}

func instancesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "instances",
		Short: "List the tenant's WhatsApp instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withController(cmd.Context(), func(ctrl *view.Controller) error {
				state, err := ctrl.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				writeInstances(cmd.OutOrStdout(), state.Instances)
				return nil
			})
		},
	}
}

func leadsCmd(c *cli) *cobra.Command {
	var limit int
	var status string
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "List leads, most recent interaction first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := tenant.LeadStatus(strings.ToUpper(strings.TrimSpace(status)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown lead status %q", status)
			}
			return c.withController(cmd.Context(), func(ctrl *view.Controller) error {
				state, err := ctrl.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				leads := make([]tenant.Lead, 0, len(state.Leads))
				for _, l := range state.Leads {
					if filter == "" || l.Status == filter {
						leads = append(leads, l)
					}
				}
				if limit > 0 && len(leads) > limit {
					leads = leads[:limit]
				}
				writeLeads(cmd.OutOrStdout(), leads, state.Instances)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum leads to print (0 for all)")
	cmd.Flags().StringVar(&status, "status", "", "Only leads in this status")
	return cmd
}

func watchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print stats whenever the session changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withController(ctx, func(ctrl *view.Controller) error {
				if _, err := ctrl.Start(ctx); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("warning:"), err)
				}
				w := &watcher{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
				for {
					select {
					case <-ctx.Done():
						return nil
					case state, ok := <-ctrl.Updates():
						if !ok {
							return nil
						}
						w.observe(state)
					}
				}
			})
		},
	}
}

func setPromptCmd(c *cli) *cobra.Command {
	var prompt, topics string
	cmd := &cobra.Command{
		Use:   "set-prompt <instance-id>",
		Short: "Replace an instance's AI prompt and handoff topics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch tenant.InstancePatch
			if cmd.Flags().Changed("prompt") {
				patch.AIPrompt = &prompt
			}
			if cmd.Flags().Changed("topics") {
				patch.AIHandoffTopics = &topics
			}
			if patch.Empty() {
				return fmt.Errorf("nothing to change: pass --prompt and/or --topics")
			}
			return c.submit(cmd, args[0], patch)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "System prompt; empty clears it")
	cmd.Flags().StringVar(&topics, "topics", "", "Comma-separated handoff topics")
	return cmd
}

func toggleAICmd(c *cli) *cobra.Command {
	var on, off bool
	cmd := &cobra.Command{
		Use:   "toggle-ai <instance-id>",
		Short: "Turn the AI on or off for an instance (flips it without flags)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if on && off {
				return fmt.Errorf("--on and --off are mutually exclusive")
			}
			return c.withController(cmd.Context(), func(ctrl *view.Controller) error {
				state, err := ctrl.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				idx := tenant.FindInstance(state.Instances, args[0])
				if idx < 0 {
					return fmt.Errorf("instance %s not found", args[0])
				}
				enabled := !state.Instances[idx].AIEnabled
				switch {
				case on:
					enabled = true
				case off:
					enabled = false
				}
				return submitWith(cmd, ctrl, args[0], tenant.InstancePatch{AIEnabled: &enabled})
			})
		},
	}
	cmd.Flags().BoolVar(&on, "on", false, "Enable the AI")
	cmd.Flags().BoolVar(&off, "off", false, "Disable the AI")
	return cmd
}

func setStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "set-status <instance-id> <available|unavailable>",
		Short:     "Mark an instance available or unavailable",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(tenant.PresenceAvailable), string(tenant.PresenceUnavailable)},
		RunE: func(cmd *cobra.Command, args []string) error {
			status := tenant.Presence(strings.ToLower(args[1]))
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return c.submit(cmd, args[0], tenant.InstancePatch{Status: &status})
		},
	}
}

func (c *cli) submit(cmd *cobra.Command, instanceID string, patch tenant.InstancePatch) error {
	return c.withController(cmd.Context(), func(ctrl *view.Controller) error {
		if _, err := ctrl.Refresh(cmd.Context()); err != nil {
			return err
		}
		return submitWith(cmd, ctrl, instanceID, patch)
	})
}

func submitWith(cmd *cobra.Command, ctrl *view.Controller, instanceID string, patch tenant.InstancePatch) error {
	state, err := ctrl.SubmitInstanceUpdate(cmd.Context(), instanceID, patch)
	if err != nil {
		return err
	}
	idx := tenant.FindInstance(state.Instances, instanceID)
	if idx < 0 {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s saved\n", color.GreenString("✓"))
	writeInstances(cmd.OutOrStdout(), state.Instances[idx:idx+1])
	return nil
}

// watcher prints a line per applied change and a warning each time the live
// channel drops.
type watcher struct {
	out, errOut io.Writer
	seq         uint64
	live        bool
}

func (w *watcher) observe(state view.State) {
	if w.live && !state.Live && state.LiveError != "" {
		fmt.Fprintln(w.errOut, color.YellowString("warning:"), "live updates stopped:", state.LiveError)
	}
	w.live = state.Live
	if state.Loading || state.Seq == w.seq {
		return
	}
	w.seq = state.Seq
	writeWatchLine(w.out, state)
}
