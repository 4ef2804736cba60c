package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frontiertower/towerbot/internal/config"
	"github.com/frontiertower/towerbot/internal/timeline"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect recorded policy decisions and routed tasks",
}

var auditDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List authorization verdicts",
	RunE:  runAuditDecisions,
}

var auditReasonsCmd = &cobra.Command{
	Use:   "reasons",
	Short: "Count verdicts per reason",
	RunE:  runAuditReasons,
}

var auditTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List routed requests",
	RunE:  runAuditTasks,
}

func init() {
	auditDecisionsCmd.Flags().Bool("denied", false, "Only show rejections")
	auditDecisionsCmd.Flags().String("sender", "", "Filter by sender ID")
	auditDecisionsCmd.Flags().String("trace", "", "Filter by trace ID")
	auditDecisionsCmd.Flags().Duration("since", 0, "Only show decisions newer than this (e.g. 24h)")
	auditDecisionsCmd.Flags().Int("limit", 50, "Maximum rows")
	auditDecisionsCmd.Flags().Bool("json", false, "Output JSON")

	auditReasonsCmd.Flags().Bool("json", false, "Output JSON")

	auditTasksCmd.Flags().String("status", "", "Filter by status (processing, completed, failed)")
	auditTasksCmd.Flags().String("channel", "", "Filter by channel")
	auditTasksCmd.Flags().Int("limit", 50, "Maximum rows")
	auditTasksCmd.Flags().Bool("json", false, "Output JSON")

	auditCmd.AddCommand(auditDecisionsCmd)
	auditCmd.AddCommand(auditReasonsCmd)
	auditCmd.AddCommand(auditTasksCmd)
	rootCmd.AddCommand(auditCmd)
}

func openTimeline() (*timeline.TimelineService, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := config.EnsureDir(filepath.Dir(cfg.Timeline.Path)); err != nil {
		return nil, fmt.Errorf("timeline dir: %w", err)
	}
	return timeline.NewTimelineService(cfg.Timeline.Path)
}

func runAuditDecisions(cmd *cobra.Command, args []string) error {
	denied, _ := cmd.Flags().GetBool("denied")
	sender, _ := cmd.Flags().GetString("sender")
	trace, _ := cmd.Flags().GetString("trace")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	svc, err := openTimeline()
	if err != nil {
		return err
	}
	defer svc.Close()

	filter := timeline.DecisionFilter{
		TraceID:    strings.TrimSpace(trace),
		Sender:     strings.TrimSpace(sender),
		DeniedOnly: denied,
		Limit:      limit,
	}
	if since > 0 {
		t := time.Now().UTC().Add(-since)
		filter.Since = &t
	}
	rows, err := svc.ListPolicyDecisions(context.Background(), filter)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), rows)
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No decisions recorded.")
		return nil
	}
	for _, r := range rows {
		verdict := color.GreenString("ALLOW")
		if !r.Allowed {
			verdict = color.RedString("DENY ")
		}
		fmt.Fprintf(w, "%s %s tier=%d %-22s %s/%s sender=%s category=%s\n",
			r.CreatedAt.Format(time.RFC3339), verdict, r.Tier, r.Reason, r.Channel, r.ChatID, r.Sender, r.Category)
	}
	return nil
}

func runAuditReasons(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	svc, err := openTimeline()
	if err != nil {
		return err
	}
	defer svc.Close()

	counts, err := svc.CountDecisionsByReason(context.Background())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), counts)
	}
	w := cmd.OutOrStdout()
	if len(counts) == 0 {
		fmt.Fprintln(w, "No decisions recorded.")
		return nil
	}
	for _, c := range counts {
		fmt.Fprintf(w, "%-24s %d\n", c.Reason, c.Count)
	}
	return nil
}

func runAuditTasks(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	channel, _ := cmd.Flags().GetString("channel")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	svc, err := openTimeline()
	if err != nil {
		return err
	}
	defer svc.Close()

	tasks, err := svc.ListTasks(context.Background(), strings.TrimSpace(status), strings.TrimSpace(channel), limit, 0)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), tasks)
	}
	w := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks recorded.")
		return nil
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%s %-10s %s %s/%s %s", t.CreatedAt.Format(time.RFC3339), t.Status, shortID(t.TaskID), t.Channel, t.ChatID, t.Category)
		if t.ErrorText != "" {
			line += " error=" + t.ErrorText
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func printJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
