package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hookbox/internal/audit"
	"hookbox/internal/dispatch"
	"hookbox/internal/webhook"
)

var (
	listEvent       string
	listLimit       int
	listJSON        bool
	listProcessed   bool
	listUnprocessed bool
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Inspect and replay stored deliveries",
}

var webhooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored deliveries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runWebhooksList,
}

var webhooksReprocessCmd = &cobra.Command{
	Use:   "reprocess <id>",
	Short: "Dispatch a stored delivery again",
	Long: `Rebuild the event from a stored delivery and run it through the handlers
configured for its event type. The delivery is marked processed when dispatch
succeeds. Signatures are not re-verified.`,
	Args: cobra.ExactArgs(1),
	RunE: runWebhooksReprocess,
}

func init() {
	webhooksListCmd.Flags().StringVarP(&listEvent, "event", "e", "", "Only list deliveries of this event type")
	webhooksListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of deliveries")
	webhooksListCmd.Flags().BoolVar(&listJSON, "json", false, "Print records as JSON")
	webhooksListCmd.Flags().BoolVar(&listProcessed, "processed", false, "Only list processed deliveries")
	webhooksListCmd.Flags().BoolVar(&listUnprocessed, "unprocessed", false, "Only list deliveries not yet processed")
	webhooksListCmd.MarkFlagsMutuallyExclusive("processed", "unprocessed")

	webhooksCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("HOOKBOX_DB_PATH", ""), "Path to SQLite database (overrides audit.db_path)")
	webhooksCmd.AddCommand(webhooksListCmd)
	webhooksCmd.AddCommand(webhooksReprocessCmd)
}

// commandStore loads the configuration and opens its audit database.
func commandStore(logger *slog.Logger) (*audit.Store, error) {
	cfg, _, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	path := cfg.Audit.DBPath
	if dbPath != "" {
		path = dbPath
	}
	if path == "" {
		return nil, fmt.Errorf("no audit database configured")
	}
	return openStore(path, logger)
}

func runWebhooksList(cmd *cobra.Command, args []string) error {
	store, err := commandStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListWebhooks(cmd.Context(), listFilter(listEvent, listLimit, listProcessed, listUnprocessed))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if listJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	return printWebhooks(out, records)
}

// listFilter builds the store filter from the list flags.
func listFilter(event string, limit int, processed, unprocessed bool) audit.WebhookFilter {
	filter := audit.WebhookFilter{EventType: event, Limit: limit}
	switch {
	case processed:
		filter.Processed = &processed
	case unprocessed:
		state := false
		filter.Processed = &state
	}
	return filter
}

func printWebhooks(out io.Writer, records []audit.WebhookRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No stored deliveries")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tDELIVERY\tRECEIVED\tPROCESSED")
	for _, rec := range records {
		delivery := "-"
		if rec.DeliveryID != nil {
			delivery = *rec.DeliveryID
		}
		processed := "no"
		if rec.ProcessedAt != nil {
			processed = rec.ProcessedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", rec.ID, rec.EventType, delivery, rec.CreatedAt.Local().Format(time.DateTime), processed)
	}
	return tw.Flush()
}

func runWebhooksReprocess(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid delivery id %q", args[0])
	}

	cfg, _, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger, _, err := setupLogging("", cfg.LogLevel)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Audit.DBPath = dbPath
	}
	if cfg.Audit.DBPath == "" {
		return fmt.Errorf("no audit database configured")
	}

	store, err := openStore(cfg.Audit.DBPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	a, err := newApp(cfg, store, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	outcomes, err := reprocess(cmd.Context(), store, a.router, id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(outcomeReport(outcomes))
}

// reprocess dispatches stored delivery id and marks it processed.
func reprocess(ctx context.Context, store *audit.Store, router *dispatch.Router, id int64) ([]dispatch.Outcome, error) {
	rec, err := store.GetWebhook(ctx, id)
	if err != nil {
		return nil, err
	}
	headers, err := rec.DecodeHeaders()
	if err != nil {
		return nil, err
	}

	deliveryID := ""
	if rec.DeliveryID != nil {
		deliveryID = *rec.DeliveryID
	}
	event := webhook.NewEvent(rec.EventType, deliveryID, rec.Payload, headers, time.Now())
	payload, err := event.Payload()
	if err != nil {
		return nil, fmt.Errorf("stored payload: %w", err)
	}

	outcomes, err := router.Dispatch(ctx, event, payload)
	if err != nil {
		return nil, err
	}
	if err := store.MarkProcessed(ctx, rec.ID); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

type outcomeLine struct {
	Handler string `json:"handler"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func outcomeReport(outcomes []dispatch.Outcome) []outcomeLine {
	lines := make([]outcomeLine, 0, len(outcomes))
	for _, o := range outcomes {
		line := outcomeLine{Handler: o.HandlerID, Result: o.Result}
		if o.Err != nil {
			line.Error = o.Err.Error()
		}
		lines = append(lines, line)
	}
	return lines
}
