package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	yaml "go.yaml.in/yaml/v3"
)

// Response shapes of the notifyhub API.

type triggerResult struct {
	Event       string   `json:"event" yaml:"event"`
	Matched     int      `json:"matched" yaml:"matched"`
	Skipped     int      `json:"skipped" yaml:"skipped"`
	DeliveryIDs []string `json:"delivery_ids" yaml:"delivery_ids"`
}

type delivery struct {
	ID            string         `json:"id" yaml:"id"`
	EventSourceID string         `json:"event_source_id" yaml:"event_source_id"`
	RuleID        string         `json:"rule_id" yaml:"rule_id"`
	Channel       string         `json:"channel" yaml:"channel"`
	Recipient     string         `json:"recipient" yaml:"recipient"`
	Status        string         `json:"status" yaml:"status"`
	Attempts      int            `json:"attempts" yaml:"attempts"`
	ErrorMessage  *string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Payload       map[string]any `json:"payload" yaml:"payload"`
	SentAt        *time.Time     `json:"sent_at,omitempty" yaml:"sent_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at" yaml:"created_at"`
}

type deliveryPage struct {
	Data    []delivery `json:"data" yaml:"data"`
	Total   int64      `json:"total" yaml:"total"`
	Page    int        `json:"page" yaml:"page"`
	PerPage int        `json:"per_page" yaml:"per_page"`
}

type stats struct {
	ActiveRules int64            `json:"active_rules" yaml:"active_rules"`
	Sent        int64            `json:"sent" yaml:"sent"`
	Failed      int64            `json:"failed" yaml:"failed"`
	ByStatus    map[string]int64 `json:"by_status" yaml:"by_status"`
}

// render writes v in the requested format. table falls back to tableFn.
func render(w io.Writer, format string, v any, tableFn func(w io.Writer)) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := yaml.Marshal(normalizeNumbers(v))
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		tableFn(tw)
		return tw.Flush()
	}
	return fmt.Errorf("unknown output format %q (valid: table, json, yaml)", format)
}

// normalizeNumbers round-trips through JSON so json.Number payload values
// encode as YAML numbers rather than strings.
func normalizeNumbers(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func printDeliveries(w io.Writer, page deliveryPage) {
	fmt.Fprintln(w, "ID\tCHANNEL\tSTATUS\tATTEMPTS\tRECIPIENT\tCREATED\tERROR")
	for _, d := range page.Data {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			d.ID, d.Channel, d.Status, d.Attempts, d.Recipient,
			humanize.Time(d.CreatedAt), truncate(deref(d.ErrorMessage), 48))
	}
	fmt.Fprintf(w, "\npage %d, %d of %s records\n", page.Page, len(page.Data), humanize.Comma(page.Total))
}

func printDelivery(w io.Writer, d delivery) {
	fmt.Fprintf(w, "ID\t%s\n", d.ID)
	fmt.Fprintf(w, "Event source\t%s\n", d.EventSourceID)
	fmt.Fprintf(w, "Rule\t%s\n", d.RuleID)
	fmt.Fprintf(w, "Channel\t%s\n", d.Channel)
	fmt.Fprintf(w, "Recipient\t%s\n", d.Recipient)
	fmt.Fprintf(w, "Status\t%s\n", d.Status)
	fmt.Fprintf(w, "Attempts\t%d\n", d.Attempts)
	fmt.Fprintf(w, "Created\t%s (%s)\n", d.CreatedAt.Format(time.RFC3339), humanize.Time(d.CreatedAt))
	if d.SentAt != nil {
		fmt.Fprintf(w, "Sent\t%s (%s)\n", d.SentAt.Format(time.RFC3339), humanize.Time(*d.SentAt))
	}
	if d.ErrorMessage != nil {
		fmt.Fprintf(w, "Error\t%s\n", *d.ErrorMessage)
	}
}

func printStats(w io.Writer, s stats) {
	fmt.Fprintf(w, "Active rules\t%s\n", humanize.Comma(s.ActiveRules))
	for _, st := range []string{"pending", "processing", "sent", "failed"} {
		fmt.Fprintf(w, "%s\t%s\n", strings.ToUpper(st[:1])+st[1:], humanize.Comma(s.ByStatus[st]))
	}
}

func printTrigger(w io.Writer, r triggerResult) {
	fmt.Fprintf(w, "Event\t%s\n", r.Event)
	fmt.Fprintf(w, "Matched\t%d\n", r.Matched)
	fmt.Fprintf(w, "Skipped\t%d\n", r.Skipped)
	for _, id := range r.DeliveryIDs {
		fmt.Fprintf(w, "Delivery\t%s\n", id)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
