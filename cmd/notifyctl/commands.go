package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func triggerCmd() *cobra.Command {
	var payloadFile string
	cmd := &cobra.Command{
		Use:   "trigger EVENT [PAYLOAD_JSON]",
		Short: "Trigger an event",
		Long: `Trigger an event on the server. The payload is a JSON object given
inline or read from a file with --file (use - for stdin).

Examples:
  notifyctl trigger order_created '{"id": 42, "status": "paid"}'
  notifyctl trigger order_created -f order.json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte("{}")
			switch {
			case payloadFile == "-":
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				raw = data
			case payloadFile != "":
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				raw = data
			case len(args) == 2:
				raw = []byte(args[1])
			}

			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			var payload map[string]any
			if err := dec.Decode(&payload); err != nil {
				return fmt.Errorf("payload must be a JSON object: %w", err)
			}

			var res triggerResult
			body := map[string]any{"event": args[0], "payload": payload}
			if err := newAPIClient(serverURL, apiKey).do(cmd.Context(), http.MethodPost, "/api/events", nil, body, &res); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFmt, res, func(w io.Writer) { printTrigger(w, res) })
		},
	}
	cmd.Flags().StringVarP(&payloadFile, "file", "f", "", "Read the payload from a file")
	return cmd
}

func deliveriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deliveries",
		Aliases: []string{"delivery", "d"},
		Short:   "Inspect delivery records",
	}
	cmd.AddCommand(deliveriesListCmd())
	cmd.AddCommand(deliveriesGetCmd())
	return cmd
}

func deliveriesListCmd() *cobra.Command {
	var (
		source, status, channel string
		page, perPage           int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List delivery records, newest first",
		Long: `List delivery records, newest first.

Examples:
  notifyctl deliveries list --status failed
  notifyctl deliveries list --channel email --page 2 --per-page 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			setIf(q, "event_source_id", source)
			setIf(q, "status", status)
			setIf(q, "channel", channel)
			if page > 0 {
				q.Set("page", strconv.Itoa(page))
			}
			if perPage > 0 {
				q.Set("per_page", strconv.Itoa(perPage))
			}

			var res deliveryPage
			if err := newAPIClient(serverURL, apiKey).do(cmd.Context(), http.MethodGet, "/api/deliveries", q, nil, &res); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFmt, res, func(w io.Writer) { printDeliveries(w, res) })
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Filter by event source id")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: pending, processing, sent, failed")
	cmd.Flags().StringVar(&channel, "channel", "", "Filter by channel: email, sms, chat")
	cmd.Flags().IntVar(&page, "page", 0, "Page number (1-based)")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "Records per page (server default 15, max 100)")
	return cmd
}

func deliveriesGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one delivery record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res delivery
			path := "/api/deliveries/" + url.PathEscape(args[0])
			if err := newAPIClient(serverURL, apiKey).do(cmd.Context(), http.MethodGet, path, nil, nil, &res); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFmt, res, func(w io.Writer) { printDelivery(w, res) })
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res stats
			if err := newAPIClient(serverURL, apiKey).do(cmd.Context(), http.MethodGet, "/api/stats", nil, nil, &res); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), outputFmt, res, func(w io.Writer) { printStats(w, res) })
		},
	}
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}
