package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/refresh"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func statsCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stats [DATA_TYPE]",
		Short: "Show refresh statistics from a running refreshd",
		Long: `Query the admin API of a running refreshd and print its refresh
statistics.

Examples:
  # All data types
  refreshd stats

  # One data type from a remote instance
  refreshd stats --addr http://10.0.0.5:8080 users`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = baseURL(cfg.Server.Addr)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if len(args) == 1 {
				var pm refresh.PerformanceMetrics
				if err := getJSON(ctx, addr+"/v1/stats/"+args[0], &pm); err != nil {
					return err
				}
				printMetrics(os.Stdout, []refresh.PerformanceMetrics{pm})
				return nil
			}

			var stats refresh.Stats
			if err := getJSON(ctx, addr+"/v1/stats", &stats); err != nil {
				return err
			}
			printStats(os.Stdout, stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "admin API base URL (default derived from server.addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// baseURL turns a listen address like ":8080" into a local URL.
func baseURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.WithHint(errors.Wrap(err, "querying refreshd"), "is `refreshd serve` running?")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrapf(errors.ErrNotFound, "%s", url)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("refreshd returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}

func printStats(w io.Writer, s refresh.Stats) {
	fmt.Fprintf(w, "Active subscriptions: %s\n", humanize.Comma(int64(s.ActiveSubscriptions)))
	for _, p := range []refresh.Priority{refresh.PriorityCritical, refresh.PriorityImportant, refresh.PriorityNormal, refresh.PriorityLow} {
		if n := s.ByPriority[p]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", p, n)
		}
	}
	fmt.Fprintf(w, "Queue depth: %d\n", s.QueueDepth)
	fmt.Fprintf(w, "Pending optimistic updates: %d\n\n", s.PendingOptimistic)

	printMetrics(w, append(s.DataTypes, s.Totals))
}

func printMetrics(w io.Writer, metrics []refresh.PerformanceMetrics) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATA TYPE\tREFRESHES\tSUCCESS\tAVG\tCONFLICTS\tLAST")
	for _, pm := range metrics {
		last := "never"
		if !pm.LastRefresh.IsZero() {
			last = humanize.Time(pm.LastRefresh)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%sms\t%.1f%%\t%s\n",
			pm.DataType,
			humanize.Comma(int64(pm.TotalRefreshes)),
			pm.SuccessRate*100,
			humanize.FormatFloat("#,###.#", pm.AverageTimeMs),
			pm.ConflictRate*100,
			last,
		)
	}
	_ = tw.Flush()
}
