package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/dashboard"
	"github.com/grafana/grafana-foundation-sdk/go/prometheus"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

func main() {
	builder := dashboard.NewDashboardBuilder("Studio API").
		Uid("studio-api").
		Tags([]string{"studio", "api", "ratelimit", "prometheus"}).
		Refresh("1m").
		Time("now-6h", "now").
		Timezone(common.TimeZoneBrowser)

	builder = builder.WithRow(dashboard.NewRowBuilder("Rate limiting"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Allowed requests by policy").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (policy) (rate(studio_api_ratelimit_decisions_total{outcome="allowed"}[5m]))`).
					LegendFormat("{{policy}}"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Denied requests (429) by policy").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (policy) (rate(studio_api_ratelimit_decisions_total{outcome="denied"}[5m]))`).
					LegendFormat("{{policy}}"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Tracked keys / sweep evictions").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(studio_api_ratelimit_tracked_keys)`).
					LegendFormat("tracked"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(increase(studio_api_ratelimit_sweep_evicted_total[5m]))`).
					LegendFormat("evicted"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Sweep duration p95 / store errors").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`histogram_quantile(0.95, sum by (le) (rate(studio_api_ratelimit_sweep_duration_seconds_bucket[15m])))`).
					LegendFormat("sweep p95"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (operation) (rate(studio_api_ratelimit_store_errors_total[5m]))`).
					LegendFormat("store error {{operation}}"),
			),
	)

	builder = builder.WithRow(dashboard.NewRowBuilder("Leads"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Leads received by locale").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (locale) (increase(studio_api_leads_received_total[1h]))`).
					LegendFormat("{{locale}}"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(increase(studio_api_leads_spam_dropped_total[1h]))`).
					LegendFormat("honeypot"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Newsletter subscriptions").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (result) (increase(studio_api_newsletter_subscriptions_total[1h]))`).
					LegendFormat("{{result}}"),
			),
	)

	builder = builder.WithRow(dashboard.NewRowBuilder("Notifications"))
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Notifications sent / failed by channel").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (channel) (rate(studio_api_notifications_sent_total[5m]))`).
					LegendFormat("sent {{channel}}"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (channel) (rate(studio_api_notification_errors_total[5m]))`).
					LegendFormat("failed {{channel}}"),
			).
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(studio_api_notifications_dropped_total[5m]))`).
					LegendFormat("dropped"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Notification duration avg").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum by (channel) (rate(studio_api_notification_duration_seconds_sum[5m])) / sum by (channel) (rate(studio_api_notification_duration_seconds_count[5m]))`).
					LegendFormat("{{channel}}"),
			),
	)
	builder = builder.WithPanel(
		timeseries.NewPanelBuilder().
			Title("Errors").
			WithTarget(
				prometheus.NewDataqueryBuilder().
					Expr(`sum(rate(studio_api_errors_total[5m]))`).
					LegendFormat("errors"),
			),
	)

	dashboardJSON, err := builder.Build()
	if err != nil {
		panic(err)
	}

	outputPath := os.Getenv("DASHBOARD_OUT")
	if outputPath == "" {
		outputPath = "dashboard.json"
	}

	payload, err := json.MarshalIndent(dashboardJSON, "", "  ")
	if err != nil {
		panic(err)
	}

	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		panic(err)
	}

	fmt.Printf("dashboard written to %s\n", outputPath)
}
