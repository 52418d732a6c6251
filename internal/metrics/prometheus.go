package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"inferload/internal/stats"
)

// ServerMetric names one server-side histogram metric to pull from
// Prometheus for each stage window.
type ServerMetric struct {
	Name   string `mapstructure:"name"`   // report key, e.g. "ttft"
	Metric string `mapstructure:"metric"` // histogram base name, e.g. "vllm:time_to_first_token_seconds"
	Filter string `mapstructure:"filter"` // optional label filter, e.g. `model_name="llama"`
}

// PromClient polls an external Prometheus for server-side metrics over
// a stage's [start, end] window. Scrape failures degrade the report,
// never the run.
type PromClient struct {
	api     v1.API
	metrics []ServerMetric
	logger  *slog.Logger
}

func NewPromClient(url string, metrics []ServerMetric, logger *slog.Logger) (*PromClient, error) {
	client, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PromClient{api: v1.NewAPI(client), metrics: metrics, logger: logger}, nil
}

// Collect returns one summary per configured metric, evaluated at the
// window end over the window length.
func (c *PromClient) Collect(ctx context.Context, start, end time.Time) (map[string]stats.Summary, error) {
	window := end.Sub(start)
	if window <= 0 {
		return nil, fmt.Errorf("empty stage window")
	}
	rng := fmt.Sprintf("%ds", int(window.Seconds())+1)

	out := make(map[string]stats.Summary, len(c.metrics))
	for _, m := range c.metrics {
		sum, err := c.collectOne(ctx, m, rng, end)
		if err != nil {
			c.logger.Warn("server metric scrape failed", "metric", m.Name, "error", err)
			continue
		}
		out[m.Name] = sum
	}
	return out, nil
}

func (c *PromClient) collectOne(ctx context.Context, m ServerMetric, rng string, at time.Time) (stats.Summary, error) {
	var sum stats.Summary

	mean, err := c.scalar(ctx, fmt.Sprintf(
		"sum(rate(%s_sum{%s}[%s])) / sum(rate(%s_count{%s}[%s]))",
		m.Metric, m.Filter, rng, m.Metric, m.Filter, rng), at)
	if err != nil {
		return sum, err
	}
	sum.Mean = mean

	for _, q := range []struct {
		p    float64
		dest *float64
	}{{0.1, &sum.P10}, {0.5, &sum.Median}, {0.9, &sum.P90}, {0.99, &sum.P99}} {
		v, err := c.scalar(ctx, fmt.Sprintf(
			"histogram_quantile(%g, sum(rate(%s_bucket{%s}[%s])) by (le))",
			q.p, m.Metric, m.Filter, rng), at)
		if err != nil {
			return sum, err
		}
		*q.dest = v
	}
	return sum, nil
}

func (c *PromClient) scalar(ctx context.Context, query string, at time.Time) (float64, error) {
	res, warns, err := c.api.Query(ctx, query, at)
	if err != nil {
		return 0, err
	}
	for _, w := range warns {
		c.logger.Debug("prometheus warning", "query", query, "warning", w)
	}
	vec, ok := res.(model.Vector)
	if !ok || len(vec) == 0 {
		return 0, fmt.Errorf("no data for query %q", query)
	}
	return float64(vec[0].Value), nil
}
