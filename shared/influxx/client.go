package influxx

import (
	"context"
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"zcc-reporting/shared/config"
	"zcc-reporting/shared/events"
	"zcc-reporting/shared/metricsx"
)

const MeasurementRefreshRun = "refresh_run"

type Client struct {
	client influxdb2.Client
	org    string
	bucket string
}

func New(cfg config.Config) (*Client, error) {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, errors.New("INFLUX_URL/INFLUX_TOKEN/INFLUX_ORG/INFLUX_BUCKET are required")
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(timeoutSeconds(cfg.InfluxTimeoutMS))
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	return &Client{client: client, org: cfg.InfluxOrg, bucket: cfg.InfluxBucket}, nil
}

// timeoutSeconds converts the configured milliseconds to the whole seconds the client
// option takes, rounding up and never below one.
func timeoutSeconds(ms int) uint {
	return uint(max((ms+999)/1000, 1))
}

func (c *Client) WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if c == nil || c.client == nil {
		return errors.New("influx client not initialized")
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	p := influxdb2.NewPoint(measurement, tags, fields, ts)
	writeAPI := c.client.WriteAPIBlocking(c.org, c.bucket)
	if err := writeAPI.WritePoint(ctx, p); err != nil {
		metricsx.IncInfluxWriteFailure()
		return err
	}
	return nil
}

// RecordRefresh writes one refresh_run point per finished run.
func (c *Client) RecordRefresh(ctx context.Context, ev events.RefreshCompleted) error {
	tags, fields := refreshPoint(ev)
	return c.WritePoint(ctx, MeasurementRefreshRun, tags, fields, ev.FinishedAt)
}

func refreshPoint(ev events.RefreshCompleted) (map[string]string, map[string]any) {
	tags := map[string]string{
		"kind":    ev.Kind,
		"status":  ev.Status,
		"trigger": ev.Trigger,
	}
	fields := map[string]any{
		"pages":        ev.Pages,
		"fetched":      ev.Fetched,
		"inserted":     ev.Inserted,
		"skipped":      ev.Skipped,
		"failed_pages": ev.FailedPages,
		"deleted":      ev.Deleted,
		"duration_ms":  ev.Duration().Milliseconds(),
	}
	return tags, fields
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}
