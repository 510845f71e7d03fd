// Package influx is a deliberately thin HTTP client satisfying
// timeseries.Store against an InfluxDB-compatible line-protocol write
// endpoint and a flux-style query endpoint. No example in the pack ships
// a time-series client, so this adapter is named rather than grounded: it
// mirrors the shape of this codebase's own HTTPCache adapter (a small
// http.Client wrapper with a context-bound deadline per call) rather than
// introducing an unrelated pattern.
package influx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valorence/relayctl/internal/model"
	"github.com/valorence/relayctl/internal/timeseries"
)

// Client writes Samples as line-protocol points and answers Query by
// calling a query endpoint that returns JSON rows directly (the precise
// flux/SQL dialect is the store's concern, not this adapter's).
type Client struct {
	BaseURL string
	Token   string
	Bucket  string
	Org     string
	HTTP    *http.Client
}

func New(baseURL, token, org, bucket string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Bucket:  bucket,
		Org:     org,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

var _ timeseries.Store = (*Client)(nil)

// Write encodes samples as line protocol (one line per source+field) and
// POSTs them in a single request.
func (c *Client) Write(ctx context.Context, samples []model.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, s := range samples {
		fields := make([]string, 0, len(s.Fields))
		for k, v := range s.Fields {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, k := range fields {
			fmt.Fprintf(&buf, "sample,source_id=%s %s=%s %d\n",
				escapeTag(s.SourceID), k, strconv.FormatFloat(s.Fields[k], 'f', -1, 64), s.Timestamp*int64(time.Millisecond))
		}
	}

	url := fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=ns", c.BaseURL, c.Org, c.Bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.Token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("influx: write returned status %d", resp.StatusCode)
	}
	return nil
}

type queryResult struct {
	Data []timeseries.Point `json:"data"`
}

// Query asks the store for {source_id, field, from, to} and expects a JSON
// body of {"data":[{"time":...,"value":...}]} back; translating that into
// this store's actual flux/SQL text is the store's own concern.
func (c *Client) Query(ctx context.Context, q timeseries.Query) (timeseries.Result, error) {
	url := fmt.Sprintf("%s/api/v2/query?org=%s&source_id=%s&field=%s&from=%s&to=%s",
		c.BaseURL, c.Org, q.SourceID, q.Field,
		q.From.UTC().Format(time.RFC3339), q.To.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return timeseries.Result{}, err
	}
	req.Header.Set("Authorization", "Token "+c.Token)
	// Each query runs on its own connection, closed afterwards, so it never
	// shares a pooled connection with the write path.
	tr := &http.Transport{Proxy: http.ProxyFromEnvironment, DisableKeepAlives: true}
	defer tr.CloseIdleConnections()
	resp, err := (&http.Client{Timeout: c.HTTP.Timeout, Transport: tr}).Do(req)
	if err != nil {
		return timeseries.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return timeseries.Result{}, fmt.Errorf("influx: query returned status %d", resp.StatusCode)
	}
	var qr queryResult
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return timeseries.Result{}, fmt.Errorf("influx: decode query response: %w", err)
	}
	return timeseries.Result{Data: qr.Data, Meta: map[string]any{"source_id": q.SourceID, "field": q.Field}}, nil
}

func escapeTag(s string) string {
	s = strings.ReplaceAll(s, " ", "\\ ")
	s = strings.ReplaceAll(s, ",", "\\,")
	return strings.ReplaceAll(s, "=", "\\=")
}
