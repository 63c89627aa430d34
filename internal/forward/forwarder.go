// Package forward posts the current telemetry to the remote collector.
// Delivery is best effort: failures are logged and dropped.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/elithion/lithiumate-dash/internal/bms"
)

// DefaultURL is the collector script the display reports to.
const DefaultURL = "http://elithion.com/cgi-bin/rmwr.py"

// Config holds forwarder settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Forwarder sends one JSON object per call, keyed by request code.
type Forwarder struct {
	url    string
	client *http.Client
}

func New(cfg Config) *Forwarder {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Forwarder{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Forward posts the records of st listed in bms.ForwardCodes.
func (f *Forwarder) Forward(ctx context.Context, st bms.State) error {
	body, err := json.Marshal(st.Map(bms.ForwardCodes...))
	if err != nil {
		return fmt.Errorf("forward: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("forward: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward: post %s: %w", f.url, err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("forward: %s returned %s", f.url, resp.Status)
	}
	log.Printf("[forward] %s %s", f.url, strings.TrimSpace(string(reply)))
	return nil
}
