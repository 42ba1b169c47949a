package binlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// supabaseRow is the bin_logs row shape expected by the dashboard.
type supabaseRow struct {
	BinID      string  `json:"bin_id"`
	Confidence float64 `json:"confidence"`
	ImageName  string  `json:"image_name"`
	Timestamp  string  `json:"timestamp"`
}

// Supabase inserts rows through the PostgREST endpoint of a Supabase
// project.
type Supabase struct {
	endpoint string
	key      string
	client   *http.Client
}

// NewSupabase targets {baseURL}/rest/v1/{table}.
func NewSupabase(baseURL, key, table string, timeout time.Duration) *Supabase {
	return &Supabase{
		endpoint: strings.TrimRight(baseURL, "/") + "/rest/v1/" + table,
		key:      key,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *Supabase) Log(ctx context.Context, e Entry) error {
	body, err := json.Marshal(supabaseRow{
		BinID:      e.BinID,
		Confidence: e.Confidence,
		ImageName:  e.ImageName,
		Timestamp:  e.Timestamp.Format("2006-01-02T15:04:05.000000"),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase insert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("supabase insert: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (s *Supabase) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
