package apicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/latest"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/webmonitor"
)

// plateServer talks to a running plate server. The dashboard polls
// /latest, embeds /stream and may subscribe to /api/latest/stream.
type plateServer struct {
	base string
	http *http.Client
}

func dialPlateServer(t *testing.T) *plateServer {
	t.Helper()
	base := os.Getenv("PLATE_BASE_URL")
	if base == "" {
		base = "http://localhost:8000"
	}
	ps := &plateServer{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 2 * time.Second}}
	resp, err := ps.http.Get(ps.base + "/")
	if err != nil {
		t.Skipf("plate server not reachable at %s (set PLATE_BASE_URL to run)", ps.base)
	}
	resp.Body.Close()
	return ps
}

// getJSON decodes the body of path into out. origin, when set, is sent
// as the Origin header the dashboard would send.
func (ps *plateServer) getJSON(t *testing.T, path, origin string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ps.base+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := ps.http.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d", path, resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("GET %s content-type = %q", path, resp.Header.Get("Content-Type"))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("GET %s: decode: %v", path, err)
	}
	return resp
}

// latest fetches /latest and checks that every key is present, plate
// and timestamp being null together before the first match.
func (ps *plateServer) latest(t *testing.T, origin string) (webmonitor.LatestResponse, *http.Response) {
	t.Helper()
	var raw map[string]json.RawMessage
	resp := ps.getJSON(t, "/latest", origin, &raw)
	for _, key := range []string{"plate", "confidence", "timestamp"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("/latest is missing %q", key)
		}
	}
	var body webmonitor.LatestResponse
	for key, dst := range map[string]any{"plate": &body.Plate, "confidence": &body.Confidence, "timestamp": &body.Timestamp} {
		if err := json.Unmarshal(raw[key], dst); err != nil {
			t.Fatalf("/latest %s: %v", key, err)
		}
	}
	if (body.Plate == nil) != (body.Timestamp == nil) {
		t.Fatalf("/latest plate and timestamp disagree: %s", raw)
	}
	return body, resp
}

// firstFrame opens /stream and returns the first multipart part.
func (ps *plateServer) firstFrame(t *testing.T) (boundary string, part *multipart.Part) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.base+"/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /stream status = %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("GET /stream content-type = %q (%v)", resp.Header.Get("Content-Type"), err)
	}
	part, err = multipart.NewReader(resp.Body, params["boundary"]).NextPart()
	if err != nil {
		t.Fatalf("first stream part: %v", err)
	}
	return params["boundary"], part
}

// nextResult waits for one latest-result event, skipping keepalive
// comments. ok is false when none arrives within wait.
func (ps *plateServer) nextResult(t *testing.T, wait time.Duration) (ev webmonitor.ResultEvent, contentType string, ok bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ps.base+"/api/latest/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/latest/stream: %v", err)
	}
	defer resp.Body.Close()
	contentType = resp.Header.Get("Content-Type")

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, found := strings.CutPrefix(sc.Text(), "data:")
		if !found {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			t.Fatalf("result event %q: %v", data, err)
		}
		return ev, contentType, true
	}
	return ev, contentType, false
}

// checkMatchTime fails unless ts parses in the API timestamp layout.
func checkMatchTime(t *testing.T, ts string) {
	t.Helper()
	if _, err := time.ParseInLocation(latest.TimestampLayout, ts, time.Local); err != nil {
		t.Fatalf("timestamp %q: %v", ts, err)
	}
}
