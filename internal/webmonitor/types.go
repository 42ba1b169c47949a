package webmonitor

import (
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/latest"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/snapshot"
)

// LatestResponse is the body of GET /latest. Plate and Timestamp are
// null until the first confident match.
type LatestResponse struct {
	Plate      *string `json:"plate"`
	Confidence float64 `json:"confidence"`
	Timestamp  *string `json:"timestamp"`
}

func newLatestResponse(r latest.Result) LatestResponse {
	resp := LatestResponse{Confidence: r.Confidence}
	if r.Empty() {
		return resp
	}
	plate := r.Plate
	ts := r.Timestamp.Format(latest.TimestampLayout)
	resp.Plate, resp.Timestamp = &plate, &ts
	return resp
}

// ResultEvent is the payload pushed over SSE and websocket on each new
// latest result.
type ResultEvent struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
	Version    uint64  `json:"version"`
}

func newResultEvent(r latest.Result) ResultEvent {
	return ResultEvent{
		Plate:      r.Plate,
		Confidence: r.Confidence,
		Timestamp:  r.Timestamp.Format(latest.TimestampLayout),
		Version:    r.Version,
	}
}

// asMap is the structpb input for the protobuf encoding.
func (e ResultEvent) asMap() map[string]any {
	return map[string]any{
		"plate":      e.Plate,
		"confidence": e.Confidence,
		"timestamp":  e.Timestamp,
		"version":    float64(e.Version),
	}
}

// MonitorStats is reported by /health.
type MonitorStats struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	StreamClients int     `json:"stream_clients"`
	EventClients  int     `json:"event_clients"`
	FramesSent    uint64  `json:"frames_sent"`
	StreamReads   uint64  `json:"stream_reads"`
	LatestVersion uint64  `json:"latest_version"`
	CameraReads   uint64  `json:"camera_reads"`
	CameraErrors  uint64  `json:"camera_errors"`

	Registry  []string         `json:"registry,omitempty"`
	Threshold float64          `json:"threshold,omitempty"`
	Snapshots *snapshot.Status `json:"snapshots,omitempty"`
}
