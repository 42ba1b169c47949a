package apicompat

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestAPICompatMJPEGStream(t *testing.T) {
	ps := dialPlateServer(t)
	boundary, part := ps.firstFrame(t)
	if boundary != "frame" {
		t.Fatalf("boundary = %q, want frame", boundary)
	}
	if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("part content-type = %q", ct)
	}
	soi := make([]byte, 2)
	if _, err := io.ReadFull(part, soi); err != nil || !bytes.Equal(soi, []byte{0xFF, 0xD8}) {
		t.Fatalf("part is not a JPEG: %x (%v)", soi, err)
	}
}

func TestAPICompatLatestStream(t *testing.T) {
	ps := dialPlateServer(t)
	ev, contentType, ok := ps.nextResult(t, 3*time.Second)
	if !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("latest stream content-type = %q", contentType)
	}
	if !ok {
		t.Skip("no match published yet")
	}
	if ev.Plate == "" || ev.Version == 0 {
		t.Fatalf("event = %+v", ev)
	}
	checkMatchTime(t, ev.Timestamp)
}
