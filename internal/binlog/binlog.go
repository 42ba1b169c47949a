// Package binlog records resolved plate matches to one or more
// destinations: Supabase REST, Postgres, Kafka, SQS and AWS IoT.
package binlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one persisted match record.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	BinID      string    `json:"bin_id"`
	Confidence float64   `json:"confidence"`
	MatchRatio float64   `json:"match_ratio"`
	ImageName  string    `json:"image_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEntry stamps a fresh id on a record.
func NewEntry(binID string, confidence, ratio float64, imageName string, ts time.Time) Entry {
	return Entry{
		ID:         uuid.New(),
		BinID:      binID,
		Confidence: confidence,
		MatchRatio: ratio,
		ImageName:  imageName,
		Timestamp:  ts,
	}
}

// JSON is the payload shared by the message-oriented sinks.
func (e Entry) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Sink persists entries. Log must honor ctx cancellation.
type Sink interface {
	Log(ctx context.Context, e Entry) error
	Close() error
}

// Multi fans an entry out to every sink. A failing sink does not stop the
// others; all failures are returned joined.
type Multi []Sink

func (m Multi) Log(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Log(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Log(context.Context, Entry) error { return nil }
func (Discard) Close() error                     { return nil }
