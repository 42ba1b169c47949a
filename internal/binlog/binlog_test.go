package binlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry() Entry {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	return NewEntry("BAM 9267", 0.91, 0.875, "plate_20250314_092653.jpg", ts)
}

func TestSupabaseInsert(t *testing.T) {
	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL+"/", "anon-key", "bin_logs", time.Second)
	require.NoError(t, s.Log(context.Background(), sampleEntry()))

	assert.Equal(t, "/rest/v1/bin_logs", gotPath)
	assert.Equal(t, "anon-key", gotHeaders.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", gotHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))

	assert.Equal(t, "BAM 9267", gotBody["bin_id"])
	assert.InDelta(t, 0.91, gotBody["confidence"], 1e-9)
	assert.Equal(t, "plate_20250314_092653.jpg", gotBody["image_name"])
	assert.Equal(t, "2025-03-14T09:26:53.000000", gotBody["timestamp"])
	assert.NotContains(t, gotBody, "match_ratio")
}

func TestSupabaseRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewSupabase(srv.URL, "bad", "bin_logs", time.Second).Log(context.Background(), sampleEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid key")
}

type recordingSink struct {
	entries []Entry
	err     error
	closed  bool
}

func (r *recordingSink) Log(_ context.Context, e Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

func TestMultiContinuesPastFailures(t *testing.T) {
	boom := errors.New("db down")
	first := &recordingSink{err: boom}
	second := &recordingSink{}
	m := Multi{first, second}

	err := m.Log(context.Background(), sampleEntry())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.entries, 1)
	assert.Len(t, second.entries, 1)

	require.NoError(t, m.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestNewEntryAssignsDistinctIDs(t *testing.T) {
	a, b := sampleEntry(), sampleEntry()
	assert.NotEqual(t, a.ID, b.ID)
}

type fakeSQS struct{ in *sqs.SendMessageInput }

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.in = in
	return &sqs.SendMessageOutput{}, nil
}

type fakeIoT struct{ in *iotdataplane.PublishInput }

func (f *fakeIoT) Publish(_ context.Context, in *iotdataplane.PublishInput, _ ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error) {
	f.in = in
	return &iotdataplane.PublishOutput{}, nil
}

func TestSQSAndIoTPayload(t *testing.T) {
	e := sampleEntry()

	q := &fakeSQS{}
	require.NoError(t, (&SQS{client: q, queueURL: "https://sqs/queue"}).Log(context.Background(), e))
	assert.Equal(t, "https://sqs/queue", aws.ToString(q.in.QueueUrl))
	assert.Equal(t, "BAM 9267", aws.ToString(q.in.MessageAttributes["bin_id"].StringValue))

	var decoded Entry
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(q.in.MessageBody)), &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.InDelta(t, 0.875, decoded.MatchRatio, 1e-9)

	iot := &fakeIoT{}
	require.NoError(t, (&IoT{client: iot, topic: "bins/plate/matches"}).Log(context.Background(), e))
	assert.Equal(t, "bins/plate/matches", aws.ToString(iot.in.Topic))
	assert.EqualValues(t, 1, iot.in.Qos)
	assert.JSONEq(t, aws.ToString(q.in.MessageBody), string(iot.in.Payload))
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("BINLOG_TEST_DSN")
	if dsn == "" {
		t.Skip("BINLOG_TEST_DSN not set")
	}
	pg, err := OpenPostgres(dsn)
	require.NoError(t, err)
	defer pg.Close()

	e := sampleEntry()
	e.BinID = "TEST " + e.ID.String()[:8]
	require.NoError(t, pg.Log(context.Background(), e))

	rows, err := pg.Recent(context.Background(), e.BinID, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, e.ID, rows[0].ID)
	assert.Equal(t, e.ImageName, rows[0].ImageName)
}
