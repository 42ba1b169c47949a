package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/binlog"
)

func TestProducerDeliversToMockCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("mock cluster startup is slow")
	}
	mc, err := kafka.NewMockCluster(1)
	require.NoError(t, err)
	defer mc.Close()

	p, err := NewProducer(mc.BootstrapServers(), "bin-plate-matches")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e := binlog.NewEntry("QAA 1234", 0.91, 0.88, "plate_20250101_120000.jpg", time.Now())
	require.NoError(t, p.Log(ctx, e))

	require.NoError(t, p.Close())
	sent, acked, failed := p.Stats()
	assert.Equal(t, int64(1), sent)
	assert.Equal(t, int64(1), acked)
	assert.Equal(t, int64(0), failed)
}
