package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	req := require.New(t)
	c := NewCollector()

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.Submitted(OutcomeAccepted)
	c.Submitted(OutcomeAccepted)
	c.Submitted(OutcomePublishFailed)
	c.PublishRetried("chat")
	c.Delivered(3)
	c.Dropped()
	c.ConsumerError()
	c.DuplicateSkipped()
	c.Republished()

	req.InDelta(1, testutil.ToFloat64(c.connections), 0)
	req.InDelta(2, testutil.ToFloat64(c.submissions.WithLabelValues(OutcomeAccepted)), 0)
	req.InDelta(1, testutil.ToFloat64(c.submissions.WithLabelValues(OutcomePublishFailed)), 0)
	req.InDelta(1, testutil.ToFloat64(c.publishRetries.WithLabelValues("chat")), 0)
	req.InDelta(3, testutil.ToFloat64(c.deliveries), 0)
	req.InDelta(1, testutil.ToFloat64(c.droppedSends), 0)
	req.InDelta(1, testutil.ToFloat64(c.consumerErrors), 0)
	req.InDelta(1, testutil.ToFloat64(c.duplicatesSkipped), 0)
	req.InDelta(1, testutil.ToFloat64(c.republished), 0)
}

func TestCollector_Registers(t *testing.T) {
	req := require.New(t)
	registry := prometheus.NewRegistry()
	c := NewCollector()
	req.NoError(registry.Register(c))

	c.Submitted(OutcomeInvalid)
	count, err := testutil.GatherAndCount(registry, "chat_relay_submissions_total")
	req.NoError(err)
	req.Equal(1, count)
}
