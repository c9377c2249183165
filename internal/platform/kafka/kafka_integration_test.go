//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"kycflow/internal/platform/config"
	"kycflow/pkg/testutil/containers"
)

func TestProducerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	broker := containers.GetManager().GetRedpanda(t).Broker
	p, err := NewProducer(config.Kafka{Brokers: []string{broker}, ClientID: "kycflow-test"})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, EnsureTopics(ctx, p.Client(), 1, "kycflow.test"))
	require.NoError(t, EnsureTopics(ctx, p.Client(), 1, "kycflow.test"))

	require.NoError(t, p.Produce(ctx, "kycflow.test", Message{
		Key:     []byte("wf-1"),
		Value:   []byte(`{"ok":true}`),
		Headers: []Header{{Key: "event_type", Value: "workflow.transitioned"}},
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics("kycflow.test"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, "wf-1", string(records[0].Key))
	require.Equal(t, "event_type", records[0].Headers[0].Key)
}
