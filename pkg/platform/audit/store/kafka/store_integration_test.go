//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "certreg/pkg/platform/audit"
	"certreg/pkg/platform/audit/store/kafka"
	"certreg/pkg/testutil/containers"
)

type KafkaStoreSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaStoreSuite))
}

func (s *KafkaStoreSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaStoreSuite) TestAppendIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "certreg.audit.it"
	store, err := kafka.New(kafka.Config{
		Brokers:          s.redpanda.Brokers,
		Topic:            topic,
		FailureThreshold: 3,
		Cooldown:         time.Second,
	})
	s.Require().NoError(err)
	defer store.Close()

	s.Require().NoError(store.EnsureTopic(ctx))
	s.Require().NoError(store.EnsureTopic(ctx), "ensure is idempotent")
	s.Require().NoError(store.Health(ctx))

	event := audit.Event{
		ID:       "evt-1",
		Category: audit.CategoryCompliance,
		Action:   string(audit.EventOrganizationApproved),
		Subject:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
	}
	s.Require().NoError(store.Append(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	s.Require().Empty(fetches.Errors())
	records := fetches.Records()
	s.Require().NotEmpty(records)

	var got audit.Event
	s.Require().NoError(json.Unmarshal(records[0].Value, &got))
	s.Equal(event, got)
}
