package nbserver

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type KafkaEventRouter struct {
	ctx      context.Context
	producer *kafka.Writer
}

// NewKafkaEventRouter builds an asynchronous producer so that Process never
// waits on the brokers.
func NewKafkaEventRouter(ctx context.Context, config EventsConfig) (*KafkaEventRouter, error) {
	brokers := getBrokers(config.KafkaBrokers)
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured for event router")
	}
	if config.KafkaTopic == "" {
		return nil, errors.New("no kafka topic configured for event router")
	}
	return &KafkaEventRouter{
		ctx: ctx,
		producer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        config.KafkaTopic,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

func (k *KafkaEventRouter) Process(key string, event *Event) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	return k.producer.WriteMessages(k.ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

func (k *KafkaEventRouter) Close() error {
	return k.producer.Close()
}

func getBrokers(brokers string) []string {
	var result []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			result = append(result, broker)
		}
	}
	return result
}
