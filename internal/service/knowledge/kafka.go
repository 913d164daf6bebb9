package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"livechat-backend/internal/env"
	"livechat-backend/internal/model"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/xdg-go/scram"
)

func NewSaramaConfig(cfg env.KafkaConfig) (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = "livechat-backend"

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	if cfg.Username == "" {
		return config, nil
	}

	config.Net.SASL.Enable = true
	config.Net.SASL.Handshake = true
	config.Net.SASL.User = cfg.Username
	config.Net.SASL.Password = cfg.Password

	switch strings.ToUpper(cfg.Mechanism) {
	case "", sarama.SASLTypePlaintext:
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case sarama.SASLTypeSCRAMSHA256:
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{hashGenerator: scram.SHA256}
		}
	case sarama.SASLTypeSCRAMSHA512:
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{hashGenerator: scram.SHA512}
		}
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.Mechanism)
	}
	return config, nil
}

// KafkaAdapter publishes one Envelope per message, keyed by room id so a
// room's messages stay ordered within a partition.
type KafkaAdapter struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
	log      zerolog.Logger
}

func NewKafkaAdapter(cfg env.KafkaConfig, log zerolog.Logger) (*KafkaAdapter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka adapter: no brokers configured")
	}
	config, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka adapter: %w", err)
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("kafka adapter: create producer: %w", err)
	}
	return NewKafkaAdapterWithProducer(producer, cfg.Topic, log), nil
}

func NewKafkaAdapterWithProducer(producer sarama.SyncProducer, topic string, log zerolog.Logger) *KafkaAdapter {
	return &KafkaAdapter{
		producer: producer,
		topic:    topic,
		now:      time.Now,
		log:      log,
	}
}

func (a *KafkaAdapter) OnMessage(ctx context.Context, room model.RoomItem, message model.MessageItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(NewEnvelope(room, message, a.now().UnixMilli()))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	partition, offset, err := a.producer.SendMessage(&sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(message.RoomID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", a.topic, err)
	}

	a.log.Debug().
		Str("room_id", message.RoomID).
		Str("message_id", message.MessageID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("knowledge message published")
	return nil
}

func (a *KafkaAdapter) Close() error {
	return a.producer.Close()
}
