package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

var errNoBrokers = errors.New("kafka brokers are required")

// Producer синхронно отправляет JSON-события в Kafka.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

type ProducerOption func(*Producer)

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProducer подключается к брокерам с идемпотентным продюсером:
// acks=all и не более одного запроса в полёте на соединение.
func NewProducer(brokers []string, clientID string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	sp, err := sarama.NewSyncProducer(brokers, producerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(sp, opts...), nil
}

func producerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func newProducer(sp sarama.SyncProducer, opts ...ProducerOption) *Producer {
	p := &Producer{
		sync:   sp,
		logger: log.WithField("component", "kafka-producer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishEvent кодирует event в JSON и ждёт подтверждения брокера.
// Пустые значения заголовков не отправляются.
func (p *Producer) PublishEvent(ctx context.Context, topic, key string, event any, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event for %s: %w", topic, err)
	}

	fields := log.Fields{"topic": topic, "key": key}
	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(headers),
		Timestamp: p.now(),
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", topic, err)
	}

	fields["partition"] = partition
	fields["offset"] = offset
	p.logger.WithFields(fields).Debug("kafka message sent")
	return nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// recordHeaders упорядочивает заголовки по ключу.
func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	var out []sarama.RecordHeader
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		if v := headers[k]; v != "" {
			out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
		}
	}
	return out
}
