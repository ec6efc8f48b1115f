package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/flightops/weathermine/internal/models"
)

// KafkaSink publishes accepted observations as JSON messages, keyed by
// location so per-location ordering survives partitioning.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(cfg models.KafkaConfig) (*KafkaSink, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = true // Must be true for SyncProducer
	saramaConfig.Net.DialTimeout = 30 * time.Second
	saramaConfig.Net.ReadTimeout = 30 * time.Second
	saramaConfig.Net.WriteTimeout = 30 * time.Second

	brokerList := strings.Split(cfg.BrokerList, ",")

	producer, err := sarama.NewSyncProducer(brokerList, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sarama producer: %w", err)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "weather_observations"
	}

	log.Printf("Sarama producer created successfully with brokers %v", brokerList)
	return &KafkaSink{producer: producer, topic: topic}, nil
}

func (s *KafkaSink) Write(_ context.Context, batch []models.WeatherObservation) error {
	if s.producer == nil {
		return fmt.Errorf("Sarama producer is not initialized")
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, obs := range batch {
		payload, err := json.Marshal(obs)
		if err != nil {
			return fmt.Errorf("failed to encode observation %s: %w", obs.Key(), err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(obs.Location),
			Value: sarama.ByteEncoder(payload),
		})
	}

	if err := s.producer.SendMessages(msgs); err != nil {
		log.Printf("Failed to send %d message(s) to topic %s: %v", len(msgs), s.topic, err)
		return err
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
