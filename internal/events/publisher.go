package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/verification"
)

// EventTypeVerified is the type of a completed verification event
const EventTypeVerified = "certificate.verification.completed"

// VerificationEvent tells downstream consumers, such as the gamification
// service, that a certificate verification finished
type VerificationEvent struct {
	EventID              string                `json:"eventId"`
	Type                 string                `json:"type"`
	CertificateID        string                `json:"certificateId"`
	UserID               string                `json:"userId,omitempty"`
	Decision             verification.Decision `json:"decision"`
	ConfidenceScore      int                   `json:"confidenceScore"`
	EnhancedVerification bool                  `json:"enhancedVerification"`
	IssuerVerified       bool                  `json:"issuerVerified"`
	OccurredAt           time.Time             `json:"occurredAt"`
}

// NewVerificationEvent builds the event for an outcome
func NewVerificationEvent(certificateID, userID string, outcome *verification.VerificationOutcome) VerificationEvent {
	return VerificationEvent{
		EventID:              uuid.NewString(),
		Type:                 EventTypeVerified,
		CertificateID:        certificateID,
		UserID:               userID,
		Decision:             outcome.AIDecision,
		ConfidenceScore:      outcome.ConfidenceScore,
		EnhancedVerification: outcome.EnhancedVerification,
		IssuerVerified:       outcome.IssuerCheck != nil && outcome.IssuerCheck.IssuerVerified,
		OccurredAt:           outcome.VerificationDate,
	}
}

// Publisher emits verification events
type Publisher interface {
	PublishVerification(ctx context.Context, event VerificationEvent) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events to a Kafka topic
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxAttempts,
		Async:        cfg.Async,
	}
	return newKafkaPublisher(writer, cfg.Topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		logger: logger,
	}
}

// PublishVerification sends the event keyed by certificate ID so all
// events of one certificate land on the same partition
func (p *KafkaPublisher) PublishVerification(ctx context.Context, event VerificationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.CertificateID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "source-service", Value: []byte("verification-engine")},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish verification event",
			zap.String("topic", p.topic),
			zap.String("certificate_id", event.CertificateID),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Verification event published",
		zap.String("topic", p.topic),
		zap.String("event_id", event.EventID))
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events
type NopPublisher struct{}

// PublishVerification does nothing
func (NopPublisher) PublishVerification(context.Context, VerificationEvent) error { return nil }

// Close does nothing
func (NopPublisher) Close() error { return nil }
