// Package events publishes ride lifecycle changes to Kafka so downstream
// consumers (the timeline builder in cmd/consumer) can follow them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/rideshare/internal/models"
)

const (
	TypeOffered   = "ride.offered"
	TypeBooked    = "ride.booked"
	TypeAccepted  = "ride.accepted"
	TypeCompleted = "ride.completed"
	TypeReleased  = "ride.released"
)

// RideEvent is the message value. Status is the ride status after the change.
type RideEvent struct {
	Type        string            `json:"type"`
	RideID      string            `json:"rideId"`
	DriverID    string            `json:"driverId"`
	PassengerID string            `json:"passengerId,omitempty"`
	Status      models.RideStatus `json:"status"`
	At          time.Time         `json:"at"`
}

// TypeFor names the event emitted when a ride moves to status.
func TypeFor(status models.RideStatus) string {
	switch status {
	case models.StatusOpen:
		return TypeOffered
	case models.StatusBooked:
		return TypeBooked
	case models.StatusOngoing:
		return TypeAccepted
	case models.StatusCompleted:
		return TypeCompleted
	}
	return ""
}

// NewRideEvent builds an event from the ride's state after a change.
func NewRideEvent(typ string, r *models.Ride, at time.Time) RideEvent {
	return RideEvent{
		Type:        typ,
		RideID:      r.ID,
		DriverID:    r.DriverID(),
		PassengerID: r.PassengerID(),
		Status:      r.Status,
		At:          at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev RideEvent) error
	Close() error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaProducer{writer: w}
}

// Publish keys messages by ride id so one ride's events stay ordered
// within a partition.
func (k *KafkaProducer) Publish(ctx context.Context, ev RideEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Nop discards events. Used when KAFKA_BROKERS is unset.
type Nop struct{}

func (Nop) Publish(context.Context, RideEvent) error { return nil }
func (Nop) Close() error                             { return nil }

// Decode parses a message value produced by KafkaProducer.
func Decode(b []byte) (RideEvent, error) {
	var ev RideEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}
