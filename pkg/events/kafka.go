package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeRoomCreated   EventType = "room_created"
	EventTypeRoomDeleted   EventType = "room_deleted"
	EventTypeSongAdded     EventType = "song_added"
	EventTypeSongVoted     EventType = "song_voted"
	EventTypeSongStarted   EventType = "song_started"
	EventTypeSongCompleted EventType = "song_completed"
	EventTypeUserJoined    EventType = "user_joined"
	EventTypeUserLeft      EventType = "user_left"
)

// Event is the audit record written to the event stream. It is strictly
// observational; no part of the room state machine reads it back.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publisher is what rooms and the directory depend on. The Kafka client is
// the production implementation; tests and broker-less dev use Noop.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type KafkaClient struct {
	writer *kafka.Writer
}

func NewKafkaClient(brokers []string, topic string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaClient{writer: writer}
}

func (k *KafkaClient) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	messageJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(uuid.New().String()),
		Value: messageJSON,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// Noop discards events. Handy when KAFKA_BROKERS is unset.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Event payload types

type SongPayload struct {
	TrackID  string `json:"track_id"`
	VideoID  string `json:"video_id"`
	Title    string `json:"title"`
	Creator  string `json:"creator"`
	Duration int    `json:"duration"`
}

type VotePayload struct {
	TrackID  string `json:"track_id"`
	ClientID string `json:"client_id"`
	Vote     string `json:"vote"`
	Score    int    `json:"score"`
}

type RoomPayload struct {
	Name     string `json:"name"`
	IsPublic bool   `json:"is_public"`
}
