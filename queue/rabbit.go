// Package queue provides a durable per-destination retry queue backed by
// RabbitMQ: a failed destination send is published as a DestinationJob and
// later redelivered to a worker for retry.
//
// Features:
//   - RabbitMQ connection management
//   - JSON job serialization
//   - Clean resource cleanup
//   - Error handling with wrapped errors
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	eve "github.com/fluxhealth/channelengine/common"
)

// DestinationJob is one retry attempt queued for a destination connector.
// Payload carries the exact bytes the destination's Send failed on, so a
// worker can retry the send without re-reading the source message.
type DestinationJob struct {
	ChannelID     string    `json:"channel_id"`
	MessageID     int64     `json:"message_id"`
	MetaDataID    int       `json:"meta_data_id"`
	ConnectorName string    `json:"connector_name"`
	Payload       []byte    `json:"payload"`
	Attempt       int       `json:"attempt"`
	QueuedAt      time.Time `json:"queued_at"`
}

// QueueName derives the per-destination queue name from a channel and
// metadata id, keeping retries for distinct destinations isolated.
func QueueName(channelID string, metaDataID int) string {
	return fmt.Sprintf("destination.%s.%d", channelID, metaDataID)
}

// DestinationPublisher defines the interface for publishing/consuming
// destination retry jobs. This interface allows for easy mocking and
// testing of queue-backed destinations.
type DestinationPublisher interface {
	Publish(job DestinationJob) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Close() error
}

// DestinationQueue represents a durable AMQP queue bound to one destination
// connector, managing a connection and channel to a RabbitMQ server.
type DestinationQueue struct {
	connection AMQPConnection
	channel    AMQPChannel
	queueName  string
}

// NewDestinationQueue connects to RabbitMQ and declares the per-destination
// durable queue.
func NewDestinationQueue(url, channelID string, metaDataID int) (*DestinationQueue, error) {
	return NewDestinationQueueWithDialer(url, channelID, metaDataID, &RealAMQPDialer{})
}

// NewDestinationQueueWithDialer allows injecting a custom dialer for testing.
func NewDestinationQueueWithDialer(url, channelID string, metaDataID int, dialer AMQPDialer) (*DestinationQueue, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	name := QueueName(channelID, metaDataID)
	_, err = ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &DestinationQueue{connection: conn, channel: ch, queueName: name}, nil
}

// Publish serializes job to JSON and publishes it to this destination's queue.
func (q *DestinationQueue) Publish(job DestinationJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal destination job: %w", err)
	}

	err = q.channel.Publish(
		"",          // exchange (default)
		q.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish destination job: %w", err)
	}

	eve.Logger.WithFields(map[string]interface{}{
		"channel_id":  job.ChannelID,
		"message_id":  job.MessageID,
		"meta_id":     job.MetaDataID,
		"attempt":     job.Attempt,
		"destination": job.ConnectorName,
	}).Info("queued destination retry")
	return nil
}

// Consume starts delivering jobs from this destination's queue to the
// returned channel.
func (q *DestinationQueue) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := q.channel.Consume(
		q.queueName,
		consumerTag,
		false, // autoAck: false, worker acks after a successful retry
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return deliveries, nil
}

// Close closes the channel and connection.
func (q *DestinationQueue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.connection != nil {
		q.connection.Close()
	}
	return nil
}
