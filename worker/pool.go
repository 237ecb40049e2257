// Package worker provides a generic worker pool for retrying queued
// destination jobs. Workers consume deliveries from a durable AMQP queue and
// hand each one to a RetryFunc; failures are requeued with a fixed backoff.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	eve "github.com/fluxhealth/channelengine/common"
)

// Source is the subset of queue.DestinationQueue a worker needs: a way to
// start consuming deliveries.
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// RetryFunc attempts one destination send for the job encoded in body,
// returning an error if the destination is still unreachable.
type RetryFunc func(ctx context.Context, body []byte) error

// Config configures a retry pool.
type Config struct {
	WorkerCount  int
	RetryBackoff time.Duration
	JobTimeout   time.Duration
}

// DefaultConfig returns sane retry-worker defaults.
func DefaultConfig() Config {
	return Config{WorkerCount: 2, RetryBackoff: 5 * time.Second, JobTimeout: 30 * time.Second}
}

// Pool runs Config.WorkerCount workers consuming from one Source.
type Pool struct {
	source Source
	retry  RetryFunc
	config Config
	stop   chan struct{}
}

// NewPool builds a retry pool bound to source, invoking retry for each
// delivered job.
func NewPool(source Source, retry RetryFunc, config Config) *Pool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	return &Pool{source: source, retry: retry, config: config, stop: make(chan struct{})}
}

// Start launches all workers; each gets its own consumer (tagged
// retry-worker-N) from Source.Consume. With a queue.DestinationQueue as the
// source, all consumers share that queue's one AMQP channel.
func (p *Pool) Start() error {
	for i := 0; i < p.config.WorkerCount; i++ {
		deliveries, err := p.source.Consume(fmt.Sprintf("retry-worker-%d", i))
		if err != nil {
			return fmt.Errorf("worker: start consumer %d: %w", i, err)
		}
		go p.run(i, deliveries)
	}
	return nil
}

// Stop signals every worker to exit after its current job.
func (p *Pool) Stop() {
	close(p.stop)
}

func (p *Pool) run(id int, deliveries <-chan amqp.Delivery) {
	log := eve.NewContextLogger(nil, map[string]interface{}{"worker": id})
	for {
		select {
		case <-p.stop:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			p.handle(log, d)
		}
	}
}

func (p *Pool) handle(log *eve.ContextLogger, d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	if err := p.retry(ctx, d.Body); err != nil {
		log.WithError(err).Warn("destination retry failed, requeuing")
		time.Sleep(p.config.RetryBackoff)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.WithError(nackErr).Error("failed to nack destination job")
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		log.WithError(ackErr).Error("failed to ack destination job")
	}
}
