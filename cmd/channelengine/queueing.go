package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fluxhealth/channelengine/connector/destination"
	"github.com/fluxhealth/channelengine/queue"
	"github.com/fluxhealth/channelengine/worker"
)

// queueManager lazily opens one durable AMQP queue and retry pool per
// destination slot that opts into QueueOnFailure, keyed by channel and
// metadata id so a redeploy reuses the existing queue instead of leaking
// connections.
type queueManager struct {
	url string

	mu     sync.Mutex
	queues map[string]*queue.DestinationQueue
	pools  map[string]*worker.Pool
}

func newQueueManager(url string) *queueManager {
	return &queueManager{
		url:    url,
		queues: make(map[string]*queue.DestinationQueue),
		pools:  make(map[string]*worker.Pool),
	}
}

// handlerFor returns the chain.Destination.OnQueueFailure closure for conn,
// or nil if conn does not opt into queueing or no queue URL is configured.
// On first use for a given channel/metadata-id pair it declares the durable
// queue and starts a retry pool that replays jobs through conn.Send.
func (qm *queueManager) handlerFor(channelID string, metaDataID int, conn destination.Connector) (func(ctx context.Context, payload []byte) error, error) {
	q, ok := conn.(destination.Queueable)
	if !ok || !q.QueueOnFailure() || qm.url == "" {
		return nil, nil
	}

	key := queue.QueueName(channelID, metaDataID)

	qm.mu.Lock()
	defer qm.mu.Unlock()

	dq, ok := qm.queues[key]
	if !ok {
		var err error
		dq, err = queue.NewDestinationQueue(qm.url, channelID, metaDataID)
		if err != nil {
			return nil, fmt.Errorf("queueing: open destination queue for %s: %w", key, err)
		}
		qm.queues[key] = dq

		pool := worker.NewPool(dq, retryFunc(conn), worker.DefaultConfig())
		if err := pool.Start(); err != nil {
			return nil, fmt.Errorf("queueing: start retry pool for %s: %w", key, err)
		}
		qm.pools[key] = pool
	}

	connectorName := conn.Name()
	return func(ctx context.Context, payload []byte) error {
		return dq.Publish(queue.DestinationJob{
			ChannelID:     channelID,
			MetaDataID:    metaDataID,
			ConnectorName: connectorName,
			Payload:       payload,
			QueuedAt:      time.Now(),
		})
	}, nil
}

// retryFunc decodes a queued job and replays it through the connector that
// originally failed to send it.
func retryFunc(conn destination.Connector) worker.RetryFunc {
	return func(ctx context.Context, body []byte) error {
		job, err := decodeDestinationJob(body)
		if err != nil {
			return err
		}
		_, err = conn.Send(ctx, job.Payload)
		return err
	}
}

// Close shuts down every retry pool and queue connection this manager opened.
func (qm *queueManager) Close() {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	for _, pool := range qm.pools {
		pool.Stop()
	}
	for _, dq := range qm.queues {
		_ = dq.Close()
	}
}

func decodeDestinationJob(body []byte) (queue.DestinationJob, error) {
	var job queue.DestinationJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("queueing: decode destination job: %w", err)
	}
	return job, nil
}
