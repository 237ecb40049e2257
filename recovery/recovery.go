// Package recovery resolves messages left unfinished by an unclean
// shutdown when a channel starts back up. It never replays work; it
// forces every unfinished ConnectorMessage to ERROR so aggregate counters
// and the at-most-once invariant stay intact.
package recovery

import (
	"fmt"

	"github.com/fluxhealth/channelengine/message"
)

// DataStore is the subset of store.Store recovery needs.
type DataStore interface {
	ListUnprocessedMessages(serverID string) ([]message.Message, error)
	ListConnectorMessages(messageID int64) ([]message.ConnectorMessage, error)
	UpsertConnectorMessage(cm *message.ConnectorMessage) error
	PutContent(c *message.Content) error
	IncrementStatistic(metaDataID int, serverID string, status message.Status, delta int64) error
	UpdateMessageProcessed(messageID int64, processed bool) error
}

// TxRunner wraps a block of recovery work in one store transaction,
// adapting store.Store.Transaction's concrete *store.Store callback to
// recovery's DataStore interface so this package stays decoupled from the
// store package's concrete type.
type TxRunner func(fn func(DataStore) error) error

// Result summarizes one channel's recovery pass.
type Result struct {
	Scanned  int
	Recovered int
	Failed   []RecoveryFailure
}

// RecoveryFailure records a single message recovery attempt that errored;
// the rest of the scan still proceeds.
type RecoveryFailure struct {
	MessageID int64
	Err       error
}

// Run scans every unprocessed Message owned by serverID and forces each
// ConnectorMessage still in R (received) or P (pending) to ERROR. Each
// message is recovered inside its own transaction via runTx.
func Run(store DataStore, runTx TxRunner, serverID string) (Result, error) {
	messages, err := store.ListUnprocessedMessages(serverID)
	if err != nil {
		return Result{}, fmt.Errorf("recovery: list unprocessed: %w", err)
	}

	result := Result{Scanned: len(messages)}
	for _, m := range messages {
		if err := recoverMessage(store, runTx, m); err != nil {
			result.Failed = append(result.Failed, RecoveryFailure{MessageID: m.ID, Err: err})
			continue
		}
		result.Recovered++
	}
	return result, nil
}

func recoverMessage(store DataStore, runTx TxRunner, m message.Message) error {
	connectors, err := store.ListConnectorMessages(m.ID)
	if err != nil {
		return fmt.Errorf("recovery: list connector messages for %d: %w", m.ID, err)
	}

	return runTx(func(tx DataStore) error {
		for _, cm := range connectors {
			if cm.Status != message.StatusReceived && cm.Status != message.StatusPending {
				continue
			}
			originalStatus := cm.Status

			recovered := cm
			recovered.Status = message.StatusError
			if err := tx.UpsertConnectorMessage(&recovered); err != nil {
				return fmt.Errorf("recovery: mark connector message %d/%d error: %w", m.ID, cm.MetaDataID, err)
			}

			explanation := fmt.Sprintf("recovered after restart; original status %s", originalStatus)
			if err := tx.PutContent(&message.Content{
				MessageID:   m.ID,
				MetaDataID:  cm.MetaDataID,
				ContentType: message.ContentProcessingError,
				Content:     []byte(explanation),
			}); err != nil {
				return fmt.Errorf("recovery: write processing error content %d/%d: %w", m.ID, cm.MetaDataID, err)
			}

			if err := tx.IncrementStatistic(cm.MetaDataID, m.ServerID, message.StatusError, 1); err != nil {
				return fmt.Errorf("recovery: increment error statistic %d/%d: %w", m.ID, cm.MetaDataID, err)
			}
		}

		if err := tx.UpdateMessageProcessed(m.ID, true); err != nil {
			return fmt.Errorf("recovery: mark message %d processed: %w", m.ID, err)
		}
		return nil
	})
}
