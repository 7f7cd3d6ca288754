package amqp

import (
	"encoding/json"
	"time"
)

// RecurringWorkMessage addresses one due recurring template to the worker.
// It carries only identifiers; the worker re-fetches the template from the
// database, which is what makes duplicate delivery harmless.
type RecurringWorkMessage struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Attempt       int       `json:"attempt"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewRecurringWorkMessage(transactionID, userID string) *RecurringWorkMessage {
	return &RecurringWorkMessage{
		TransactionID: transactionID,
		UserID:        userID,
		Timestamp:     time.Now(),
	}
}

func (m *RecurringWorkMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RecurringWorkMessageFromJSON(data []byte) (*RecurringWorkMessage, error) {
	var msg RecurringWorkMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
