package domain

import "time"

// RelayRecord is one processed event's outcome, persisted by the optional
// transcript store. Written after the reply is handed to the channel; never
// read back by the pipeline.
type RelayRecord struct {
	ID            int64
	Channel       string
	ChatID        string
	ThreadID      string
	SenderID      string
	Outcome       string // reply | error | pending | working | skipped
	Reply         string
	Error         string
	HadAttachment bool
	LatencyMS     int64
	CreatedAt     time.Time
}
