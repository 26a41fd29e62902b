package monitor

import "time"

type Status struct {
	Storage      string    `json:"storage"`
	StorageOK    bool      `json:"storage_ok"`
	CounterStore string    `json:"counter_store"`
	CounterOK    bool      `json:"counter_ok"`
	Outbox       bool      `json:"outbox"`
	OutboxSize   int       `json:"outbox_size"`
	LastCheck    time.Time `json:"last_check"`
}
