package storage

import (
	"log/slog"
	"time"
)

const janitorPollInterval = 10 * time.Minute

// Janitor periodically removes expired audio files.
type Janitor struct {
	store    *AudioStore
	ttl      time.Duration
	interval time.Duration
	stopChan chan struct{}
}

func NewJanitor(store *AudioStore, ttl time.Duration) *Janitor {
	interval := janitorPollInterval
	if ttl > 0 && ttl/2 < interval {
		interval = ttl / 2
	}
	return &Janitor{
		store:    store,
		ttl:      ttl,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	if j.store == nil || j.ttl <= 0 {
		return
	}

	go j.loop()
	slog.Info("audio janitor started", "ttl", j.ttl, "interval", j.interval)
}

func (j *Janitor) Stop() {
	select {
	case <-j.stopChan:
		return
	default:
		close(j.stopChan)
	}
}

func (j *Janitor) loop() {
	// Run on startup as well as by interval.
	j.sweep(time.Now())

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case now := <-ticker.C:
			j.sweep(now)
		}
	}
}

func (j *Janitor) sweep(now time.Time) {
	removed, err := j.store.Sweep(now, j.ttl)
	if err != nil {
		slog.Error("audio sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("expired audio removed", "files", removed)
	}
}
