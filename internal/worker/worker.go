// Package worker polls known channels for new posts. A safety net for
// web-scrape mode, where no update stream exists, and for protocol
// mode when the connection was down.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fluffyriot/channelgrab/internal/engine"
	"github.com/fluffyriot/channelgrab/internal/ingest"
)

// postsPerPoll is how many newest posts each poll cycle re-syncs per
// channel.
const postsPerPoll = 3

type Worker struct {
	Service  *engine.Service
	Source   ingest.Source
	Ticker   *time.Ticker
	StopChan chan bool

	mu       sync.Mutex
	running  bool
	active   bool
	lastSeen map[string]int64
}

func NewWorker(svc *engine.Service, source ingest.Source) *Worker {
	return &Worker{
		Service:  svc,
		Source:   source,
		StopChan: make(chan bool),
		lastSeen: make(map[string]int64),
	}
}

func (w *Worker) Start(interval time.Duration) {
	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		log.Println("Worker: Scheduler already active")
		return
	}
	w.active = true
	w.mu.Unlock()

	w.Ticker = time.NewTicker(interval)
	go func() {
		defer func() {
			w.mu.Lock()
			w.active = false
			w.mu.Unlock()
		}()
		for {
			select {
			case <-w.Ticker.C:
				w.PollAll()
			case <-w.StopChan:
				w.Ticker.Stop()
				return
			}
		}
	}()
	log.Printf("Background worker started with interval: %v", interval)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		log.Println("Worker: Scheduler not active")
		return
	}
	// Clear active before releasing the lock so a second Stop never
	// reaches the unbuffered send.
	w.active = false
	w.StopChan <- true
	log.Println("Background worker stopped")
}

func (w *Worker) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// PollAll runs one poll cycle over every known channel. Overlapping
// cycles are skipped, not queued.
func (w *Worker) PollAll() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		log.Println("Worker: Poll already in progress, skipping...")
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx := context.Background()
	channels := w.Service.KnownChannels(ctx)
	synced := 0

	for _, channel := range channels {
		n, err := w.pollChannel(ctx, channel)
		if err != nil {
			log.Printf("Worker: poll %s: %v", channel, err)
			continue
		}
		synced += n
	}

	log.Printf("Worker: Completed poll of %d channels, %d new posts", len(channels), synced)
}

// pollChannel syncs a channel only when its newest post id moved past
// the high-water mark from the previous cycle.
func (w *Worker) pollChannel(ctx context.Context, channel string) (int, error) {
	ids, err := w.Source.GetLatestPostIDs(ctx, channel, 1)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	newest := ids[0]

	w.mu.Lock()
	last, seen := w.lastSeen[channel]
	w.mu.Unlock()

	if seen && newest <= last {
		return 0, nil
	}

	n, err := w.Service.SyncRecent(ctx, channel, postsPerPoll)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.lastSeen[channel] = newest
	w.mu.Unlock()
	return n, nil
}
