package network

import (
	"context"
	"sync"
	"time"

	"github.com/gordonkoehn/BioVault/message"
)

// Broadcaster periodically announces the orchestrator to its peers with an
// agent-discovery message, prompting unregistered agents to register.
type Broadcaster struct {
	node *Node

	interval     time.Duration
	capabilities []string

	// onBroadcast is invoked after each announcement round, for metrics.
	onBroadcast func()

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	broadcasts uint64
}

// NewBroadcaster creates a broadcaster announcing every interval. A
// non-positive interval selects 30s.
func NewBroadcaster(node *Node, interval time.Duration, capabilities []string, onBroadcast func()) *Broadcaster {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Broadcaster{
		node:         node,
		interval:     interval,
		capabilities: capabilities,
		onBroadcast:  onBroadcast,
		stopChan:     make(chan struct{}),
	}
}

// Start begins periodic announcements. The first round fires immediately.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.loop()
}

// Stop halts announcements.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()
}

func (b *Broadcaster) loop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.announce()
	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.announce()
		}
	}
}

func (b *Broadcaster) announce() {
	m := &message.AgentDiscovery{
		Base:                 message.NewBase("discover"),
		RequesterAddress:     b.node.Address(),
		RequiredCapabilities: b.capabilities,
		TimeoutSeconds:       int(b.interval / time.Second),
	}

	if err := b.node.Broadcast(context.Background(), m, nil); err != nil {
		b.node.log.Warn().Err(err).Msg("discovery broadcast incomplete")
	}

	b.mu.Lock()
	b.broadcasts++
	b.mu.Unlock()

	if b.onBroadcast != nil {
		b.onBroadcast()
	}
}

// BroadcasterStats contains broadcaster statistics.
type BroadcasterStats struct {
	Interval   time.Duration `json:"interval"`
	Broadcasts uint64        `json:"broadcasts"`
	IsRunning  bool          `json:"is_running"`
}

// Stats returns broadcaster statistics.
func (b *Broadcaster) Stats() BroadcasterStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BroadcasterStats{
		Interval:   b.interval,
		Broadcasts: b.broadcasts,
		IsRunning:  b.running,
	}
}
