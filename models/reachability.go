package models

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
)

// Reachability reports whether the account can be reached and notifies
// subscribers when that changes.
type Reachability interface {
	IsOnline() bool
	// Subscribe registers fn for online/offline transitions and returns its unsubscribe.
	Subscribe(fn func(online bool)) func()
}

// ManualReachability is driven explicitly with SetOnline.
type ManualReachability struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

func NewManualReachability(online bool) *ManualReachability {
	return &ManualReachability{online: online, subs: make(map[int]func(bool))}
}

func (r *ManualReachability) IsOnline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

func (r *ManualReachability) Subscribe(fn func(bool)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// SetOnline records the new state and notifies subscribers synchronously
// when it changed.
func (r *ManualReachability) SetOnline(online bool) {
	r.mu.Lock()
	if r.online == online {
		r.mu.Unlock()
		return
	}
	r.online = online
	subs := make([]func(bool), 0, len(r.subs))
	for id := 0; id < r.nextID; id++ {
		if fn, ok := r.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// HealthProbe polls the account's health endpoint and flips online/offline
// from the result.
type HealthProbe struct {
	*ManualReachability
	healthURL  string
	interval   time.Duration
	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthProbe builds a probe for hubURL. It starts optimistic (online)
// until the first check says otherwise.
func NewHealthProbe(hubURL string, interval time.Duration) *HealthProbe {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthProbe{
		ManualReachability: NewManualReachability(true),
		healthURL:          strings.TrimRight(hubURL, "/") + "/api/v1/health",
		interval:           interval,
		httpClient:         &http.Client{Timeout: 5 * time.Second},
	}
}

// Start runs an immediate check and then polls until Stop or ctx ends.
func (p *HealthProbe) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop ends polling and waits for the loop to exit.
func (p *HealthProbe) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *HealthProbe) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	check := func() {
		online := p.Check(ctx)
		if ctx.Err() == nil {
			p.SetOnline(online)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Check performs one health request.
func (p *HealthProbe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			logger.Debug("Hub health check failed", "url", p.healthURL, "error", err.Error())
		}
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
