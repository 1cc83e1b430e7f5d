package runner

import (
	"context"
	"sync"

	"backend-travelalarm/internal/progress"
)

// Provider is the location source: a subscribable stream of fixes plus
// a last-known-location query.
type Provider interface {
	Subscribe(ctx context.Context) (<-chan progress.Fix, error)
	LastKnown(ctx context.Context) (*progress.Fix, bool)
}

// ChannelProvider is an in-process Provider fed by the HTTP ingest path
// and the AMQP intake. Push never blocks the caller; when the pump falls
// behind, the oldest queued fix is dropped in favor of the newest.
type ChannelProvider struct {
	mu   sync.Mutex
	ch   chan progress.Fix
	last *progress.Fix
}

func NewChannelProvider() *ChannelProvider {
	return &ChannelProvider{ch: make(chan progress.Fix, 64)}
}

func (p *ChannelProvider) Subscribe(_ context.Context) (<-chan progress.Fix, error) {
	return p.ch, nil
}

func (p *ChannelProvider) LastKnown(_ context.Context) (*progress.Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return nil, false
	}
	fix := *p.last
	return &fix, true
}

func (p *ChannelProvider) Push(fix progress.Fix) {
	p.mu.Lock()
	p.last = &fix
	p.mu.Unlock()

	select {
	case p.ch <- fix:
	default:
		select {
		case <-p.ch:
		default:
		}
		select {
		case p.ch <- fix:
		default:
		}
	}
}
