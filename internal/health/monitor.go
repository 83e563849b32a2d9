package health

import (
	"context"
	"log/slog"
	"time"
)

// Start begins the periodic refresh loop until ctx is canceled. Ticks are
// skipped while the host is in the background.
func (p *Probe) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

func (p *Probe) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial sweep
	p.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.paused.Load() {
				continue
			}
			p.refresh(ctx)
		}
	}
}

func (p *Probe) refresh(ctx context.Context) {
	if _, err := p.Check(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("periodic health probe failed", slog.String("error", err.Error()))
	}
}
