package bot

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	pollTimeout = 30 * time.Second
	pollBackoff = 3 * time.Second
)

// Poller feeds getUpdates results to the dispatcher. It is the alternative
// to the webhook for deployments without a public HTTPS endpoint.
type Poller struct {
	c   *Client
	d   *Dispatcher
	log *zap.Logger
}

func NewPoller(c *Client, d *Dispatcher, log *zap.Logger) *Poller {
	return &Poller{c: c, d: d, log: log.Named("poller")}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	var offset int64
	for {
		updates, err := p.c.GetUpdates(ctx, offset)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.log.Warn("getUpdates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollBackoff):
			}
			continue
		}
		for i := range updates {
			p.d.Handle(ctx, &updates[i])
			offset = updates[i].UpdateID + 1
		}
	}
}
