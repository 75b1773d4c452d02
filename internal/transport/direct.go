package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/model"
)

// Deliverer hands a B2B document to its recipient, e.g. by e-mail or a PDP
type Deliverer interface {
	Deliver(ctx context.Context, sub gateway.Submission) error
}

// DirectChannel delivers B2B invoices without a clearance authority.
// Registration codes are derived from the document hash.
type DirectChannel struct {
	country   model.Country
	deliverer Deliverer

	mu        sync.RWMutex
	delivered map[string]model.Status
}

// NewDirectChannel creates a B2B channel; deliverer may be nil
func NewDirectChannel(country model.Country, deliverer Deliverer) *DirectChannel {
	return &DirectChannel{
		country:   country,
		deliverer: deliverer,
		delivered: make(map[string]model.Status),
	}
}

// Name returns the channel name
func (c *DirectChannel) Name() string {
	return "direct-b2b"
}

// RegistrationCode returns <country>-B2B-<first 16 hex of hash>
func (c *DirectChannel) RegistrationCode(hash string) string {
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return fmt.Sprintf("%s-B2B-%s", c.country, hash)
}

// Submit delivers the document and acknowledges it as accepted
func (c *DirectChannel) Submit(ctx context.Context, sub gateway.Submission) (gateway.Ack, error) {
	if err := ctx.Err(); err != nil {
		return gateway.Ack{}, err
	}
	if c.deliverer != nil {
		if err := c.deliverer.Deliver(ctx, sub); err != nil {
			return gateway.Ack{}, err
		}
	}

	code := c.RegistrationCode(sub.Hash)
	c.mu.Lock()
	c.delivered[code] = model.StatusAccepted
	c.mu.Unlock()

	return gateway.Ack{
		RegistrationCode: code,
		Status:           model.StatusAccepted,
		Message:          "delivered",
	}, nil
}

// Status returns ACCEPTED for delivered documents
func (c *DirectChannel) Status(_ context.Context, registrationCode string) (model.Status, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.delivered[registrationCode]
	if !ok {
		return "", fmt.Errorf("registration %s: %w", registrationCode, model.ErrNotFound)
	}
	return st, nil
}

var _ gateway.Channel = (*DirectChannel)(nil)
