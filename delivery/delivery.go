// Package delivery defines the outbound delivery contract. Delivery is
// invoked once after confirmation; a failure does not roll back the
// confirmation, since the buyer can always redeem the credential directly.
package delivery

import (
	"context"

	"github.com/openmerch/paywatch/logger"
	"github.com/openmerch/paywatch/types"
)

// Deliverer notifies the buyer that their purchase is ready, carrying the
// delivery credential. Implementations typically send email.
type Deliverer interface {
	Deliver(ctx context.Context, intent *types.PaymentIntent) error
}

// LogDeliverer records deliveries in the log instead of sending anything.
// Default when no real deliverer is configured.
type LogDeliverer struct {
	Log logger.Logger
}

var _ Deliverer = (*LogDeliverer)(nil)

func (d *LogDeliverer) Deliver(_ context.Context, intent *types.PaymentIntent) error {
	log := d.Log
	if log == nil {
		log = logger.NoopLogger{}
	}
	log.Info("delivery ready", map[string]any{
		"intent":  intent.ID,
		"product": intent.ProductRef,
		"contact": intent.BuyerContact,
	})
	return nil
}
