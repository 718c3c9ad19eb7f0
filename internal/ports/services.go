package ports

import (
	"context"

	"qr-dine/internal/auth"
	"qr-dine/internal/shared/contracts"
)

// EventPublisher is the single entry point every order-mutating workflow
// (creation, status change, payment confirmation, issue report/resolve)
// invokes after committing its storage change. The boolean reports only
// whether an event payload was built, never per-topic delivery.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, orderID int64, prebuilt *contracts.OrderEvent) bool
	// PublishWithRetry retries the whole publish once after a short delay,
	// then falls back to a minimal direct publish on the vendor and order
	// topics. Delivery is best-effort and never gates the caller's commit.
	PublishWithRetry(ctx context.Context, orderID int64, prebuilt *contracts.OrderEvent) bool
}

// TokenResolver turns a bearer credential into a principal. Missing or
// invalid credentials resolve to the anonymous principal, not an error;
// the returned error only carries the reason for logging.
type TokenResolver interface {
	Resolve(token string) (auth.Principal, error)
}
