package ports

import "context"

// AlertService notifies operators about quota conditions that have cost
// exposure: a fail-open admission during a store outage, or an identity
// hitting its monthly ceiling.
type AlertService interface {
	QuotaStoreFailure(ctx context.Context, identity, resourceType string, cause error) error
	QuotaExhausted(ctx context.Context, identity, platform, resourceType string, limit int) error
}
