package redisx

import "time"

const (
	// Order summary cache: order:summary:{order_id} -> JSON summary.
	// Invalidated (DEL) whenever order or payment status changes.
	KeyOrderSummary = "order:summary:%s"

	// Dedup for consumed gateway events: dedup:{service}:{event_id}.
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLSummaryCache = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
)
