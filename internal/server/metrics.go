package server

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery outcomes recorded by the router.
const (
	resultPushed  = "pushed"
	resultOffline = "offline"
	resultDropped = "dropped"
	resultRelayed = "relayed"
	resultSelf    = "self"
)

type metrics struct {
	deliveries    metric.Int64Counter
	registrations metric.Int64Counter
	evictions     metric.Int64Counter
	online        metric.Int64UpDownCounter
}

// newMetrics registers the instruments on the global meter provider, which is
// a no-op unless the process installs one.
func newMetrics() metrics {
	meter := otel.Meter("livechat-server")
	deliveries, _ := meter.Int64Counter("livechat_deliveries_total",
		metric.WithDescription("Live-push attempts by outcome"))
	registrations, _ := meter.Int64Counter("livechat_registrations_total",
		metric.WithDescription("Connections registered, superseded ones included"))
	evictions, _ := meter.Int64Counter("livechat_evictions_total",
		metric.WithDescription("Connections closed because their send queue was full"))
	online, _ := meter.Int64UpDownCounter("livechat_online_users",
		metric.WithDescription("Identities with a registered connection"))
	return metrics{
		deliveries:    deliveries,
		registrations: registrations,
		evictions:     evictions,
		online:        online,
	}
}

func resultAttr(result string) metric.AddOption {
	return metric.WithAttributes(attribute.String("result", result))
}
