package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared across services.
const (
	TripIDKey    = attribute.Key("trip.id")
	UserIDKey    = attribute.Key("user.id")
	ChannelKey   = attribute.Key("channel")
	SourceKey    = attribute.Key("sample.source")
	SampleIDKey  = attribute.Key("sample.id")
	SessionIDKey = attribute.Key("session.id")
)
