package live

import "go.opentelemetry.io/otel"

const scopeName = "github.com/eleven-am/voice-relay/internal/live"

var tracer = otel.Tracer(scopeName)
