package voicesession

import "go.opentelemetry.io/otel"

const scopeName = "github.com/eleven-am/voice-relay/internal/voicesession"

var tracer = otel.Tracer(scopeName)
