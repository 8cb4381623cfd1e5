package observability

import (
	"log/slog"

	"halochain/core/events"
	"halochain/core/types"
)

// EventRecorder bridges structured engine events into the metrics registry.
type EventRecorder struct{}

// Emit implements the events.Emitter interface.
func (EventRecorder) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	metrics := Sync()
	switch e := evt.(type) {
	case events.StateSynced:
		metrics.RecordAccepted()
	case events.EpochAdvanced:
		metrics.RecordEpochAdvance(e.Source)
	case events.EmergencyOverride:
		metrics.RecordOverride()
	}
}

// LogEmitter writes every event to the supplied structured logger, expanding
// the attribute map for events that render a types.Event payload.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the events.Emitter interface.
func (l LogEmitter) Emit(evt events.Event) {
	if evt == nil || l.Logger == nil {
		return
	}
	args := []any{slog.String("type", evt.EventType())}
	if payloader, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := payloader.Event(); payload != nil {
			for key, value := range payload.Attributes {
				args = append(args, slog.String(key, value))
			}
		}
	}
	l.Logger.Info("event", args...)
}

// MultiEmitter fans an event out to every configured emitter.
type MultiEmitter []events.Emitter

// Emit implements the events.Emitter interface.
func (m MultiEmitter) Emit(evt events.Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}
