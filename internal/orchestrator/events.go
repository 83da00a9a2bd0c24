package orchestrator

import (
	"context"
	"log/slog"

	"github.com/maauso/scenechain/internal/scene"
)

// EventKind identifies what an Event reports.
type EventKind string

const (
	// EventLog carries one human-readable progress line.
	EventLog EventKind = "log"
	// EventProgress is sent after every scene state transition.
	EventProgress EventKind = "progress"
	// EventDone is sent exactly once when a run ends.
	EventDone EventKind = "done"
)

// Event is delivered to an Observer on the run's worker goroutine.
type Event struct {
	Kind    EventKind
	SceneID int
	// Message is set for EventLog.
	Message string
	// Scene is a snapshot of the scene for EventProgress.
	Scene *scene.Task
	// Summary and Stopped are set for EventDone.
	Summary scene.Summary
	Stopped bool
}

// Observer receives run events. OnEvent is called synchronously from the
// worker and must return quickly.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

// OnEvent forwards e to every observer.
func (m MultiObserver) OnEvent(e Event) {
	for _, o := range m {
		if o != nil {
			o.OnEvent(e)
		}
	}
}

type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}

// LogObserver writes events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// OnEvent logs log lines at info, transitions at debug and completion at info.
func (l *LogObserver) OnEvent(e Event) {
	switch e.Kind {
	case EventLog:
		l.logger.Info(e.Message, slog.Int("scene_id", e.SceneID))
	case EventProgress:
		if e.Scene == nil {
			return
		}
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "scene state changed",
			slog.Int("scene_id", e.Scene.ID),
			slog.String("state", string(e.Scene.State)),
			slog.Int("attempt", e.Scene.AttemptCount),
		)
	case EventDone:
		l.logger.Info("run finished",
			slog.String("summary", e.Summary.String()),
			slog.Bool("stopped", e.Stopped),
		)
	}
}
