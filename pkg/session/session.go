// Package session is the UI-side model of a lispcad window: the editor
// text, the meshes currently previewed, and the console. It changes only
// in response to bridge events and is owned by a single event loop.
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chazu/lispcad/internal/logging"
	"github.com/chazu/lispcad/pkg/bridge"
	"github.com/chazu/lispcad/pkg/msg"
	"github.com/chazu/lispcad/pkg/stl"
)

// Level classifies a console line.
type Level int

const (
	Info Level = iota
	Error
)

func (l Level) String() string {
	if l == Error {
		return "error"
	}
	return "info"
}

// Line is one console entry.
type Line struct {
	Level Level
	Text  string
}

func (l Line) String() string { return fmt.Sprintf("[%s] %s", l.Level, l.Text) }

// Preview is one decoded mesh ready to render.
type Preview struct {
	ID   msg.MeshID
	Mesh stl.Mesh
}

// Session is not safe for concurrent use.
type Session struct {
	logger *zap.Logger

	code     string
	value    string
	previews []Preview
	console  []Line
}

// New returns an empty session.
func New(logger *zap.Logger) *Session {
	return &Session{logger: logging.OrNop(logger)}
}

// Apply folds one bridge event into the session. It never panics on
// malformed content; problems become console lines.
func (s *Session) Apply(ev bridge.Event) {
	if ev.Err != nil {
		s.errorf("malformed message from host: %v", ev.Err)
		return
	}

	switch r := ev.Response.(type) {
	case msg.Code:
		s.code = r.Text
	case msg.EvalOk:
		s.applyEvalOk(r)
	case msg.EvalError:
		s.errorf("%s", r.Message)
	case msg.SaveStlFileOk:
		s.infof("%s", r.Message)
	case msg.SaveStlFileError:
		s.errorf("%s", r.Message)
	case nil:
		s.errorf("empty event")
	default:
		s.errorf("unexpected message %s", r.ResponseTag())
	}
}

// applyEvalOk replaces the previews. Each mesh decodes on its own: one bad
// payload costs one console line, not the whole result.
func (s *Session) applyEvalOk(r msg.EvalOk) {
	s.value = r.Value
	s.previews = s.previews[:0:0]
	for _, id := range r.Previews {
		mesh, err := r.Mesh(id)
		if err != nil {
			s.errorf("%v", err)
			continue
		}
		s.previews = append(s.previews, Preview{ID: id, Mesh: mesh})
	}
	s.infof("=> %s", r.Value)
}

func (s *Session) infof(format string, args ...any) {
	s.console = append(s.console, Line{Level: Info, Text: fmt.Sprintf(format, args...)})
}

func (s *Session) errorf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	s.logger.Debug("console error", zap.String("text", text))
	s.console = append(s.console, Line{Level: Error, Text: text})
}

// Code returns the editor text last sent by the host.
func (s *Session) Code() string { return s.code }

// Value returns the printed value of the last successful evaluation.
func (s *Session) Value() string { return s.value }

// Previews returns the meshes to render, in preview order.
func (s *Session) Previews() []Preview {
	return append([]Preview(nil), s.previews...)
}

// Console returns every console line so far.
func (s *Session) Console() []Line {
	return append([]Line(nil), s.console...)
}

// Run applies events from c until ctx ends or c is closed. Events already
// queued when c is closed are applied before Run returns. changed, if not
// nil, is called after each event with the line count before it was applied.
func (s *Session) Run(ctx context.Context, c *bridge.Client, changed func(prevLines int)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			// Events queued before Close are still applied.
			for {
				select {
				case ev := <-c.Events():
					s.apply(ev, changed)
				default:
					return nil
				}
			}
		case ev := <-c.Events():
			s.apply(ev, changed)
		}
	}
}

func (s *Session) apply(ev bridge.Event, changed func(prevLines int)) {
	n := len(s.console)
	s.Apply(ev)
	if changed != nil {
		changed(n)
	}
}
