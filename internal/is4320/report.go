// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package is4320

import (
	"context"
	"log/slog"
)

// DetectionEvent is emitted for every chip detection attempt.
// ChipID and ChipRev are only meaningful for registers that were read
// without error; Err joins the read failures, if any.
type DetectionEvent struct {
	Found   bool
	ChipID  uint16
	ChipRev uint16
	Err     error
}

// Reporter receives the externally observable events of an Engine.
type Reporter interface {
	Detection(ev DetectionEvent)
	Outcome(o Outcome)
}

// Reporters fans events out to every member.
type Reporters []Reporter

func (rs Reporters) Detection(ev DetectionEvent) {
	for _, r := range rs {
		r.Detection(ev)
	}
}

func (rs Reporters) Outcome(o Outcome) {
	for _, r := range rs {
		r.Outcome(o)
	}
}

// LogReporter writes events to a slog.Logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r LogReporter) Detection(ev DetectionEvent) {
	if ev.Found {
		r.logger().Info("IS4320 chip detected", "chipID", ev.ChipID, "chipRev", ev.ChipRev)
		return
	}
	r.logger().Error("IS4320 chip not detected", "err", ev.Err)
}

func (r LogReporter) Outcome(o Outcome) {
	attrs := []any{"cycle", o.Cycle, "status", o.Status, "outcome", o.Kind.String()}

	level := slog.LevelWarn
	switch o.Kind {
	case KindSuccess:
		level = slog.LevelInfo
		if o.HasValue {
			attrs = append(attrs, "value", o.Value)
		}
	case KindBroadcastSent:
		level = slog.LevelInfo
	case KindUnknown:
		level = slog.LevelError
	}
	r.logger().Log(context.Background(), level, "Modbus request completed", attrs...)
}
