package orch

import (
	"path/filepath"

	"github.com/dkeye/Bounce/internal/app/framesource"
	"github.com/dkeye/Bounce/internal/app/session"
	"github.com/dkeye/Bounce/internal/core"
)

// FrameSinks returns a sink factory that writes the frames of every session
// into its own subdirectory of dir.
func FrameSinks(format, dir string) session.SinkFactory {
	return func(sid core.SessionID) (framesource.Sink, error) {
		return framesource.NewSink(format, filepath.Join(dir, string(sid)))
	}
}
