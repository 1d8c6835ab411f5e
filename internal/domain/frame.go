// Package domain contains entity without logic, just meta-data
package domain

import "time"

// BytesPerPixel of a Frame buffer (packed RGB24).
const BytesPerPixel = 3

// Frame is a packed RGB24 image.
// Data MUST NOT be modified once the frame is part of a published Snapshot.
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// NewFrame allocates a black frame.
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Data: make([]byte, width*height*BytesPerPixel)}
}

// Valid reports whether the buffer size matches the declared dimensions.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Data) == f.Width*f.Height*BytesPerPixel
}

// Position is a point in frame pixel coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Snapshot is one completed production tick.
// Seq 0 is the default snapshot published before the first tick.
type Snapshot struct {
	Frame     Frame
	Pos       Position
	Seq       uint64
	Timestamp time.Time
}
