package counting

import "vehicle-counter-go/internal/models"

// Canvas is the reference surface line positions are expressed in
type Canvas struct {
	Width  int
	Height int
}

// Geometry holds both line coordinates in frame pixels along the counting axis
type Geometry struct {
	Orientation models.Orientation
	Line1       int
	Line2       int
}

// GeometryFor scales the settings' canvas coordinates onto a frame of the given size.
// The offset always scales with height, for both orientations.
func GeometryFor(s models.PipelineSettings, frameW, frameH int, canvas Canvas) Geometry {
	scaleH := ratio(frameH, canvas.Height)
	offset := int(float64(s.LineOffset) * scaleH)

	g := Geometry{Orientation: s.Orientation}
	if s.Orientation == models.OrientationVertical {
		g.Line1 = int(float64(s.Line1X) * ratio(frameW, canvas.Width))
	} else {
		g.Orientation = models.OrientationHorizontal
		g.Line1 = int(float64(s.Line1Y) * scaleH)
	}
	g.Line2 = g.Line1 + offset
	return g
}

func ratio(frame, canvas int) float64 {
	if canvas <= 0 || frame <= 0 {
		return 1
	}
	return float64(frame) / float64(canvas)
}

// TriggerPoint returns the leading edge of b on the counting axis:
// the bottom edge for horizontal lines, the horizontal centre for vertical ones.
func (g Geometry) TriggerPoint(b models.BBox) int {
	if g.Orientation == models.OrientationVertical {
		return int((b.X1 + b.X2) / 2)
	}
	return int(b.Y2)
}

// Near reports whether point is strictly within proximity of line
func Near(point, line, proximity int) bool {
	d := point - line
	if d < 0 {
		d = -d
	}
	return d < proximity
}
