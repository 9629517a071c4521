package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vehicle-counter-go/internal/models"
	"vehicle-counter-go/internal/services/counting"
)

var (
	line1Color = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	line2Color = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	boxColor   = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	titleColor = color.RGBA{R: 255, G: 215, B: 0, A: 255}
	panelColor = color.RGBA{R: 0, G: 0, B: 0, A: 200}
)

// Annotator draws both counting lines, tracked boxes and the per-class
// totals panel onto a BGR frame
type Annotator struct {
	logger zerolog.Logger
}

func NewAnnotator(logger zerolog.Logger) *Annotator {
	return &Annotator{logger: logger}
}

// Annotate returns a copy of frame with the overlay drawn. The input frame is
// returned untouched if it cannot be wrapped.
func (a *Annotator) Annotate(frame models.Frame, geom counting.Geometry, detections []models.Detection, counts models.VehicleCounts) models.Frame {
	if !frame.Valid() {
		return frame
	}

	data := append([]byte(nil), frame.Data...)
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Failed to wrap frame for overlay")
		return frame
	}
	defer mat.Close()

	drawLines(&mat, geom, frame.Width, frame.Height)
	for _, det := range detections {
		drawDetection(&mat, det)
	}
	drawCounts(&mat, counts)

	out := frame
	out.Data = mat.ToBytes()
	return out
}

func drawLines(mat *gocv.Mat, geom counting.Geometry, width, height int) {
	for _, l := range []struct {
		pos int
		c   color.RGBA
	}{{geom.Line1, line1Color}, {geom.Line2, line2Color}} {
		from, to := LineEndpoints(geom.Orientation, l.pos, width, height)
		gocv.Line(mat, from, to, l.c, 2)
	}
}

// LineEndpoints spans a counting line across the whole frame
func LineEndpoints(o models.Orientation, pos, width, height int) (image.Point, image.Point) {
	if o == models.OrientationVertical {
		return image.Pt(pos, 0), image.Pt(pos, height)
	}
	return image.Pt(0, pos), image.Pt(width, pos)
}

func drawDetection(mat *gocv.Mat, det models.Detection) {
	rect := image.Rect(int(det.BBox.X1), int(det.BBox.Y1), int(det.BBox.X2), int(det.BBox.Y2))
	gocv.Rectangle(mat, rect, boxColor, 2)
	drawText(mat, fmt.Sprintf("#%d %s", det.TrackID, det.Label), rect.Min.X, rect.Min.Y-6, boxColor, 0.5, 1)
}

func drawCounts(mat *gocv.Mat, counts models.VehicleCounts) {
	if len(counts) == 0 {
		return
	}
	classes := make([]string, 0, len(counts))
	for class := range counts {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	y := 30
	drawText(mat, fmt.Sprintf("Total %d  (in / out)", counts.Total()), 15, y, titleColor, 0.7, 2)
	y += 30
	for _, class := range classes {
		c := counts[class]
		drawText(mat, fmt.Sprintf("%s: %d / %d", class, c.In, c.Out), 15, y, textColor, 0.55, 1)
		y += 24
	}
}

// drawText draws text over a filled background box
func drawText(mat *gocv.Mat, text string, x, y int, c color.RGBA, fontScale float64, thickness int) {
	fontFace := gocv.FontHersheySimplex
	textSize := gocv.GetTextSize(text, fontFace, fontScale, thickness)

	padding := 4
	bg := image.Rect(x-padding, y-textSize.Y-padding, x+textSize.X+padding, y+padding)
	gocv.Rectangle(mat, bg, panelColor, -1)
	gocv.PutText(mat, text, image.Pt(x, y), fontFace, fontScale, c, thickness)
}
