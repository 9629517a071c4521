package detection

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"vehicle-counter-go/internal/models"
)

func encodeTrackRequest(frame models.Frame, confidence float64) (*structpb.Struct, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("frame %d: %dx%d with %d bytes is not BGR24", frame.Seq, frame.Width, frame.Height, len(frame.Data))
	}
	req, err := structpb.NewStruct(map[string]any{
		"frame":      base64.StdEncoding.EncodeToString(frame.Data),
		"encoding":   "bgr24",
		"width":      frame.Width,
		"height":     frame.Height,
		"seq":        float64(frame.Seq),
		"confidence": confidence,
		"persist":    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build detector request: %w", err)
	}
	return req, nil
}

// decodeTrackResponse extracts tracked detections. Entries without a track id
// are dropped since they cannot be followed across frames.
func decodeTrackResponse(resp *structpb.Struct, frame models.Frame) (models.Frame, []models.Detection, error) {
	fields := resp.GetFields()

	annotated := frame
	if enc := fields["annotated"].GetStringValue(); enc != "" {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return frame, nil, fmt.Errorf("annotated frame: %w", err)
		}
		if len(data) == len(frame.Data) {
			annotated.Data = data
		}
	}

	list := fields["detections"].GetListValue().GetValues()
	detections := make([]models.Detection, 0, len(list))
	for i, v := range list {
		obj := v.GetStructValue().GetFields()
		if obj == nil {
			return frame, nil, fmt.Errorf("detection %d: not an object", i)
		}
		id, ok := obj["track_id"]
		if !ok || id.GetKind() == nil {
			continue
		}
		if _, isNull := id.GetKind().(*structpb.Value_NullValue); isNull {
			continue
		}
		box := obj["box"].GetListValue().GetValues()
		if len(box) != 4 {
			return frame, nil, fmt.Errorf("detection %d: box must have 4 coordinates, got %d", i, len(box))
		}
		detections = append(detections, models.Detection{
			TrackID: int(id.GetNumberValue()),
			Label:   obj["label"].GetStringValue(),
			BBox: models.BBox{
				X1: box[0].GetNumberValue(),
				Y1: box[1].GetNumberValue(),
				X2: box[2].GetNumberValue(),
				Y2: box[3].GetNumberValue(),
			},
		})
	}
	return annotated, detections, nil
}
