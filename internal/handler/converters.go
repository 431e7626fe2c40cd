package handler

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flybeeper/drone-sim/internal/models"
)

// convertSnapshotToStruct конвертирует снимок в protobuf Struct для бинарных ответов
func convertSnapshotToStruct(snap models.Snapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(convertSnapshotToJSON(snap))
}

// convertSnapshotToJSON строит представление снимка из типов, допустимых для structpb
func convertSnapshotToJSON(snap models.Snapshot) map[string]interface{} {
	result := map[string]interface{}{
		"run_id":     snap.RunID,
		"sequence":   float64(snap.Sequence),
		"status":     snap.Status.String(),
		"index":      float64(snap.Index),
		"path":       convertCoordinatesToJSONArray(snap.Path),
		"waypoints":  convertCoordinatesToJSONArray(snap.Waypoints),
		"trail":      convertCoordinatesToJSONArray(snap.Trail),
		"speed":      snap.Speed,
		"updated_at": snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if snap.Position != nil {
		result["position"] = convertCoordinateToJSON(*snap.Position)
		result["geohash"] = snap.Geohash
	}
	return result
}

func convertCoordinatesToJSONArray(points []models.Coordinate) []interface{} {
	result := make([]interface{}, len(points))
	for i, p := range points {
		result[i] = convertCoordinateToJSON(p)
	}
	return result
}

func convertCoordinateToJSON(p models.Coordinate) map[string]interface{} {
	return map[string]interface{}{
		"lat": p.Latitude,
		"lng": p.Longitude,
	}
}

// protoToCoordinates разбирает список точек из protobuf списка {lat,lng}
func protoToCoordinates(list *structpb.ListValue) []models.Coordinate {
	if list == nil {
		return nil
	}
	result := make([]models.Coordinate, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		result = append(result, models.Coordinate{
			Latitude:  fields["lat"].GetNumberValue(),
			Longitude: fields["lng"].GetNumberValue(),
		})
	}
	return result
}
