package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/flybeeper/drone-sim/internal/models"
)

const (
	contentTypeProtobuf = "application/x-protobuf"

	defaultListLimit = 100
	maxListLimit     = 10000
)

// waypointRequest тело POST /path/waypoints. Указатели отличают 0 от отсутствия поля.
type waypointRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// pathRequest тело PUT /path
type pathRequest struct {
	Waypoints []models.Coordinate `json:"waypoints"`
}

// respondError отправляет ошибку в формате {"code","message"}
func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

// wantsProtobuf проверяет, запросил ли клиент бинарный ответ
func wantsProtobuf(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), contentTypeProtobuf)
}

// bindWaypoint разбирает одну точку; обе координаты обязательны
func bindWaypoint(c *gin.Context) (models.Coordinate, error) {
	var req waypointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return models.Coordinate{}, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Lat == nil || req.Lng == nil {
		return models.Coordinate{}, errors.New("lat and lng are required")
	}
	return models.Coordinate{Latitude: *req.Lat, Longitude: *req.Lng}, nil
}

// bindPath разбирает маршрут из JSON или protobuf Struct {"waypoints":[{lat,lng}...]}
func bindPath(c *gin.Context) ([]models.Coordinate, error) {
	if strings.HasPrefix(c.ContentType(), contentTypeProtobuf) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		var msg structpb.Struct
		if err := proto.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("failed to parse protobuf data: %w", err)
		}
		return protoToCoordinates(msg.GetFields()["waypoints"].GetListValue()), nil
	}

	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return req.Waypoints, nil
}

// parseLimit читает параметр limit с ограничением сверху
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		respondError(c, http.StatusBadRequest, "invalid_limit",
			fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		return 0, false
	}
	return limit, true
}
