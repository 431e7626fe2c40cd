package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/flybeeper/drone-sim/internal/metrics"
	"github.com/flybeeper/drone-sim/internal/models"
)

var (
	// ErrNoCoordinates файл не содержит ни одной пригодной точки
	ErrNoCoordinates = errors.New("no valid coordinates in file")
	// ErrMissingColumns в заголовке нет колонок широты или долготы
	ErrMissingColumns = errors.New("missing latitude/longitude columns")
)

// Имена колонок в порядке приоритета
var (
	latitudeColumns  = []string{"latitude", "Latitude"}
	longitudeColumns = []string{"longitude", "Longitude"}
)

// Result итог разбора файла маршрута
type Result struct {
	Waypoints  []models.Coordinate
	Rows       int // Строк данных без заголовка
	Zero       int // Отброшено: пустое, нулевое или нечисловое значение
	OutOfRange int // Отброшено: координата вне допустимого диапазона
}

// Dropped общее число отброшенных строк
func (r *Result) Dropped() int {
	return r.Zero + r.OutOfRange
}

// ParseCSV читает маршрут из CSV с заголовком.
// Строки, где широта или долгота равна 0 или не является числом, пропускаются.
// Если не осталось ни одной точки, возвращается ErrNoCoordinates.
func ParseCSV(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoCoordinates
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, exists := columns[name]; !exists {
			columns[name] = i
		}
	}

	if !hasAny(columns, latitudeColumns) || !hasAny(columns, longitudeColumns) {
		return nil, fmt.Errorf("%w: header %v", ErrMissingColumns, header)
	}

	result := &Result{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", result.Rows+1, err)
		}
		result.Rows++

		lat := lookup(record, columns, latitudeColumns)
		lng := lookup(record, columns, longitudeColumns)
		if lat == 0 || lng == 0 {
			result.Zero++
			metrics.ImportRowsTotal.WithLabelValues("zero").Inc()
			continue
		}

		point := models.Coordinate{Latitude: lat, Longitude: lng}
		if err := point.Validate(); err != nil {
			result.OutOfRange++
			metrics.ImportRowsTotal.WithLabelValues("out_of_range").Inc()
			continue
		}

		result.Waypoints = append(result.Waypoints, point)
		metrics.ImportRowsTotal.WithLabelValues("accepted").Inc()
	}

	if len(result.Waypoints) == 0 {
		return result, ErrNoCoordinates
	}
	return result, nil
}

func hasAny(columns map[string]int, names []string) bool {
	for _, name := range names {
		if _, ok := columns[name]; ok {
			return true
		}
	}
	return false
}

// lookup возвращает первое ненулевое числовое значение из колонок names, иначе 0
func lookup(record []string, columns map[string]int, names []string) float64 {
	for _, name := range names {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
		if err != nil || math.IsNaN(v) || v == 0 {
			continue
		}
		return v
	}
	return 0
}
