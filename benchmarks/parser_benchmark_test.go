package benchmarks

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/flybeeper/drone-sim/internal/importer"
	"github.com/flybeeper/drone-sim/internal/models"
	"github.com/flybeeper/drone-sim/internal/mqtt"
)

func BenchmarkParseCommand(b *testing.B) {
	payloads := map[string][]byte{
		"Start":  []byte(`{"action":"start"}`),
		"Append": []byte(`{"action":"append","lat":18.5621,"lng":-68.4084}`),
	}

	for name, payload := range payloads {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := mqtt.ParseCommand(payload); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEncodeTelemetry(b *testing.B) {
	point := &models.Telemetry{
		RunID:      "0f8fad5b-d9cb-469f-a165-70867728950e",
		Sequence:   42,
		Status:     models.StatusRunning,
		Index:      3,
		Latitude:   18.5601,
		Longitude:  -68.3981,
		Geohash:    "d7q6ty9e",
		RecordedAt: time.Now(),
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := mqtt.EncodeTelemetry(point); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseCSV(b *testing.B) {
	for _, rows := range []int{10, 1000, 10000} {
		var sb strings.Builder
		sb.WriteString("name,latitude,longitude\n")
		for i := 0; i < rows; i++ {
			fmt.Fprintf(&sb, "wp%d,%.6f,%.6f\n", i, 18.5+float64(i)*0.0001, -68.4+float64(i)*0.0001)
		}
		data := []byte(sb.String())

		b.Run(fmt.Sprintf("Rows%d", rows), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := importer.ParseCSV(bytes.NewReader(data)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
