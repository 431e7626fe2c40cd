package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationRejectedWaypoints количество отклоненных точек маршрута по источнику
	ValidationRejectedWaypoints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronesim_validation_rejected_waypoints_total",
		Help: "Number of waypoints rejected by input validation",
	}, []string{"source"}) // source: rest, mqtt

	// ImportRowsTotal строки CSV по результату разбора
	ImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronesim_import_rows_total",
		Help: "Number of CSV rows processed by import result",
	}, []string{"result"}) // result: accepted, zero, invalid, out_of_range

	// ImportsTotal количество загрузок маршрута
	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dronesim_imports_total",
		Help: "Number of route imports by result",
	}, []string{"result"}) // result: success, rejected
)
