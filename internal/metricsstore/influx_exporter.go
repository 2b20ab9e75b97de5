// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metricsstore

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

var _ Exporter = (*InfluxExporter)(nil)

// InfluxExporter mirrors recorded points into an InfluxDB bucket for
// retention beyond the in-memory ring buffer's window, using the
// non-blocking write API so a slow or unreachable Influx instance never
// stalls the probe pipeline.
type InfluxExporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// NewInfluxExporter connects to an InfluxDB instance. org and bucket
// follow InfluxDB 2.x's naming; token is the API token, not a
// username/password pair.
func NewInfluxExporter(url, token, org, bucket string) *InfluxExporter {
	client := influxdb2.NewClient(url, token)
	return &InfluxExporter{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
	}
}

// Write implements metricsstore.Exporter, tagging each point by instance
// and metric name.
func (e *InfluxExporter) Write(instanceUID, metric string, p Point) error {
	point := influxdb2.NewPoint(
		"dcsentinel_metric",
		map[string]string{"instance_uid": instanceUID, "metric": metric},
		map[string]any{"value": p.Value},
		p.Timestamp,
	)
	e.writeAPI.WritePoint(point)
	return nil
}

// Close flushes any buffered points and releases the client.
func (e *InfluxExporter) Close() {
	e.writeAPI.Flush()
	e.client.Close()
}
