package influxHelper

import (
	"fmt"
	"strings"
	"time"

	influxdb "github.com/influxdata/influxdb/client/v2"

	"github.com/bcaldwell/expensior/pkg/classifier"
	"github.com/bcaldwell/expensior/pkg/config"
	"github.com/bcaldwell/expensior/pkg/financialimporter"
)

func CreateInfluxClient(secrets config.InfluxSecrets) (influxdb.Client, error) {
	return influxdb.NewHTTPClient(influxdb.HTTPConfig{
		Addr:     secrets.InfluxEndpoint,
		Username: secrets.InfluxUsername,
		Password: secrets.InfluxPassword,
	})
}

func CreateDatabase(influxClient influxdb.Client, name string) error {
	name = strings.Split(name, " ")[0]

	createCommand := fmt.Sprintf("CREATE DATABASE %s", name)

	q := influxdb.NewQuery(createCommand, "", "")
	response, err := influxClient.Query(q)
	if err != nil {
		return err
	}
	return response.Error()
}

// Reporter writes one point per import and per classification run. Without an influx endpoint
// every report is a no-op.
type Reporter struct {
	client   influxdb.Client
	database string
	prefix   string
	now      func() time.Time
}

func NewReporter(influxConfig config.InfluxConfig, secrets config.InfluxSecrets) (*Reporter, error) {
	r := &Reporter{database: influxConfig.Database, prefix: influxConfig.MeasurementPrefix, now: time.Now}
	if secrets.InfluxEndpoint == "" {
		return r, nil
	}

	client, err := CreateInfluxClient(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to create influx client: %w", err)
	}

	err = CreateDatabase(client, r.database)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("error creating influx database %s: %w", r.database, err)
	}

	r.client = client
	return r, nil
}

func (r *Reporter) Enabled() bool {
	return r != nil && r.client != nil
}

func (r *Reporter) ReportImport(result *financialimporter.ImportResult) error {
	if !r.Enabled() || result == nil || result.DryRun {
		return nil
	}
	pt, err := r.importPoint(result)
	if err != nil {
		return err
	}
	return r.write(pt)
}

func (r *Reporter) ReportClassification(result *classifier.RunResult) error {
	if !r.Enabled() || result == nil || result.DryRun {
		return nil
	}
	pt, err := r.classificationPoint(result)
	if err != nil {
		return err
	}
	return r.write(pt)
}

func (r *Reporter) importPoint(result *financialimporter.ImportResult) (*influxdb.Point, error) {
	tags := map[string]string{
		"file":   result.FileName,
		"status": result.Status,
	}
	fields := map[string]interface{}{
		"batch_id":  result.BatchID,
		"attempted": result.Attempted,
		"inserted":  result.Inserted,
		"natural":   result.IDs.Natural,
		"synthetic": result.IDs.Synthetic,
		"duplicate": result.IDs.Duplicate,
	}
	return influxdb.NewPoint(r.prefix+"import", tags, fields, r.now())
}

func (r *Reporter) classificationPoint(result *classifier.RunResult) (*influxdb.Point, error) {
	fields := map[string]interface{}{
		"found":         result.Found,
		"classified":    result.Classified,
		"unclassified":  result.Unclassified,
		"saved":         result.Saved,
		"skipped_rules": len(result.SkippedRules),
	}
	return influxdb.NewPoint(r.prefix+"classification", map[string]string{}, fields, r.now())
}

func (r *Reporter) write(pt *influxdb.Point) error {
	bp, err := influxdb.NewBatchPoints(influxdb.BatchPointsConfig{
		Database:  r.database,
		Precision: "s",
	})
	if err != nil {
		return err
	}
	bp.AddPoint(pt)

	err = r.client.Write(bp)
	if err != nil {
		return fmt.Errorf("failed to write %s to influx: %w", pt.Name(), err)
	}
	return nil
}

func (r *Reporter) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.client.Close()
}
