package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/cepalstack/cepalstack/internal/derive"
	"github.com/cepalstack/cepalstack/internal/pipeline"
)

// namespace prefixes every metric name.
const namespace = "cepalstat"

// Run is what one invocation did. Fetch is nil when fetching was skipped,
// Result is nil when derivation was skipped or failed.
type Run struct {
	ID       string
	Fetch    *pipeline.Summary
	Result   *derive.Result
	Duration time.Duration
	Finished time.Time
}

// Families converts r to metric families sorted by name.
func Families(r Run) []*dto.MetricFamily {
	fams := []*dto.MetricFamily{
		gauge("run_info", "Identifier of the last run; always 1.", 1, "run_id", r.ID),
	}

	if r.Fetch != nil {
		fams = append(fams, gauge("indicators_processed", "Indicators attempted in the last run.", float64(len(r.Fetch.Outcomes))))
		fams = append(fams, gauge("indicators_succeeded", "Indicators that completed every step.", float64(r.Fetch.Succeeded())))

		failed := r.Fetch.FailedAt()
		mf := &dto.MetricFamily{
			Name: proto.String(namespace + "_indicators_failed"),
			Help: proto.String("Indicators that stopped at each step."),
			Type: dto.MetricType_GAUGE.Enum(),
		}
		for _, step := range pipeline.Steps {
			if step == pipeline.StepDone {
				continue
			}
			mf.Metric = append(mf.Metric, sample(float64(failed[step]), "step", string(step)))
		}
		fams = append(fams, mf)
	}

	if r.Result != nil {
		fams = append(fams,
			gauge("result_rows", "Rows in the derived monthly income table.", float64(len(r.Result.Rows))),
			gauge("result_countries", "Distinct countries considered by the derivation.", float64(r.Result.Countries)),
			gauge("duplicate_lookups", "Lookups that matched more than one row.", float64(r.Result.Duplicates)),
			gauge("derive_duration_seconds", "Wall time of the derivation.", r.Duration.Seconds()),
			gauge("last_success_timestamp_seconds", "Unix time of the last successful derivation.", float64(r.Finished.Unix())),
		)
	}

	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// Write renders r and replaces the file at path with it.
func Write(path string, r Run) error {
	var buf bytes.Buffer
	for _, mf := range Families(r) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("report: encode %s: %w", mf.GetName(), err)
		}
	}

	// Textfile collectors read *.prom only, so the temp name must not match.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.tmp")
	if err != nil {
		return fmt.Errorf("report: create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("report: write %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("report: close %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("report: rename into %q: %w", path, err)
	}
	return nil
}

func gauge(name, help string, v float64, labels ...string) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + "_" + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{sample(v, labels...)},
	}
}

// sample builds a gauge sample; labels are name/value pairs.
func sample(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Gauge: &dto.Gauge{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}
