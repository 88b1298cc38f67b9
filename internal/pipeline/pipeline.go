package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cepalstack/cepalstack/internal/persist"
	"github.com/cepalstack/cepalstack/internal/table"
)

// Step names the stage an indicator's flow reached.
type Step string

// Steps in the order they run for one indicator.
const (
	StepFetchMetadata Step = "fetch_metadata"
	StepParseMetadata Step = "parse_metadata"
	StepSaveMetadata  Step = "save_metadata"
	StepIndicatorName Step = "indicator_name"
	StepFetchRecords  Step = "fetch_records"
	StepParseRecords  Step = "parse_records"
	StepSaveRecords   Step = "save_records"
	StepDone          Step = "done"
)

// Steps lists every step, StepDone last.
var Steps = []Step{
	StepFetchMetadata, StepParseMetadata, StepSaveMetadata, StepIndicatorName,
	StepFetchRecords, StepParseRecords, StepSaveRecords, StepDone,
}

// Fetcher retrieves the raw CSV exports of an indicator.
type Fetcher interface {
	Metadata(ctx context.Context, id string) (string, error)
	Records(ctx context.Context, id string) (string, error)
}

// Outcome is what happened to one indicator. Step is StepDone on success,
// otherwise the step that failed with Err.
type Outcome struct {
	ID           string
	Name         string
	Step         Step
	Err          error
	MetadataPath string
	RecordsPath  string
	Rows         int
}

// OK reports whether every step succeeded.
func (o Outcome) OK() bool { return o.Step == StepDone && o.Err == nil }

// Summary collects the outcomes of one run, in input order.
type Summary struct {
	Outcomes []Outcome
}

// Succeeded returns the number of indicators that completed every step.
func (s Summary) Succeeded() int {
	var n int
	for _, o := range s.Outcomes {
		if o.OK() {
			n++
		}
	}
	return n
}

// FailedAt returns how many indicators stopped at each failing step.
func (s Summary) FailedAt() map[Step]int {
	out := make(map[Step]int)
	for _, o := range s.Outcomes {
		if !o.OK() {
			out[o.Step]++
		}
	}
	return out
}

// Pipeline fetches and persists indicators one after another. A failure
// stops only the indicator it happened to.
type Pipeline struct {
	fetch       Fetcher
	metadataDir string
	dataDir     string
}

// New returns a Pipeline writing workbooks to metadataDir and records to dataDir.
func New(f Fetcher, metadataDir, dataDir string) *Pipeline {
	return &Pipeline{fetch: f, metadataDir: metadataDir, dataDir: dataDir}
}

// Run processes ids in order. It stops early only when ctx is cancelled;
// indicators not reached are absent from the summary.
func (p *Pipeline) Run(ctx context.Context, ids []string) Summary {
	var sum Summary
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			slog.Warn("pipeline: run cancelled", "remaining", len(ids)-len(sum.Outcomes), "err", err)
			break
		}
		sum.Outcomes = append(sum.Outcomes, p.Process(ctx, id))
	}
	return sum
}

// Process runs every step for one indicator and reports how far it got.
func (p *Pipeline) Process(ctx context.Context, id string) Outcome {
	log := slog.With("indicator", id)
	log.Info("pipeline: processing indicator")

	out := Outcome{ID: id}
	fail := func(step Step, err error) Outcome {
		out.Step = step
		out.Err = err
		log.Error("pipeline: indicator step failed", "step", string(step), "err", err)
		return out
	}

	metaText, err := p.fetch.Metadata(ctx, id)
	if err != nil {
		return fail(StepFetchMetadata, err)
	}
	meta, err := persist.ParseCSV("metadata", metaText)
	if err != nil {
		return fail(StepParseMetadata, err)
	}
	if out.MetadataPath, err = persist.SaveMetadata(p.metadataDir, id, meta); err != nil {
		return fail(StepSaveMetadata, err)
	}
	log.Info("pipeline: metadata saved", "path", out.MetadataPath)

	if out.Name, err = persist.ExtractIndicatorName(meta); err != nil {
		return fail(StepIndicatorName, err)
	}

	recText, err := p.fetch.Records(ctx, id)
	if err != nil {
		return fail(StepFetchRecords, err)
	}
	recs, err := persist.ParseCSV("records", recText)
	if err != nil {
		return fail(StepParseRecords, err)
	}
	if out.RecordsPath, err = persist.SaveRecords(p.dataDir, out.Name, recs); err != nil {
		return fail(StepSaveRecords, err)
	}
	out.Rows = recs.Len()
	out.Step = StepDone
	log.Info("pipeline: records saved", "name", out.Name, "path", out.RecordsPath, "rows", out.Rows)
	return out
}

// ReadIndicators reads the indicator list: a CSV whose header row is skipped
// and whose first column holds one identifier per row. Blank cells are
// ignored and repeated identifiers keep their first position.
func ReadIndicators(path string) ([]string, error) {
	t, err := table.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read indicators: %w", err)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("pipeline: read indicators: %s has no columns", path)
	}

	seen := make(map[string]bool, t.Len())
	ids := make([]string, 0, t.Len())
	for _, r := range t.Rows {
		id := strings.TrimSpace(r[0])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
