package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/agenteval/agenteval/pkg/config"
	"github.com/agenteval/agenteval/pkg/store"
)

// ErrNoBackend is returned by New when no export backend is enabled.
var ErrNoBackend = errors.New("no export backend enabled")

// Document is the exported form of one evaluation run.
type Document struct {
	ExportedAt time.Time              `json:"exported_at"`
	Run        *store.EvaluationRun   `json:"run"`
	Summary    []store.AgentSummary   `json:"summary"`
	Results    []store.TestResult     `json:"results"`
	Telemetry  []store.TelemetryEvent `json:"telemetry"`
}

// Exporter writes run documents to a storage backend.
type Exporter interface {
	// Preflight verifies that the destination is writable.
	Preflight(ctx context.Context) error

	// Export writes doc and returns its location.
	Export(ctx context.Context, doc *Document) (string, error)
}

// New returns the exporter for the enabled backend.
func New(log logrus.FieldLogger, cfg *config.ExportConfig) (Exporter, error) {
	switch {
	case cfg.S3.Enabled:
		return NewS3Exporter(log, &cfg.S3), nil
	case cfg.Local.Enabled:
		return NewLocalExporter(log, &cfg.Local)
	default:
		return nil, ErrNoBackend
	}
}

// Build collects everything recorded for a run.
func Build(ctx context.Context, st store.Store, runID uint) (*Document, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %d: %w", runID, err)
	}

	summary, err := st.SummarizeRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	results, err := st.ListResultsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	events, err := st.ListTelemetryEventsByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Empty sections export as [] rather than null.
	if summary == nil {
		summary = []store.AgentSummary{}
	}

	if results == nil {
		results = []store.TestResult{}
	}

	if events == nil {
		events = []store.TelemetryEvent{}
	}

	return &Document{
		ExportedAt: time.Now().UTC(),
		Run:        run,
		Summary:    summary,
		Results:    results,
		Telemetry:  events,
	}, nil
}

// ObjectKey is the storage key of a run document below prefix.
func ObjectKey(prefix string, runID uint) string {
	key := fmt.Sprintf("runs/%d.json", runID)

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}

func encode(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding run document: %w", err)
	}

	return data, nil
}
