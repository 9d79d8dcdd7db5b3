package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/safebar/stockledger/snapshot"
	"github.com/safebar/stockledger/stock"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

type Renderer interface {
	Render(rep DailyReport) (Artifact, error)
}

type Dispatcher interface {
	Send(ctx context.Context, art Artifact, rep DailyReport) error
}

// SnapshotRoller is implemented by snapshot.FileCache.
type SnapshotRoller interface {
	Roll(day stock.BusinessDay, lines []snapshot.Line) (bool, error)
}

// EntrySource is implemented by stock.Ledger.
type EntrySource interface {
	EntriesForDay(ctx context.Context, day stock.BusinessDay) ([]stock.EntryView, error)
	LatestDay(ctx context.Context, itemID stock.ItemID) (stock.BusinessDay, error)
}

// Observer is told about each shift close and delivery failure.
type Observer interface {
	ReportClosed(rep DailyReport, delivered bool)
	DeliveryFailed(stage string)
}

// Delivery stages reported in stock.DeliveryError.
const (
	StageRender   = "render"
	StageArchive  = "archive"
	StageSnapshot = "snapshot"
	StageDispatch = "dispatch"
)

// =============================================================================
// SINK
// =============================================================================

// Sink renders, archives and dispatches reports. Nil collaborators are
// skipped, except the renderer.
type Sink struct {
	renderer   Renderer
	dispatcher Dispatcher
	roller     SnapshotRoller
	dir        string
}

func NewSink(renderer Renderer, dispatcher Dispatcher, roller SnapshotRoller, dir string) *Sink {
	return &Sink{renderer: renderer, dispatcher: dispatcher, roller: roller, dir: dir}
}

func (s *Sink) Render(rep DailyReport) (Artifact, error) {
	return s.renderer.Render(rep)
}

// Save writes art into the report directory and returns its path, or ""
// when no directory is configured.
func (s *Sink) Save(art Artifact) (string, error) {
	if s.dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	path := filepath.Join(s.dir, art.Name)
	if err := os.WriteFile(path, art.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return path, nil
}

// ArchiveAndRollSnapshot makes each line's closing the snapshot's next
// opening. It reports whether the snapshot moved.
func (s *Sink) ArchiveAndRollSnapshot(rep DailyReport) (bool, error) {
	if s.roller == nil {
		return false, nil
	}
	lines := make([]snapshot.Line, 0, len(rep.Payload.Lines))
	for _, l := range rep.Payload.Lines {
		lines = append(lines, snapshot.Line{
			ItemID:    l.ItemID,
			Item:      l.Item,
			Closing:   l.Closing,
			UnitPrice: l.UnitPriceAtCapture,
		})
	}
	return s.roller.Roll(rep.Day, lines)
}

// Dispatch hands art to the delivery channel. It reports false when none
// is configured.
func (s *Sink) Dispatch(ctx context.Context, art Artifact, rep DailyReport) (bool, error) {
	if s.dispatcher == nil {
		return false, nil
	}
	if err := s.dispatcher.Send(ctx, art, rep); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// SERVICE
// =============================================================================

type CloseShiftInput struct {
	Day           stock.BusinessDay
	StaffName     string
	Notes         string
	ManagerDrinks []ManagerDrink
}

// Outcome is what a shift close produced, even when delivery failed.
type Outcome struct {
	Report         DailyReport
	ArtifactPath   string
	SnapshotRolled bool
	Delivered      bool
}

type Service struct {
	entries    EntrySource
	aggregator *Aggregator
	sink       *Sink
	observer   Observer
	log        *zap.Logger
}

type ServiceOption func(*Service)

func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

func NewService(entries EntrySource, aggregator *Aggregator, sink *Sink, opts ...ServiceOption) *Service {
	s := &Service{
		entries:    entries,
		aggregator: aggregator,
		sink:       sink,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Aggregator() *Aggregator { return s.aggregator }

// CloseShift builds and persists the day's report, then renders, saves,
// rolls the snapshot and dispatches it. Once the report is persisted the
// returned Outcome carries it, whatever fails afterwards.
func (s *Service) CloseShift(ctx context.Context, in CloseShiftInput) (Outcome, error) {
	if in.Day.IsZero() {
		return Outcome{}, stock.Invalid("day", "is required")
	}
	entries, err := s.entries.EntriesForDay(ctx, in.Day)
	if err != nil {
		return Outcome{}, err
	}
	if len(entries) == 0 {
		s.log.Warn("closing shift with no stock entries", zap.String("day", in.Day.String()))
	}

	rep, err := s.aggregator.Build(in.Day, in.StaffName, entries, in.Notes, in.ManagerDrinks)
	if err != nil {
		return Outcome{}, err
	}
	rep, err = s.aggregator.persist(ctx, rep)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Report: rep}

	art, err := s.sink.Render(rep)
	if err != nil {
		return out, s.failed(rep, StageRender, err)
	}
	if out.ArtifactPath, err = s.sink.Save(art); err != nil {
		return out, s.failed(rep, StageArchive, err)
	}
	current, err := s.currentLines(ctx, rep)
	if err != nil {
		return out, s.failed(rep, StageSnapshot, err)
	}
	if out.SnapshotRolled, err = s.sink.ArchiveAndRollSnapshot(current); err != nil {
		return out, s.failed(rep, StageSnapshot, err)
	}
	if out.Delivered, err = s.sink.Dispatch(ctx, art, rep); err != nil {
		return out, s.failed(rep, StageDispatch, err)
	}
	if !out.Delivered {
		s.log.Warn("no dispatcher configured; report not sent", zap.String("report_id", rep.ID))
	}

	if s.observer != nil {
		s.observer.ReportClosed(rep, out.Delivered)
	}
	s.log.Info("shift closed",
		zap.String("report_id", rep.ID),
		zap.String("day", rep.Day.String()),
		zap.String("artifact", out.ArtifactPath),
		zap.Bool("snapshot_rolled", out.SnapshotRolled),
		zap.Bool("delivered", out.Delivered))
	return out, nil
}

// Redeliver re-renders a persisted report and dispatches it again. The
// snapshot is not touched.
func (s *Service) Redeliver(ctx context.Context, reportID string) (Outcome, error) {
	rep, err := s.aggregator.Get(ctx, reportID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Report: rep}

	art, err := s.sink.Render(rep)
	if err != nil {
		return out, s.failed(rep, StageRender, err)
	}
	if out.ArtifactPath, err = s.sink.Save(art); err != nil {
		return out, s.failed(rep, StageArchive, err)
	}
	if out.Delivered, err = s.sink.Dispatch(ctx, art, rep); err != nil {
		return out, s.failed(rep, StageDispatch, err)
	}
	if !out.Delivered {
		return out, s.failed(rep, StageDispatch, errors.New("no dispatcher configured"))
	}
	s.log.Info("report redelivered", zap.String("report_id", rep.ID))
	return out, nil
}

// Export renders a persisted report for download.
func (s *Service) Export(ctx context.Context, reportID string) (Artifact, error) {
	rep, err := s.aggregator.Get(ctx, reportID)
	if err != nil {
		return Artifact{}, err
	}
	art, err := s.sink.Render(rep)
	if err != nil {
		return Artifact{}, s.failed(rep, StageRender, err)
	}
	return art, nil
}

// currentLines returns rep with only the lines whose item has no ledger
// entry after rep.Day. A later entry already moved that item's opening,
// so its closing here must not reach the snapshot.
func (s *Service) currentLines(ctx context.Context, rep DailyReport) (DailyReport, error) {
	lines := make([]Line, 0, len(rep.Payload.Lines))
	for _, l := range rep.Payload.Lines {
		latest, err := s.entries.LatestDay(ctx, l.ItemID)
		if err != nil {
			return rep, err
		}
		if latest.After(rep.Day) {
			s.log.Info("snapshot keeps ledger value for item with later entries",
				zap.Int64("item_id", int64(l.ItemID)),
				zap.String("report_day", rep.Day.String()),
				zap.String("latest_day", latest.String()))
			continue
		}
		lines = append(lines, l)
	}
	rep.Payload.Lines = lines
	return rep, nil
}

func (s *Service) failed(rep DailyReport, stage string, err error) error {
	s.log.Error("report delivery failed",
		zap.String("report_id", rep.ID),
		zap.String("stage", stage),
		zap.Error(err))
	if s.observer != nil {
		s.observer.DeliveryFailed(stage)
	}
	return &stock.DeliveryError{Stage: stage, ReportID: rep.ID, Err: err}
}
