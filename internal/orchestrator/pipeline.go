package orchestrator

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ai-and-i/recorder/internal/catalog"
	apperrors "github.com/ai-and-i/recorder/internal/errors"
	"github.com/ai-and-i/recorder/internal/reconcile"
	"github.com/ai-and-i/recorder/internal/session"
	"github.com/ai-and-i/recorder/internal/storage"
	"github.com/ai-and-i/recorder/internal/timeline"
	"github.com/ai-and-i/recorder/internal/trace"
)

// Mixer realizes a plan into one output file.
type Mixer interface {
	Mix(ctx context.Context, p reconcile.Plan, output string) (reconcile.Result, error)
}

// Catalog is the subset of the recordings catalog the orchestrator writes to.
type Catalog interface {
	Begin(ctx context.Context, id, stamp string, startedAt time.Time) error
	Finish(ctx context.Context, rec catalog.Recording) error
	UpdateStatus(ctx context.Context, id string, status catalog.Status, msg string) error
	SetMixed(ctx context.Context, id, path string) error
	AddSegments(ctx context.Context, recordingID string, segs []session.AudioSegment) error
	Get(ctx context.Context, id string) (catalog.Recording, error)
	List(ctx context.Context, limit int) ([]catalog.Recording, error)
	Segments(ctx context.Context, recordingID string) ([]session.AudioSegment, error)
}

// Pipeline runs the post-recording stages over a frozen session.
type Pipeline struct {
	Dir        string
	Tolerances timeline.Tolerances
	Gains      reconcile.Options
	Mixer      Mixer   // nil disables mixing
	Catalog    Catalog // nil disables catalog updates
}

// RunOptions selects stages.
type RunOptions struct {
	Persist bool // write session metadata JSON
	Mix     bool
	// Force mixes even when the timeline failed validation.
	Force bool
}

// Outcome reports what each stage produced. Stage failures other than
// persistence are reported here rather than returned.
type Outcome struct {
	SessionID       string            `json:"sessionID"`
	Status          catalog.Status    `json:"status"`
	MetadataPath    string            `json:"metadataPath,omitempty"`
	Report          *timeline.Report  `json:"report,omitempty"`
	ValidationCode  apperrors.Code    `json:"validationCode,omitempty"`
	ValidationError string            `json:"validationError,omitempty"`
	Plan            *reconcile.Plan   `json:"plan,omitempty"`
	PlanError       string            `json:"planError,omitempty"`
	Mix             *reconcile.Result `json:"mix,omitempty"`
	MixError        string            `json:"mixError,omitempty"`
}

// Run persists, validates, plans and mixes s. Only a persistence failure is
// returned as an error.
func (p *Pipeline) Run(ctx context.Context, s session.RecordingSession, opt RunOptions) (Outcome, error) {
	ctx = trace.WithSession(ctx, s.SessionID)
	log := trace.Logger(ctx)
	out := Outcome{SessionID: s.SessionID, Status: catalog.StatusStopped}
	stamp := s.Stamp()

	if opt.Persist {
		out.MetadataPath = storage.MetadataPath(p.Dir, stamp)
		if err := p.persist(ctx, s, out.MetadataPath); err != nil {
			p.updateStatus(ctx, s.SessionID, catalog.StatusStopped, err.Error())
			return out, err
		}
	}

	validErr := p.validate(ctx, s, &out)
	mixable := validErr == nil || errors.Is(validErr, timeline.ErrNoSegments) || opt.Force
	if validErr != nil && !errors.Is(validErr, timeline.ErrNoSegments) {
		out.Status = catalog.StatusInvalid
		log.Warn("timeline failed validation", "code", out.ValidationCode, "error", validErr)
	}

	plan, err := p.plan(ctx, s)
	if err != nil {
		out.PlanError = err.Error()
		out.Status = catalog.StatusInvalid
		p.updateStatus(ctx, s.SessionID, out.Status, err.Error())
		return out, nil
	}
	out.Plan = &plan

	if !opt.Mix || p.Mixer == nil || !mixable {
		if err := p.indexSegments(ctx, s); err != nil {
			log.Warn("segment checkpoint failed", "error", err)
		}
		p.updateStatus(ctx, s.SessionID, out.Status, out.ValidationError)
		return out, nil
	}

	res, err := p.mix(ctx, s, plan)
	out.Mix = &res
	if err != nil {
		out.Status = catalog.StatusMixFailed
		out.MixError = err.Error()
		log.Error("mix failed, unmixed segments remain available", "error", err, "fallback_inputs", len(res.Fallback))
		p.updateStatus(ctx, s.SessionID, out.Status, err.Error())
		return out, nil
	}
	out.Status = catalog.StatusMixed
	if p.Catalog != nil {
		if err := p.Catalog.SetMixed(ctx, s.SessionID, res.Output); err != nil && !apperrors.IsCode(err, apperrors.CodeNotFound) {
			log.Warn("catalog update failed", "error", err)
		}
	}
	return out, nil
}

func (p *Pipeline) persist(ctx context.Context, s session.RecordingSession, path string) error {
	ctx, span := trace.StartSpan(ctx, "persist")
	defer span.End()
	span.SetAttr("path", path)

	err := storage.SaveSession(path, s)
	span.SetError(err)
	if err != nil {
		return err
	}
	if p.Catalog == nil {
		return nil
	}
	rec := catalog.Recording{
		ID:             s.SessionID,
		Stamp:          s.Stamp(),
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		Status:         catalog.StatusStopped,
		MicSegments:    len(s.MicSegments),
		SystemSegments: len(s.SystemSegments),
		DeviceSwaps:    len(s.DeviceSwaps),
		MetadataPath:   path,
	}
	if s.EndedAt != nil {
		rec.Duration = s.EndedAt.Sub(s.StartedAt).Seconds()
	}
	if err := p.Catalog.Finish(ctx, rec); err != nil {
		trace.Logger(ctx).Warn("catalog update failed", "session", s.SessionID, "error", err)
	}
	return nil
}

func (p *Pipeline) validate(ctx context.Context, s session.RecordingSession, out *Outcome) error {
	_, span := trace.StartSpan(ctx, "validate")
	defer span.End()

	report, err := timeline.Validate(s, p.Tolerances)
	span.SetError(err)
	if err != nil {
		out.ValidationCode = apperrors.CodeOf(err)
		out.ValidationError = err.Error()
		return err
	}
	out.Status = catalog.StatusValidated
	out.Report = &report
	span.SetAttr("max_gap", report.MaxGap)
	span.SetAttr("fallback_segments", report.FallbackSegmentCount)
	return nil
}

func (p *Pipeline) plan(ctx context.Context, s session.RecordingSession) (reconcile.Plan, error) {
	_, span := trace.StartSpan(ctx, "plan")
	defer span.End()

	plan, err := reconcile.BuildPlan(s, p.Gains)
	span.SetError(err)
	if err == nil {
		span.SetAttr("mode", plan.Mode)
		span.SetAttr("output_duration", plan.OutputDuration)
	}
	return plan, err
}

// mix runs ffmpeg while the final segment list is written to the catalog.
func (p *Pipeline) mix(ctx context.Context, s session.RecordingSession, plan reconcile.Plan) (reconcile.Result, error) {
	ctx, span := trace.StartSpan(ctx, "mix")
	defer span.End()

	var res reconcile.Result
	var mixErr error
	var g errgroup.Group
	g.Go(func() error {
		res, mixErr = p.Mixer.Mix(ctx, plan, storage.MixedPath(p.Dir, s.Stamp()))
		return nil
	})
	g.Go(func() error { return p.indexSegments(ctx, s) })
	if err := g.Wait(); err != nil {
		trace.Logger(ctx).Warn("segment checkpoint failed", "session", s.SessionID, "error", err)
	}
	span.SetError(mixErr)
	span.SetAttr("elapsed", res.Elapsed)
	return res, mixErr
}

// indexSegments writes the final segment list, including failure reasons
// set after checkpointing.
func (p *Pipeline) indexSegments(ctx context.Context, s session.RecordingSession) error {
	if p.Catalog == nil {
		return nil
	}
	all := append(append([]session.AudioSegment(nil), s.MicSegments...), s.SystemSegments...)
	err := p.Catalog.AddSegments(ctx, s.SessionID, all)
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return nil
	}
	return err
}

func (p *Pipeline) updateStatus(ctx context.Context, id string, st catalog.Status, msg string) {
	if p.Catalog == nil {
		return
	}
	if err := p.Catalog.UpdateStatus(ctx, id, st, msg); err != nil && !apperrors.IsCode(err, apperrors.CodeNotFound) {
		trace.Logger(ctx).Warn("catalog update failed", "session", id, "status", st, "error", err)
	}
}
