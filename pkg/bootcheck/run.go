package bootcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options are the inputs of a single run.
type Options struct {
	ImagePath string
	// Fix authorizes rewriting mismatched references.
	Fix bool
	// Authorize is consulted when Fix is false and the image needs fixing.
	// Returning true authorizes the fix for this run only.
	Authorize func(ctx context.Context, mismatches []Mismatch) (bool, error)
	// ScratchDir holds the per-run mount directories. Defaults to os.TempDir().
	ScratchDir string
	// System defaults to DefaultSystem.
	System System
}

// Phase is the position of a run in its state machine:
// init -> attached -> mounted -> checked -> terminal -> cleaned.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseAttached
	PhaseMounted
	PhaseChecked
	PhaseTerminal
	PhaseCleaned
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseAttached:
		return "attached"
	case PhaseMounted:
		return "mounted"
	case PhaseChecked:
		return "checked"
	case PhaseTerminal:
		return "terminal"
	case PhaseCleaned:
		return "cleaned"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// runContext carries everything a run acquires so that release logic has
// no dependency on call-site state.
type runContext struct {
	id      string
	opts    Options
	sys     System
	cleanup *Cleanup
	phase   Phase
	log     *zap.Logger
}

// Run checks one image and, when authorized, repairs it. Classifications
// (OK, Fixed, Blocked, Unsupported) are returned as a Result; invalid
// input and OS-level failures are returned as errors. The Result is nil
// with an error, except when a fix was attempted: it then carries the
// changes already written. Every resource the run acquires is released
// before Run returns, whatever the outcome.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := ValidateImagePath(opts.ImagePath); err != nil {
		return nil, err
	}

	id, err := newRunID()
	if err != nil {
		return nil, err
	}

	rc := &runContext{
		id:      id,
		opts:    opts,
		sys:     opts.System,
		cleanup: newCleanup(),
		log:     logger().With(zap.String("run", id), zap.String("image", opts.ImagePath)),
	}
	if rc.sys == nil {
		rc.sys = DefaultSystem
	}

	defer rc.release(ctx)
	return rc.execute(ctx)
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("create run id: %w", err)
	}
	return id.String(), nil
}

func (rc *runContext) enter(ctx context.Context, p Phase) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted before %s: %w", p, err)
	}
	rc.log.Debug("phase", zap.Stringer("from", rc.phase), zap.Stringer("to", p))
	rc.phase = p
	return nil
}

func (rc *runContext) release(ctx context.Context) {
	rc.log.Debug("releasing run resources", zap.Int("pending", rc.cleanup.Pending()))
	if err := rc.cleanup.Release(ctx); err != nil {
		rc.log.Warn("cleanup incomplete", zap.Error(err))
	}
	rc.log.Debug("phase", zap.Stringer("from", rc.phase), zap.Stringer("to", PhaseCleaned))
	rc.phase = PhaseCleaned
}

func (rc *runContext) result(status Status) *Result {
	return &Result{
		RunID:     rc.id,
		ImagePath: rc.opts.ImagePath,
		Status:    status,
	}
}

func (rc *runContext) unsupported(reason error) *Result {
	rc.log.Info("image unsupported", zap.Error(reason))
	rc.phase = PhaseTerminal
	res := rc.result(StatusUnsupported)
	res.Reason = reason
	return res
}

func (rc *runContext) execute(ctx context.Context) (*Result, error) {
	attacher := NewAttacher(rc.sys, rc.cleanup)
	att, err := attacher.Attach(ctx, rc.opts.ImagePath)
	if err != nil {
		return nil, err
	}
	if err := rc.enter(ctx, PhaseAttached); err != nil {
		return nil, err
	}

	parts, err := attacher.Enumerate(ctx, att)
	if errors.Is(err, ErrUnsupportedTopology) {
		return rc.unsupported(err), nil
	}
	if err != nil {
		return nil, err
	}

	mounter, err := NewMounter(rc.sys, rc.cleanup, rc.opts.ScratchDir, rc.id)
	if err != nil {
		return nil, err
	}
	rc.log.Debug("scratch directory created", zap.String("path", mounter.Root()))
	for i := range parts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("interrupted while mounting: %w", err)
		}
		if err := mounter.Mount(ctx, &parts[i]); err != nil {
			return nil, err
		}
	}
	if err := rc.enter(ctx, PhaseMounted); err != nil {
		return nil, err
	}

	if err := VerifyContent(parts); err != nil {
		if errors.Is(err, ErrUnsupportedContent) {
			return rc.unsupported(err), nil
		}
		return nil, err
	}

	obs, err := Observe(ctx, rc.sys, parts)
	if err != nil {
		return nil, err
	}
	report := Compare(obs)
	if err := rc.enter(ctx, PhaseChecked); err != nil {
		return nil, err
	}

	res := rc.result(report.Status)
	res.Observation = obs
	res.Mismatches = report.Mismatches
	for _, m := range report.Mismatches {
		rc.log.Info("reference mismatch",
			zap.String("reference", m.Ref.Name), zap.String("file", m.Ref.File), zap.Int("line", m.Ref.Line),
			zap.String("found", m.Found), zap.String("expected", m.Expected))
	}

	if report.Status == StatusOK {
		rc.phase = PhaseTerminal
		return res, nil
	}

	authorized, err := rc.authorized(ctx, report.Mismatches)
	if err != nil {
		return nil, err
	}
	if !authorized {
		rc.log.Info("fix not authorized, leaving image untouched", zap.Int("mismatches", len(report.Mismatches)))
		rc.phase = PhaseTerminal
		res.Status = StatusBlocked
		return res, nil
	}

	// From here on files may have been rewritten: failures keep res so the
	// caller can still record res.Changes.
	changes, err := Apply(obs.Partitions, report.Mismatches)
	res.Changes = changes
	if err != nil {
		return res, err
	}

	after, err := Observe(ctx, rc.sys, parts)
	if err != nil {
		return res, fmt.Errorf("re-check after fix: %w", err)
	}
	if verify := Compare(after); verify.Status != StatusOK {
		return res, fmt.Errorf("%w: %d remaining", ErrFixNotVerified, len(verify.Mismatches))
	}

	rc.phase = PhaseTerminal
	res.Status = StatusFixed
	return res, nil
}

func (rc *runContext) authorized(ctx context.Context, mismatches []Mismatch) (bool, error) {
	if rc.opts.Fix {
		return true, nil
	}
	if rc.opts.Authorize == nil {
		return false, nil
	}
	ok, err := rc.opts.Authorize(ctx, mismatches)
	if err != nil {
		return false, fmt.Errorf("authorize fix: %w", err)
	}
	return ok, nil
}
