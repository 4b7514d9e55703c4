// Package onboarding implements the resumable guided-setup workflow engine.
//
// The engine owns one Session aggregate per process and survives restarts by
// reconciling two stores: a small durable local cache that is authoritative
// for the binary "is onboarding done?" gate, and a remote session store used
// as a best-effort recovery aid for authenticated identities. Anonymous
// identities never touch the remote store; their sessions live purely in
// memory until sign-in or completion.
//
// Completion is deliberately split in two: MaterializeAndDefer creates the
// final domain records as soon as the answers are complete, while Finalize
// flips the durable done flag only once the external purchase confirmation
// arrives.
package onboarding

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/sparkgoals/spark/server/auth"
	"github.com/sparkgoals/spark/store"
)

const (
	completedCacheKey   = "onboarding_completed"
	preferencesCacheKey = "onboarding_preferences"

	// syncKickDelay is how soon after materialization the background sync
	// pass is asked to run.
	syncKickDelay = 5 * time.Second
)

var (
	// ErrNoActiveSession is returned when an operation requires a session
	// and none was started or recovered.
	ErrNoActiveSession = errors.New("no active onboarding session")
	// ErrMissingAnswers is returned when materialization is attempted
	// without the required answer fields.
	ErrMissingAnswers = errors.New("answers are missing required fields")
)

// Store is the interface for store operations needed by the onboarding
// service. Anonymous identities must never reach any of these methods.
type Store interface {
	CreateOnboardingSession(ctx context.Context, create *store.OnboardingSession) (*store.OnboardingSession, error)
	ListOnboardingSessions(ctx context.Context, find *store.FindOnboardingSession) ([]*store.OnboardingSession, error)
	UpdateOnboardingSession(ctx context.Context, update *store.UpdateOnboardingSession) error
	DeleteOnboardingSessions(ctx context.Context, delete *store.DeleteOnboardingSession) error
	CreateGoalGraph(ctx context.Context, create *store.GoalGraph) (*store.GoalGraph, error)
}

// SyncMarker is the background reconciliation boundary. Newly materialized
// records are pre-registered so the independent sync pass never submits a
// conflicting duplicate.
type SyncMarker interface {
	MarkAlreadySynced(ctx context.Context, refs []string) error
	ScheduleSync(delay time.Duration)
}

// LocalCache is the durable local key-value store. Injected so the engine
// stays testable with an in-memory fake.
type LocalCache interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	DeleteKeys(keys ...string) error
}

type preferences struct {
	Name            *string `json:"name,omitempty"`
	Personalization *string `json:"personalization,omitempty"`
}

type service struct {
	store    Store
	cache    LocalCache
	identity auth.Provider
	marker   SyncMarker

	// mu serializes all mutation entry points; the engine performs no
	// internal parallelism.
	mu      sync.Mutex
	session *store.OnboardingSession
	answers *Answers
	records *MaterializedRecords

	sf  singleflight.Group
	now func() time.Time
}

// NewService creates a new onboarding service.
func NewService(store Store, cache LocalCache, identity auth.Provider, marker SyncMarker) Service {
	return &service{
		store:    store,
		cache:    cache,
		identity: identity,
		marker:   marker,
		now:      time.Now,
	}
}

func (s *service) IsWorkflowDone(_ context.Context) bool {
	v, ok := s.cache.Get(completedCacheKey)
	return ok && v == "true"
}

func (s *service) StartOrRecover(ctx context.Context) (*store.OnboardingSession, error) {
	// Duplicate taps and concurrent relaunch paths collapse into one
	// recovery, preventing retried inserts from piling up orphan rows.
	v, err, _ := s.sf.Do("start_or_recover", func() (any, error) {
		return s.startOrRecover(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.OnboardingSession), nil
}

func (s *service) startOrRecover(ctx context.Context) (*store.OnboardingSession, error) {
	identity, err := s.identity.EnsureIdentity(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve identity")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && !s.session.IsCompleted {
		return s.session, nil
	}

	if !identity.IsAnonymous {
		if session := s.recoverRemote(ctx, identity.ID); session != nil {
			answers, err := DecodeAnswers(session.Answers)
			if err != nil {
				slog.Warn("discarding unparseable recovered answers", "error", err)
				answers = &Answers{}
			}
			records, err := DecodeMaterializedRecords(session.MaterializedIDs)
			if err != nil {
				slog.Warn("discarding unparseable materialized ids", "error", err)
				records = nil
			}
			s.session, s.answers, s.records = session, answers, records
			return session, nil
		}
	}

	session := &store.OnboardingSession{
		UID:         shortuuid.New(),
		OwnerID:     identity.ID,
		StartedTs:   s.now().Unix(),
		CurrentStep: StepLanguage,
		Answers:     "{}",
	}
	if !identity.IsAnonymous {
		if created, err := s.store.CreateOnboardingSession(ctx, session); err != nil {
			slog.Warn("failed to persist new onboarding session", "error", err)
		} else {
			session = created
		}
	}
	s.session, s.answers, s.records = session, &Answers{}, nil
	slog.Info("onboarding session started", "anonymous", identity.IsAnonymous)
	return session, nil
}

// recoverRemote returns the most recently started incomplete session for the
// owner and purges stale duplicates. Remote failures are absorbed.
func (s *service) recoverRemote(ctx context.Context, ownerID string) *store.OnboardingSession {
	incomplete := false
	list, err := s.store.ListOnboardingSessions(ctx, &store.FindOnboardingSession{
		OwnerID:     &ownerID,
		IsCompleted: &incomplete,
	})
	if err != nil {
		slog.Warn("failed to query remote sessions", "error", err)
		return nil
	}
	if len(list) == 0 {
		return nil
	}

	if len(list) > 1 {
		ids := make([]int32, 0, len(list)-1)
		for _, stale := range list[1:] {
			ids = append(ids, stale.ID)
		}
		if err := s.store.DeleteOnboardingSessions(ctx, &store.DeleteOnboardingSession{IDs: ids}); err != nil {
			slog.Warn("failed to purge stale sessions", "error", err, "count", len(ids))
		} else {
			slog.Info("purged stale onboarding sessions", "count", len(ids))
		}
	}

	slog.Info("recovered onboarding session", "step", StepLabel(list[0].CurrentStep))
	return list[0]
}

func (s *service) Advance(ctx context.Context, step int32, partial *Answers) (*store.OnboardingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrNoActiveSession
	}

	s.answers.Merge(partial)
	encoded, err := s.answers.Encode()
	if err != nil {
		return nil, err
	}
	s.session.Answers = encoded
	// Steps only move forward; a regressed index keeps the current step.
	if step > s.session.CurrentStep {
		s.session.CurrentStep = step
	}

	s.persistProgress(ctx)

	return s.session, nil
}

// persistProgress pushes the current step and answers to the remote store.
// Best-effort: failures are logged and swallowed, the in-memory aggregate
// stays the source of truth for the rest of the process lifetime.
func (s *service) persistProgress(ctx context.Context) {
	session := s.session
	if session.ID == 0 {
		return
	}
	// Anonymity can change between steps; check it fresh every time.
	identity, err := s.identity.CurrentIdentity(ctx)
	if err != nil || identity.IsAnonymous {
		return
	}

	update := &store.UpdateOnboardingSession{
		ID:          session.ID,
		CurrentStep: &session.CurrentStep,
		Answers:     &session.Answers,
	}
	if err := s.store.UpdateOnboardingSession(ctx, update); err != nil {
		slog.Warn("failed to persist onboarding progress", "error", err, "step", StepLabel(session.CurrentStep))
	}
}

func (s *service) MaterializeAndDefer(ctx context.Context, answers *Answers) (*MaterializedRecords, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrNoActiveSession
	}
	if s.records != nil {
		// A session recovered after a kill between materialization and
		// finalization lands here; the records already exist, so hand back
		// their ids instead of re-running the transaction.
		return s.records, nil
	}
	if answers == nil || answers.GoalTitle == nil || answers.MilestoneTitle == nil || answers.FirstTaskTitle == nil {
		return nil, errors.Wrap(ErrMissingAnswers, "goal, milestone and first task titles are required")
	}

	graph := s.buildGoalGraph(answers)
	records := &MaterializedRecords{
		GoalID:      graph.Goal.UID,
		MilestoneID: graph.Milestone.UID,
		TaskID:      graph.Task.UID,
	}
	if graph.VisionImage != nil {
		records.VisionImageID = &graph.VisionImage.UID
	}

	encodedAnswers, err := answers.Encode()
	if err != nil {
		return nil, err
	}
	encodedRecords, err := records.Encode()
	if err != nil {
		return nil, err
	}

	if _, err := s.store.CreateGoalGraph(ctx, graph); err != nil {
		return nil, errors.Wrap(err, "failed to materialize onboarding records")
	}

	// The independent sync pass must never re-submit records this
	// transaction just created locally.
	if err := s.marker.MarkAlreadySynced(ctx, records.Refs()); err != nil {
		slog.Warn("failed to pre-register materialized records", "error", err)
	}
	s.marker.ScheduleSync(syncKickDelay)

	completedTs := s.now().Unix()
	s.session.Answers = encodedAnswers
	s.session.MaterializedIDs = &encodedRecords
	s.session.CompletedTs = &completedTs
	s.answers = answers
	s.records = records

	s.persistMaterialization(ctx)

	slog.Info("onboarding records materialized", "goal", records.GoalID)
	return records, nil
}

func (s *service) buildGoalGraph(answers *Answers) *store.GoalGraph {
	now := s.now()
	createdTs := now.Unix()
	ownerID := s.session.OwnerID

	graph := &store.GoalGraph{OwnerID: ownerID, CreatedTs: createdTs}

	var visionImageUID *string
	if answers.VisionImageRef != nil {
		graph.VisionImage = &store.VisionImage{
			UID:       shortuuid.New(),
			OwnerID:   ownerID,
			CreatedTs: createdTs,
			Prompt:    stringValue(answers.VisionPrompt),
			Style:     stringValue(answers.VisionStyle),
			ImageRef:  *answers.VisionImageRef,
		}
		visionImageUID = &graph.VisionImage.UID
	}

	emotions := "[]"
	if answers.Emotions != nil {
		if raw, err := json.Marshal(answers.Emotions); err == nil {
			emotions = string(raw)
		}
	}

	graph.Goal = &store.Goal{
		UID:            shortuuid.New(),
		OwnerID:        ownerID,
		CreatedTs:      createdTs,
		Title:          *answers.GoalTitle,
		Emotions:       emotions,
		VisionImageUID: visionImageUID,
	}
	graph.Milestone = &store.Milestone{
		UID:       shortuuid.New(),
		OwnerID:   ownerID,
		CreatedTs: createdTs,
		GoalUID:   graph.Goal.UID,
		Title:     *answers.MilestoneTitle,
	}

	// The first task lands on today's plan as the priority item.
	scheduledTs := startOfDay(now).Unix()
	graph.Task = &store.Task{
		UID:          shortuuid.New(),
		OwnerID:      ownerID,
		CreatedTs:    createdTs,
		GoalUID:      graph.Goal.UID,
		MilestoneUID: graph.Milestone.UID,
		Title:        *answers.FirstTaskTitle,
		ScheduledTs:  &scheduledTs,
		IsPriority:   true,
	}
	return graph
}

// persistMaterialization pushes the full answer set and the materialized ids
// to the remote store. Best-effort, like persistProgress.
func (s *service) persistMaterialization(ctx context.Context) {
	session := s.session
	if session.ID == 0 {
		return
	}
	identity, err := s.identity.CurrentIdentity(ctx)
	if err != nil || identity.IsAnonymous {
		return
	}

	update := &store.UpdateOnboardingSession{
		ID:              session.ID,
		Answers:         &session.Answers,
		MaterializedIDs: session.MaterializedIDs,
		CompletedTs:     session.CompletedTs,
	}
	if err := s.store.UpdateOnboardingSession(ctx, update); err != nil {
		slog.Warn("failed to persist materialized session", "error", err)
	}
}

func (s *service) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(completedCacheKey); ok && v == "true" {
		return nil
	}

	s.savePreferences()

	// The local done flag is the one write finalization cannot lose; it
	// gates app entry on every cold start.
	if err := s.cache.Set(completedCacheKey, "true"); err != nil {
		return errors.Wrap(err, "failed to persist onboarding completion")
	}

	s.completeRemote(ctx)

	s.session, s.answers, s.records = nil, nil, nil
	slog.Info("onboarding finalized")
	return nil
}

func (s *service) OnPurchaseConfirmed(ctx context.Context) error {
	return s.Finalize(ctx)
}

func (s *service) savePreferences() {
	if s.answers == nil {
		return
	}
	prefs := preferences{
		Name:            s.answers.UserName,
		Personalization: s.answers.Personalization,
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		slog.Warn("failed to marshal onboarding preferences", "error", err)
		return
	}
	if err := s.cache.Set(preferencesCacheKey, string(raw)); err != nil {
		slog.Warn("failed to persist onboarding preferences", "error", err)
	}
}

// completeRemote marks the remote session row completed. Best-effort.
func (s *service) completeRemote(ctx context.Context) {
	session := s.session
	if session == nil || session.ID == 0 {
		return
	}
	identity, err := s.identity.CurrentIdentity(ctx)
	if err != nil || identity.IsAnonymous {
		return
	}

	completed := true
	update := &store.UpdateOnboardingSession{
		ID:          session.ID,
		IsCompleted: &completed,
	}
	if session.CompletedTs != nil {
		update.CompletedTs = session.CompletedTs
	} else {
		completedTs := s.now().Unix()
		update.CompletedTs = &completedTs
	}
	if err := s.store.UpdateOnboardingSession(ctx, update); err != nil {
		slog.Warn("failed to mark remote session completed", "error", err)
	}
}

func (s *service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.DeleteKeys(completedCacheKey, preferencesCacheKey); err != nil {
		return errors.Wrap(err, "failed to clear local onboarding state")
	}

	identity, err := s.identity.CurrentIdentity(ctx)
	if err == nil && !identity.IsAnonymous {
		list, err := s.store.ListOnboardingSessions(ctx, &store.FindOnboardingSession{OwnerID: &identity.ID})
		if err != nil {
			slog.Warn("failed to list sessions for reset", "error", err)
		} else if len(list) > 0 {
			ids := make([]int32, 0, len(list))
			for _, session := range list {
				ids = append(ids, session.ID)
			}
			if err := s.store.DeleteOnboardingSessions(ctx, &store.DeleteOnboardingSession{IDs: ids}); err != nil {
				slog.Warn("failed to delete remote sessions on reset", "error", err)
			}
		}
	}

	s.session, s.answers, s.records = nil, nil, nil
	return nil
}

func (s *service) UserName() (string, bool) {
	prefs, ok := s.loadPreferences()
	if !ok || prefs.Name == nil {
		return "", false
	}
	return *prefs.Name, true
}

func (s *service) Personalization() (string, bool) {
	prefs, ok := s.loadPreferences()
	if !ok || prefs.Personalization == nil {
		return "", false
	}
	return *prefs.Personalization, true
}

func (s *service) loadPreferences() (*preferences, bool) {
	raw, ok := s.cache.Get(preferencesCacheKey)
	if !ok || raw == "" {
		return nil, false
	}
	prefs := &preferences{}
	if err := json.Unmarshal([]byte(raw), prefs); err != nil {
		slog.Warn("failed to parse onboarding preferences", "error", err)
		return nil, false
	}
	return prefs, true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
