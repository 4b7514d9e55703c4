package onboarding

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/sparkgoals/spark/server/auth"
	"github.com/sparkgoals/spark/store"
)

type mockStore struct {
	mu       sync.Mutex
	nextID   int32
	sessions map[int32]*store.OnboardingSession
	graphs   []*store.GoalGraph
	graphErr error

	createCalls int
	listCalls   int
	updateCalls int
	deleteCalls int
}

func newMockStore() *mockStore {
	return &mockStore{sessions: map[int32]*store.OnboardingSession{}}
}

func (m *mockStore) remoteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls + m.listCalls + m.updateCalls + m.deleteCalls + len(m.graphs)
}

func (m *mockStore) CreateOnboardingSession(_ context.Context, create *store.OnboardingSession) (*store.OnboardingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.nextID++
	stored := *create
	stored.ID = m.nextID
	m.sessions[stored.ID] = &stored
	created := stored
	return &created, nil
}

func (m *mockStore) ListOnboardingSessions(_ context.Context, find *store.FindOnboardingSession) ([]*store.OnboardingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	list := []*store.OnboardingSession{}
	for _, session := range m.sessions {
		if find.OwnerID != nil && session.OwnerID != *find.OwnerID {
			continue
		}
		if find.IsCompleted != nil && session.IsCompleted != *find.IsCompleted {
			continue
		}
		found := *session
		list = append(list, &found)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedTs != list[j].StartedTs {
			return list[i].StartedTs > list[j].StartedTs
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (m *mockStore) UpdateOnboardingSession(_ context.Context, update *store.UpdateOnboardingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	session, ok := m.sessions[update.ID]
	if !ok {
		return errors.New("session not found")
	}
	if update.CurrentStep != nil {
		session.CurrentStep = *update.CurrentStep
	}
	if update.Answers != nil {
		session.Answers = *update.Answers
	}
	if update.MaterializedIDs != nil {
		session.MaterializedIDs = update.MaterializedIDs
	}
	if update.CompletedTs != nil {
		session.CompletedTs = update.CompletedTs
	}
	if update.IsCompleted != nil {
		session.IsCompleted = *update.IsCompleted
	}
	return nil
}

func (m *mockStore) DeleteOnboardingSessions(_ context.Context, del *store.DeleteOnboardingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	for _, id := range del.IDs {
		delete(m.sessions, id)
	}
	return nil
}

func (m *mockStore) CreateGoalGraph(_ context.Context, create *store.GoalGraph) (*store.GoalGraph, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.graphErr != nil {
		return nil, m.graphErr
	}
	m.graphs = append(m.graphs, create)
	return create, nil
}

type fakeCache struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}}
}

func (c *fakeCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *fakeCache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = value
	return nil
}

func (c *fakeCache) DeleteKeys(keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.data, key)
	}
	return nil
}

type fakeProvider struct {
	identity *auth.Identity
}

func (p *fakeProvider) CurrentIdentity(_ context.Context) (*auth.Identity, error) {
	if p.identity == nil {
		return nil, auth.ErrNoIdentity
	}
	return p.identity, nil
}

func (p *fakeProvider) EnsureIdentity(_ context.Context) (*auth.Identity, error) {
	if p.identity == nil {
		p.identity = &auth.Identity{ID: "anon-1", IsAnonymous: true}
	}
	return p.identity, nil
}

type fakeMarker struct {
	mu        sync.Mutex
	marked    []string
	scheduled int
}

func (m *fakeMarker) MarkAlreadySynced(_ context.Context, refs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, refs...)
	return nil
}

func (m *fakeMarker) ScheduleSync(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled++
}

func newTestService(st Store, cache LocalCache, identity auth.Provider) *service {
	svc := NewService(st, cache, identity, &fakeMarker{}).(*service)
	return svc
}

func stringPtr(s string) *string {
	return &s
}

func completeAnswers() *Answers {
	return &Answers{
		UserName:       stringPtr("Ada"),
		GoalTitle:      stringPtr("Run a marathon"),
		Emotions:       []string{"proud", "free"},
		MilestoneTitle: stringPtr("Run 10k without stopping"),
		FirstTaskTitle: stringPtr("Write outline"),
	}
}

func TestAnonymousSessionNeverTouchesRemoteStore(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	provider := &fakeProvider{identity: &auth.Identity{ID: "anon-1", IsAnonymous: true}}
	svc := newTestService(st, newFakeCache(), provider)

	session, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(0), session.ID)
	require.Equal(t, "anon-1", session.OwnerID)

	_, err = svc.Advance(ctx, StepName, &Answers{UserName: stringPtr("Ada")})
	require.NoError(t, err)

	require.Equal(t, 0, st.createCalls)
	require.Equal(t, 0, st.listCalls)
	require.Equal(t, 0, st.updateCalls)
	require.Equal(t, 0, st.deleteCalls)
}

func TestStartPersistsSessionForAuthenticatedUser(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(st, newFakeCache(), provider)

	session, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	require.NotEqual(t, int32(0), session.ID)
	require.Equal(t, "u1", session.OwnerID)
	require.Equal(t, StepLanguage, session.CurrentStep)
	require.Equal(t, 1, st.createCalls)

	// A second call while the session is live returns it unchanged.
	again, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	require.Equal(t, session.UID, again.UID)
	require.Equal(t, 1, st.createCalls)
}

func TestRecoverKeepsLatestAndPurgesStaleSessions(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}

	older, err := st.CreateOnboardingSession(ctx, &store.OnboardingSession{
		UID: "older", OwnerID: "u1", StartedTs: 1000, CurrentStep: StepWelcome, Answers: "{}",
	})
	require.NoError(t, err)
	newer, err := st.CreateOnboardingSession(ctx, &store.OnboardingSession{
		UID: "newer", OwnerID: "u1", StartedTs: 2000, CurrentStep: StepGoal,
		Answers: `{"userName":"Ada"}`,
	})
	require.NoError(t, err)
	st.createCalls = 0

	svc := newTestService(st, newFakeCache(), provider)
	session, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	require.Equal(t, newer.UID, session.UID)
	require.Equal(t, StepGoal, session.CurrentStep)
	require.Equal(t, 0, st.createCalls)

	_, stillThere := st.sessions[older.ID]
	require.False(t, stillThere)
	_, stillThere = st.sessions[newer.ID]
	require.True(t, stillThere)

	// The recovered answers feed the in-memory aggregate.
	require.NotNil(t, svc.answers.UserName)
	require.Equal(t, "Ada", *svc.answers.UserName)
}

func TestAdvanceIsForwardOnly(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(newMockStore(), newFakeCache(), provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)

	session, err := svc.Advance(ctx, StepVision, nil)
	require.NoError(t, err)
	require.Equal(t, StepVision, session.CurrentStep)

	// A stale screen reporting an earlier step must not regress progress.
	session, err = svc.Advance(ctx, StepWelcome, nil)
	require.NoError(t, err)
	require.Equal(t, StepVision, session.CurrentStep)
}

func TestAdvanceMergesAnswersAdditively(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(newMockStore(), newFakeCache(), provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)

	_, err = svc.Advance(ctx, StepName, &Answers{UserName: stringPtr("Ada")})
	require.NoError(t, err)
	_, err = svc.Advance(ctx, StepGoal, &Answers{GoalTitle: stringPtr("Run a marathon")})
	require.NoError(t, err)

	require.Equal(t, "Ada", *svc.answers.UserName)
	require.Equal(t, "Run a marathon", *svc.answers.GoalTitle)

	// Later writes to the same field win.
	_, err = svc.Advance(ctx, StepGoal, &Answers{GoalTitle: stringPtr("Write a novel")})
	require.NoError(t, err)
	require.Equal(t, "Write a novel", *svc.answers.GoalTitle)
}

func TestAdvanceWithoutSessionFails(t *testing.T) {
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(newMockStore(), newFakeCache(), provider)

	_, err := svc.Advance(context.Background(), StepName, nil)
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestMaterializeCreatesGoalGraph(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	marker := &fakeMarker{}
	svc := NewService(st, newFakeCache(), provider, marker).(*service)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)

	answers := completeAnswers()
	answers.VisionImageRef = stringPtr("file://vision.png")
	answers.VisionStyle = stringPtr("watercolour")

	records, err := svc.MaterializeAndDefer(ctx, answers)
	require.NoError(t, err)
	require.NotEmpty(t, records.GoalID)
	require.NotEmpty(t, records.MilestoneID)
	require.NotEmpty(t, records.TaskID)
	require.NotNil(t, records.VisionImageID)

	require.Len(t, st.graphs, 1)
	graph := st.graphs[0]
	require.Equal(t, "u1", graph.OwnerID)
	require.Equal(t, graph.Goal.UID, graph.Milestone.GoalUID)
	require.Equal(t, graph.Milestone.UID, graph.Task.MilestoneUID)
	require.NotNil(t, graph.Goal.VisionImageUID)
	require.Equal(t, graph.VisionImage.UID, *graph.Goal.VisionImageUID)
	require.True(t, graph.Task.IsPriority)
	require.NotNil(t, graph.Task.ScheduledTs)

	// New records are pre-marked so the sync pass skips them.
	require.ElementsMatch(t, records.Refs(), marker.marked)
	require.Equal(t, 1, marker.scheduled)

	// The durable session row carries the ids for post-restart recovery.
	require.NotNil(t, svc.session.MaterializedIDs)
	require.NotNil(t, svc.session.CompletedTs)
}

func TestMaterializeFailureLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	st.graphErr = errors.New("disk full")
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	marker := &fakeMarker{}
	svc := NewService(st, newFakeCache(), provider, marker).(*service)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)

	_, err = svc.MaterializeAndDefer(ctx, completeAnswers())
	require.Error(t, err)
	require.Nil(t, svc.records)
	require.Nil(t, svc.session.MaterializedIDs)
	require.Nil(t, svc.session.CompletedTs)
	require.Empty(t, marker.marked)
	require.Equal(t, 0, marker.scheduled)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(st, newFakeCache(), provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)

	first, err := svc.MaterializeAndDefer(ctx, completeAnswers())
	require.NoError(t, err)
	second, err := svc.MaterializeAndDefer(ctx, completeAnswers())
	require.NoError(t, err)

	require.Equal(t, first.GoalID, second.GoalID)
	require.Len(t, st.graphs, 1)
}

func TestMaterializeRequiresCoreTitles(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(newMockStore(), newFakeCache(), provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)

	_, err = svc.MaterializeAndDefer(ctx, &Answers{GoalTitle: stringPtr("Run a marathon")})
	require.ErrorIs(t, err, ErrMissingAnswers)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	cache := newFakeCache()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(st, cache, provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	_, err = svc.MaterializeAndDefer(ctx, completeAnswers())
	require.NoError(t, err)

	require.False(t, svc.IsWorkflowDone(ctx))
	require.NoError(t, svc.Finalize(ctx))
	require.True(t, svc.IsWorkflowDone(ctx))

	updatesAfterFirst := st.updateCalls
	require.NoError(t, svc.Finalize(ctx))
	require.Equal(t, updatesAfterFirst, st.updateCalls)
}

func TestFinalizeFailsWhenDoneFlagCannotPersist(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	cache.setErr = errors.New("disk full")
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(newMockStore(), cache, provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)

	require.Error(t, svc.Finalize(ctx))
	require.False(t, svc.IsWorkflowDone(ctx))
}

func TestFinalizeSnapshotsPreferences(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(newMockStore(), newFakeCache(), provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, StepPersonalization, &Answers{
		UserName:        stringPtr("Ada"),
		Personalization: stringPtr("woman"),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Finalize(ctx))

	name, ok := svc.UserName()
	require.True(t, ok)
	require.Equal(t, "Ada", name)
	personalization, ok := svc.Personalization()
	require.True(t, ok)
	require.Equal(t, "woman", personalization)
}

func TestRecoveryAcrossRestart(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	cache := newFakeCache()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}

	svc := newTestService(st, cache, provider)
	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, StepName, &Answers{UserName: stringPtr("Ada")})
	require.NoError(t, err)

	// A fresh service over the same stores models a process restart.
	restarted := newTestService(st, cache, provider)
	session, err := restarted.StartOrRecover(ctx)
	require.NoError(t, err)
	require.Equal(t, StepName, session.CurrentStep)
	require.Equal(t, "Ada", *restarted.answers.UserName)

	_, err = restarted.Advance(ctx, StepTask, &Answers{FirstTaskTitle: stringPtr("Write outline")})
	require.NoError(t, err)
	require.Equal(t, "Ada", *restarted.answers.UserName)
	require.Equal(t, "Write outline", *restarted.answers.FirstTaskTitle)

	answers := *restarted.answers
	answers.GoalTitle = stringPtr("Run a marathon")
	answers.MilestoneTitle = stringPtr("Run 10k")
	records, err := restarted.MaterializeAndDefer(ctx, &answers)
	require.NoError(t, err)
	require.NotEmpty(t, records.TaskID)

	require.NoError(t, restarted.OnPurchaseConfirmed(ctx))
	require.True(t, restarted.IsWorkflowDone(ctx))

	// The remote row reflects completion for the next device.
	var remote *store.OnboardingSession
	for _, s := range st.sessions {
		remote = s
	}
	require.NotNil(t, remote)
	require.True(t, remote.IsCompleted)
	require.NotNil(t, remote.MaterializedIDs)
}

func TestRecoveredMaterializedSessionSkipsSecondTransaction(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}

	svc := newTestService(st, newFakeCache(), provider)
	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	records, err := svc.MaterializeAndDefer(ctx, completeAnswers())
	require.NoError(t, err)

	// Killed before finalization; the next launch recovers the session
	// with its materialized ids and must not rebuild the records.
	restarted := newTestService(st, newFakeCache(), provider)
	_, err = restarted.StartOrRecover(ctx)
	require.NoError(t, err)
	again, err := restarted.MaterializeAndDefer(ctx, completeAnswers())
	require.NoError(t, err)
	require.Equal(t, records.GoalID, again.GoalID)
	require.Len(t, st.graphs, 1)
}

func TestResetClearsLocalAndRemoteState(t *testing.T) {
	ctx := context.Background()
	st := newMockStore()
	cache := newFakeCache()
	provider := &fakeProvider{identity: &auth.Identity{ID: "u1"}}
	svc := newTestService(st, cache, provider)

	_, err := svc.StartOrRecover(ctx)
	require.NoError(t, err)
	_, err = svc.MaterializeAndDefer(ctx, completeAnswers())
	require.NoError(t, err)
	require.NoError(t, svc.Finalize(ctx))
	require.True(t, svc.IsWorkflowDone(ctx))

	require.NoError(t, svc.Reset(ctx))
	require.False(t, svc.IsWorkflowDone(ctx))
	require.Empty(t, st.sessions)
	_, ok := svc.UserName()
	require.False(t, ok)
}
