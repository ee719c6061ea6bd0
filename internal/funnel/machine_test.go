package funnel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/draft"
)

// testDefinition: intro -> details -> extra (skipped when fast) -> finish.
func testDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := Compile(Definition{
		Type:   "test",
		Target: TargetBackend,
		Steps: []Step{
			{ID: "intro"},
			{
				ID:    "details",
				Valid: func(d Data) bool { return d.String("name") != "" },
				Next:  SkipTo(4, func(d Data) bool { return d.Bool("fast") }),
			},
			{ID: "extra", Valid: func(d Data) bool { return d.String("note") != "" }},
			{ID: "finish", Valid: func(d Data) bool { return d.Bool("agree") }},
		},
		Fields: map[string]string{
			"name":  `{"type":"string"}`,
			"fast":  `{"type":"boolean"}`,
			"note":  `{"type":"string"}`,
			"agree": `{"type":"boolean"}`,
		},
		Defaults: func() Data { return Data{"agree": false} },
		Extract:  func(_ string, d Data) (interface{}, error) { return d.Clone(), nil },
	})
	require.NoError(t, err)
	return def
}

func newTestMachine(t *testing.T, store draft.Store) *Machine {
	t.Helper()
	return New(testDefinition(t), Options{
		SessionID: "s1",
		UserRef:   "U1",
		Store:     store,
		KeyPrefix: "opz:draft",
		Logger:    logger.NewTestLogger(t),
	})
}

func TestCompile_Errors(t *testing.T) {
	extract := func(string, Data) (interface{}, error) { return nil, nil }
	tests := []struct {
		name string
		def  Definition
	}{
		{"no type", Definition{Steps: []Step{{ID: "a"}}, Extract: extract}},
		{"no steps", Definition{Type: "x", Extract: extract}},
		{"no extractor", Definition{Type: "x", Steps: []Step{{ID: "a"}}}},
		{"duplicate ids", Definition{Type: "x", Steps: []Step{{ID: "a"}, {ID: "a"}}, Extract: extract}},
		{"bad schema", Definition{Type: "x", Steps: []Step{{ID: "a"}}, Fields: map[string]string{"f": `{`}, Extract: extract}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.def)
			assert.Error(t, err)
		})
	}
}

func TestCompile_AssignsIndexes(t *testing.T) {
	def := testDefinition(t)
	for i, s := range def.Steps {
		assert.Equal(t, i+1, s.Index)
		assert.NotNil(t, s.Valid)
	}
	idx, ok := def.IndexOf("extra")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)
}

func TestNext_GatedByPredicate(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, draft.NewMemoryStore(0))

	assert.True(t, m.Next(ctx), "informational step is always valid")
	assert.Equal(t, 2, m.Current().Index)

	assert.False(t, m.CanProceed())
	assert.False(t, m.Next(ctx))
	assert.Equal(t, 2, m.Current().Index)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "Aino"}))
	assert.True(t, m.Next(ctx))
	assert.Equal(t, "extra", m.Current().ID)
}

func TestNext_NoOpAtLastStep(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, nil)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "fast": true, "agree": true}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	assert.Equal(t, 4, m.Current().Index)

	assert.False(t, m.Next(ctx))
	assert.Equal(t, 4, m.Current().Index)
}

func TestSkipRuleSymmetry(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, nil)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "fast": true}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	assert.Equal(t, "finish", m.Current().ID, "extra is skipped forwards")

	require.True(t, m.Back(ctx))
	assert.Equal(t, "details", m.Current().ID, "and backwards")

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"fast": false}))
	require.True(t, m.Next(ctx))
	assert.Equal(t, "extra", m.Current().ID)
}

func TestBack_AfterSkipConditionChanged(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, nil)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "note": "n"}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	require.Equal(t, "finish", m.Current().ID)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"fast": true}))
	require.True(t, m.Back(ctx))
	assert.Equal(t, "details", m.Current().ID)
}

func TestBack_NoOpAtFirstStep(t *testing.T) {
	m := newTestMachine(t, nil)
	assert.False(t, m.Back(context.Background()))
	assert.Equal(t, 1, m.Current().Index)
}

func TestGoTo_OnlyBackwards(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, nil)
	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "note": "n"}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	require.Equal(t, 3, m.Current().Index)

	assert.False(t, m.GoTo(ctx, "finish"), "forward")
	assert.False(t, m.GoTo(ctx, "extra"), "current")
	assert.False(t, m.GoTo(ctx, "nope"), "unknown")
	assert.Equal(t, 3, m.Current().Index)

	assert.True(t, m.GoTo(ctx, "intro"))
	assert.Equal(t, 1, m.Current().Index)
}

func TestUpdateData_RejectsUnknownAndInvalid(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	m := newTestMachine(t, store)

	err := m.UpdateData(ctx, map[string]interface{}{"name": "A", "nmae": "typo"})
	assert.ErrorIs(t, err, ErrUnknownField)
	assert.NotContains(t, m.Snapshot().Data, "name", "rejected updates are not partially applied")

	err = m.UpdateData(ctx, map[string]interface{}{"fast": "yes"})
	assert.ErrorIs(t, err, ErrInvalidField)
	assert.Equal(t, 0, store.Len())

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A"}))
	assert.Equal(t, 1, store.Len())
}

func TestUpdateData_ShallowMerge(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, nil)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "note": "first"}))
	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"note": "second"}))

	data := m.Snapshot().Data
	assert.Equal(t, "A", data["name"])
	assert.Equal(t, "second", data["note"])
	assert.Equal(t, false, data["agree"], "defaults survive merges")
}

func TestPersistence_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	m := newTestMachine(t, store)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "Aino"}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	before := m.Snapshot()

	resumed, err := Resume(ctx, testDefinition(t), Options{SessionID: "s1", Store: store, KeyPrefix: "opz:draft"})
	require.NoError(t, err)
	after := resumed.Snapshot()

	assert.Equal(t, before.Data, after.Data)
	assert.Equal(t, before.CurrentStepIndex, after.CurrentStepIndex)
	assert.Equal(t, "U1", after.UserRef)
}

func TestResume_NoDraftCases(t *testing.T) {
	ctx := context.Background()
	def := testDefinition(t)
	key := draft.Key("opz:draft", "test", "s1")

	tests := []struct {
		name  string
		value string
	}{
		{"missing", ""},
		{"malformed json", `{"data":`},
		{"wrong shape", `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := draft.NewMemoryStore(0)
			if tt.value != "" {
				require.NoError(t, store.Set(ctx, key, []byte(tt.value)))
			}
			_, err := Resume(ctx, def, Options{SessionID: "s1", Store: store, KeyPrefix: "opz:draft", Logger: logger.NewTestLogger(t)})
			assert.ErrorIs(t, err, ErrNoDraft)
		})
	}
}

func TestResume_SanitisesStoredState(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	key := draft.Key("opz:draft", "test", "s1")
	require.NoError(t, store.Set(ctx, key, []byte(`{"data":{"name":"A","legacyField":1},"currentStepIndex":9,"userRef":"U9"}`)))

	m, err := Resume(ctx, testDefinition(t), Options{SessionID: "s1", Store: store, KeyPrefix: "opz:draft"})
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, 4, snap.CurrentStepIndex)
	assert.NotContains(t, snap.Data, "legacyField")
	assert.Equal(t, "A", snap.Data["name"])
	assert.Equal(t, "U9", snap.UserRef)
}

func TestResume_StoreError(t *testing.T) {
	store := draft.NewMemoryStore(0)
	store.Disable()
	_, err := Resume(context.Background(), testDefinition(t), Options{SessionID: "s1", Store: store, KeyPrefix: "p"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDraft)
}

func TestQuotaExceeded_ContinuesInMemory(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(16)
	m := newTestMachine(t, store)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "Aino"}), "quota errors never surface")
	assert.Equal(t, "Aino", m.Snapshot().Data["name"])
	assert.True(t, m.MemoryOnly())

	msg, ok := m.TakeStorageWarning()
	assert.True(t, ok)
	assert.Equal(t, StorageWarning, msg)
	_, ok = m.TakeStorageWarning()
	assert.False(t, ok, "the notice is shown once")

	assert.True(t, m.Next(ctx))
	assert.True(t, m.Next(ctx))
	assert.Equal(t, 3, m.Current().Index)
	assert.Equal(t, 0, store.Len())
}

func TestStorageDisabled_ContinuesInMemory(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	store.Disable()
	m := newTestMachine(t, store)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A"}))
	assert.True(t, m.MemoryOnly())
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	m := newTestMachine(t, store)

	assert.ErrorIs(t, m.MarkSubmitted(ctx), ErrIncomplete, "not on the last step")

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "fast": true}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	assert.ErrorIs(t, m.MarkSubmitted(ctx), ErrIncomplete, "last step predicate false")

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"agree": true}))
	require.Equal(t, 1, store.Len())

	var delivered Instance
	require.NoError(t, m.Submit(ctx, func(_ context.Context, inst Instance) error {
		delivered = inst
		return nil
	}))
	assert.Equal(t, true, delivered.Data["agree"])
	assert.False(t, delivered.Submitted)
	assert.True(t, m.Snapshot().Submitted)
	assert.Equal(t, 0, store.Len(), "draft removed on submit")

	assert.False(t, m.Back(ctx))
	assert.False(t, m.GoTo(ctx, "intro"))
	assert.ErrorIs(t, m.UpdateData(ctx, map[string]interface{}{"name": "B"}), ErrSubmitted)
	assert.ErrorIs(t, m.MarkSubmitted(ctx), ErrSubmitted)
	m.Save(ctx)
	assert.Equal(t, 0, store.Len(), "persistence suppressed after submit")
}

func TestSubmit_DeliveryFailureKeepsDraft(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	m := newTestMachine(t, store)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "fast": true, "agree": true}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))

	boom := errors.New("boom")
	err := m.Submit(ctx, func(context.Context, Instance) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.Snapshot().Submitted)
	assert.Equal(t, 1, store.Len())
}

// stickyStore keeps every draft because Remove always fails.
type stickyStore struct {
	*draft.MemoryStore
}

func (stickyStore) Remove(context.Context, string) error {
	return errors.New("remove failed")
}

func TestSubmit_FailedRemoveLeavesNoResumableDraft(t *testing.T) {
	ctx := context.Background()
	store := stickyStore{draft.NewMemoryStore(0)}
	m := newTestMachine(t, store)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A", "fast": true, "agree": true}))
	require.True(t, m.Next(ctx))
	require.True(t, m.Next(ctx))
	require.NoError(t, m.MarkSubmitted(ctx))
	require.Equal(t, 1, store.Len())

	raw, err := store.Get(ctx, draft.Key("opz:draft", "test", "s1"))
	require.NoError(t, err)
	stored, err := draft.Decode(raw)
	require.NoError(t, err)
	assert.True(t, stored.Submitted)
	assert.Empty(t, stored.Data, "tombstone carries no application data")

	_, err = Resume(ctx, testDefinition(t), Options{SessionID: "s1", Store: store, KeyPrefix: "opz:draft", Logger: logger.NewTestLogger(t)})
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	m := newTestMachine(t, store)

	require.NoError(t, m.UpdateData(ctx, map[string]interface{}{"name": "A"}))
	require.True(t, m.Next(ctx))
	m.Reset(ctx)

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.CurrentStepIndex)
	assert.Equal(t, Data{"agree": false}, snap.Data)
	assert.Equal(t, "U1", snap.UserRef)
	assert.Equal(t, 0, store.Len())
}

func TestRandomWalk_IndexStaysInBounds(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	m := newTestMachine(t, nil)
	n := m.Definition().Len()

	updates := []map[string]interface{}{
		{"name": "A"}, {"name": ""}, {"fast": true}, {"fast": false},
		{"note": "n"}, {"note": ""}, {"agree": true}, {"agree": false},
	}

	for i := 0; i < 2000; i++ {
		before := m.Snapshot()
		validBefore := m.CanProceed()

		switch rng.Intn(4) {
		case 0:
			moved := m.Next(ctx)
			if moved {
				assert.True(t, validBefore, "advanced past an invalid step at %d", before.CurrentStepIndex)
			}
		case 1:
			m.Back(ctx)
		case 2:
			m.GoTo(ctx, m.Definition().Step(rng.Intn(n)+1).ID)
		case 3:
			require.NoError(t, m.UpdateData(ctx, updates[rng.Intn(len(updates))]))
		}

		idx := m.Snapshot().CurrentStepIndex
		require.GreaterOrEqual(t, idx, 1)
		require.LessOrEqual(t, idx, n)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t, draft.NewMemoryStore(0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.UpdateData(ctx, map[string]interface{}{"note": fmt.Sprintf("n%d", i)})
			m.Next(ctx)
			m.Back(ctx)
		}(i)
	}
	wg.Wait()

	idx := m.Snapshot().CurrentStepIndex
	assert.GreaterOrEqual(t, idx, 1)
	assert.LessOrEqual(t, idx, 4)
}
