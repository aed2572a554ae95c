package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitymesh/entitymesh/internal/models"
	"github.com/entitymesh/entitymesh/internal/store"
)

// fakeClock is a deterministic clock.Provider for tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	seq int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) NewID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s_%04d", prefix, f.seq)
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, newFakeClock(), nil, 0), st
}

func strPtr(s string) *string { return &s }

func typePtr(et models.EntityType) *models.EntityType { return &et }

func valPtr(v models.Value) *models.Value { return &v }

func kindPtr(k models.ValueKind) *models.ValueKind { return &k }

func floatPtr(f float64) *float64 { return &f }

// createEntity seeds one entity through the public Update path.
func createEntity(t *testing.T, eng *Engine, sessionID, entityID string) UpdateResponse {
	t.Helper()
	resp := eng.Update(context.Background(), UpdateRequest{
		SessionID: sessionID,
		EntityID:  entityID,
		EntityUpdates: &EntityPatch{
			EntityType:  typePtr(models.EntityTypeField),
			EntityName:  strPtr(entityID),
			EntityValue: strPtr("some value"),
		},
	})
	require.True(t, resp.Success, resp.Message)
	return resp
}

// --- Update ---

func TestUpdate_CreatesSessionAndEntity(t *testing.T) {
	eng, _ := newTestEngine(t)

	resp := eng.Update(context.Background(), UpdateRequest{
		SessionID: "s1",
		EntityID:  "e1",
	})
	require.True(t, resp.Success, resp.Message)

	// Fresh session starts at 1 and the creating mutation advances it to 2.
	assert.Equal(t, int64(2), resp.StateVersion)

	// A created entity stays at version 1; only later mutations advance it.
	require.NotNil(t, resp.UpdatedEntity)
	assert.Equal(t, int64(1), resp.UpdatedEntity.StateVersion)
	assert.Equal(t, models.EntityTypeMetadata, resp.UpdatedEntity.EntityType)
	assert.Equal(t, "e1", resp.UpdatedEntity.EntityName)
	assert.InDelta(t, models.DefaultAttributeConfidence, resp.UpdatedEntity.Confidence, 1e-9)
}

func TestUpdate_CreateThenModifyVersions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")

	resp := eng.Update(ctx, UpdateRequest{
		SessionID:     "s1",
		EntityID:      "e1",
		EntityUpdates: &EntityPatch{Description: strPtr("updated")},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, int64(3), resp.StateVersion)
	assert.Equal(t, int64(2), resp.UpdatedEntity.StateVersion)
	assert.Equal(t, "updated", resp.UpdatedEntity.Description)
}

func TestUpdate_NSeparateUpdatesAdvanceSessionNTimes(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var last UpdateResponse
	for i := 0; i < 4; i++ {
		last = eng.Update(ctx, UpdateRequest{
			SessionID:     "s1",
			EntityID:      fmt.Sprintf("e%d", i),
			EntityUpdates: &EntityPatch{EntityName: strPtr("n"), EntityValue: strPtr("v")},
		})
		require.True(t, last.Success, last.Message)
	}
	// 1 (creation) + 4 updates.
	assert.Equal(t, int64(5), last.StateVersion)
}

func TestUpdate_AttributeBatchIsOneIncrement(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")

	resp := eng.Update(ctx, UpdateRequest{
		SessionID: "s1",
		EntityID:  "e1",
		AttributeUpdates: []AttributePatch{
			{AttributeName: strPtr("valid_values"), AttributeValue: valPtr(models.String("A,B,C"))},
			{AttributeName: strPtr("max_length"), AttributeValue: valPtr(models.Number(64)), AttributeType: kindPtr(models.KindNumber)},
			{AttributeName: strPtr("nullable"), AttributeValue: valPtr(models.Bool(true)), AttributeType: kindPtr(models.KindBool)},
		},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Empty(t, resp.FailedAttributes)

	// Three attribute creations, one version step at each level.
	assert.Equal(t, int64(3), resp.StateVersion)
	assert.Equal(t, int64(2), resp.UpdatedEntity.StateVersion)
	require.Len(t, resp.UpdatedEntity.Attributes, 3)

	// Created attributes get generated IDs and typed values.
	for _, attr := range resp.UpdatedEntity.Attributes {
		assert.Contains(t, attr.AttributeID, "attr_")
	}
	assert.Equal(t, models.KindNumber, resp.UpdatedEntity.Attributes[1].AttributeType)
	assert.InDelta(t, models.DefaultAttributeConfidence, resp.UpdatedEntity.Attributes[0].Confidence, 1e-9)
}

func TestUpdate_PatchExistingAttribute(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")
	created := eng.Update(ctx, UpdateRequest{
		SessionID: "s1",
		EntityID:  "e1",
		AttributeUpdates: []AttributePatch{
			{AttributeName: strPtr("format"), AttributeValue: valPtr(models.String("YYYY-MM-DD"))},
		},
	})
	require.True(t, created.Success)
	attrID := created.UpdatedEntity.Attributes[0].AttributeID

	resp := eng.Update(ctx, UpdateRequest{
		SessionID: "s1",
		EntityID:  "e1",
		AttributeUpdates: []AttributePatch{
			{AttributeID: attrID, AttributeValue: valPtr(models.String("ISO 8601")), Confidence: floatPtr(0.95)},
		},
	})
	require.True(t, resp.Success, resp.Message)
	require.Len(t, resp.UpdatedEntity.Attributes, 1)
	got := resp.UpdatedEntity.Attributes[0]
	assert.Equal(t, attrID, got.AttributeID)
	assert.True(t, got.AttributeValue.Equal(models.String("ISO 8601")))
	assert.Equal(t, "format", got.AttributeName, "name untouched by partial patch")
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
}

func TestUpdate_UnknownAttributeIDIsNonFatal(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")

	resp := eng.Update(ctx, UpdateRequest{
		SessionID: "s1",
		EntityID:  "e1",
		AttributeUpdates: []AttributePatch{
			{AttributeID: "attr_missing", AttributeValue: valPtr(models.String("x"))},
			{AttributeName: strPtr("real"), AttributeValue: valPtr(models.String("y"))},
		},
	})
	require.True(t, resp.Success, resp.Message)
	require.Len(t, resp.FailedAttributes, 1)
	assert.Equal(t, "attr_missing", resp.FailedAttributes[0].AttributeID)
	assert.Len(t, resp.UpdatedEntity.Attributes, 1)
}

func TestUpdate_IsIdempotentOnContent(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	req := UpdateRequest{
		SessionID: "s1",
		EntityID:  "e1",
		EntityUpdates: &EntityPatch{
			EntityName:  strPtr("customer_id"),
			EntityValue: strPtr("CUST-001"),
		},
	}
	first := eng.Update(ctx, req)
	second := eng.Update(ctx, req)
	require.True(t, second.Success)

	// Content converges while versions keep advancing.
	assert.Equal(t, first.UpdatedEntity.EntityName, second.UpdatedEntity.EntityName)
	assert.Equal(t, first.UpdatedEntity.EntityValue, second.UpdatedEntity.EntityValue)
	assert.Equal(t, first.StateVersion+1, second.StateVersion)
}

func TestUpdate_Validation(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  UpdateRequest
	}{
		{"missing session_id", UpdateRequest{EntityID: "e1"}},
		{"missing entity_id", UpdateRequest{SessionID: "s1"}},
		{"invalid entity type", UpdateRequest{
			SessionID:     "s1",
			EntityID:      "e1",
			EntityUpdates: &EntityPatch{EntityType: typePtr(models.EntityType("bogus"))},
		}},
		{"attribute create without name", UpdateRequest{
			SessionID:        "s1",
			EntityID:         "e1",
			AttributeUpdates: []AttributePatch{{AttributeValue: valPtr(models.String("v"))}},
		}},
		{"attribute create without value", UpdateRequest{
			SessionID:        "s1",
			EntityID:         "e1",
			AttributeUpdates: []AttributePatch{{AttributeName: strPtr("n")}},
		}},
		{"invalid attribute type", UpdateRequest{
			SessionID: "s1",
			EntityID:  "e1",
			AttributeUpdates: []AttributePatch{{
				AttributeName:  strPtr("n"),
				AttributeValue: valPtr(models.String("v")),
				AttributeType:  kindPtr(models.ValueKind("bogus")),
			}},
		}},
		{"entity confidence above range", UpdateRequest{
			SessionID:     "s1",
			EntityID:      "e1",
			EntityUpdates: &EntityPatch{Confidence: floatPtr(5.0)},
		}},
		{"entity confidence below range", UpdateRequest{
			SessionID:     "s1",
			EntityID:      "e1",
			EntityUpdates: &EntityPatch{Confidence: floatPtr(-0.1)},
		}},
		{"attribute confidence out of range", UpdateRequest{
			SessionID: "s1",
			EntityID:  "e1",
			AttributeUpdates: []AttributePatch{{
				AttributeName:  strPtr("n"),
				AttributeValue: valPtr(models.String("v")),
				Confidence:     floatPtr(-3.0),
			}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := eng.Update(ctx, tc.req)
			assert.False(t, resp.Success)
		})
	}

	// Validation failures must not create the session as a side effect.
	_, err := st.Load(ctx, "s1")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestUpdate_ConfidenceBoundsEnforced(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	createEntity(t, eng, "s1", "e1")

	resp := eng.Update(ctx, UpdateRequest{
		SessionID:     "s1",
		EntityID:      "e1",
		EntityUpdates: &EntityPatch{Confidence: floatPtr(5.0)},
		AttributeUpdates: []AttributePatch{{
			AttributeName:  strPtr("n"),
			AttributeValue: valPtr(models.String("v")),
			Confidence:     floatPtr(-3.0),
		}},
	})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Message, "confidence")

	// The rejected request must leave the stored entity untouched.
	read := eng.Read(ctx, ReadRequest{SessionID: "s1", IncludeAttributes: true})
	require.True(t, read.Success)
	assert.Equal(t, int64(2), read.StateVersion)
	assert.InDelta(t, models.DefaultAttributeConfidence, read.Entities[0].Confidence, 1e-9)
	assert.Empty(t, read.Entities[0].Attributes)

	// The boundary values themselves are valid.
	ok := eng.Update(ctx, UpdateRequest{
		SessionID:     "s1",
		EntityID:      "e1",
		EntityUpdates: &EntityPatch{Confidence: floatPtr(1.0)},
		AttributeUpdates: []AttributePatch{{
			AttributeName:  strPtr("n"),
			AttributeValue: valPtr(models.String("v")),
			Confidence:     floatPtr(0.0),
		}},
	})
	require.True(t, ok.Success, ok.Message)
	assert.Equal(t, 1.0, ok.UpdatedEntity.Confidence)
	assert.Equal(t, 0.0, ok.UpdatedEntity.Attributes[0].Confidence)
}

// --- Read ---

func TestRead_MissingSessionFails(t *testing.T) {
	eng, _ := newTestEngine(t)
	resp := eng.Read(context.Background(), ReadRequest{SessionID: "nope"})
	assert.False(t, resp.Success)
	assert.NotNil(t, resp.Entities)
	assert.Empty(t, resp.Entities)
}

func TestRead_FiltersAndVersions(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// e1 ends at version 2, e2 stays at version 1.
	createEntity(t, eng, "s1", "e1")
	eng.Update(ctx, UpdateRequest{
		SessionID: "s1", EntityID: "e1",
		EntityUpdates: &EntityPatch{EntityType: typePtr(models.EntityTypeColumn)},
	})
	createEntity(t, eng, "s1", "e2")

	t.Run("all entities", func(t *testing.T) {
		resp := eng.Read(ctx, ReadRequest{SessionID: "s1", IncludeAttributes: true})
		require.True(t, resp.Success)
		assert.Equal(t, 2, resp.TotalCount)
		assert.Equal(t, int64(4), resp.StateVersion)
	})

	t.Run("by entity id", func(t *testing.T) {
		resp := eng.Read(ctx, ReadRequest{SessionID: "s1", EntityID: "e2", IncludeAttributes: true})
		require.True(t, resp.Success)
		require.Len(t, resp.Entities, 1)
		assert.Equal(t, "e2", resp.Entities[0].EntityID)
	})

	t.Run("unknown entity id is empty not failed", func(t *testing.T) {
		resp := eng.Read(ctx, ReadRequest{SessionID: "s1", EntityID: "ghost"})
		require.True(t, resp.Success)
		assert.Empty(t, resp.Entities)
	})

	t.Run("by type", func(t *testing.T) {
		resp := eng.Read(ctx, ReadRequest{SessionID: "s1", EntityType: models.EntityTypeColumn})
		require.True(t, resp.Success)
		require.Len(t, resp.Entities, 1)
		assert.Equal(t, "e1", resp.Entities[0].EntityID)
	})

	t.Run("state version ceiling", func(t *testing.T) {
		resp := eng.Read(ctx, ReadRequest{SessionID: "s1", StateVersion: 1})
		require.True(t, resp.Success)
		require.Len(t, resp.Entities, 1)
		assert.Equal(t, "e2", resp.Entities[0].EntityID)
	})

	t.Run("zero ceiling returns everything", func(t *testing.T) {
		resp := eng.Read(ctx, ReadRequest{SessionID: "s1", StateVersion: 0})
		require.True(t, resp.Success)
		assert.Len(t, resp.Entities, 2)
	})
}

func TestRead_StripAttributesDoesNotMutateStore(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")
	eng.Update(ctx, UpdateRequest{
		SessionID: "s1", EntityID: "e1",
		AttributeUpdates: []AttributePatch{
			{AttributeName: strPtr("a"), AttributeValue: valPtr(models.String("v"))},
		},
	})

	stripped := eng.Read(ctx, ReadRequest{SessionID: "s1", IncludeAttributes: false})
	require.True(t, stripped.Success)
	assert.Empty(t, stripped.Entities[0].Attributes)

	// The stripped list serializes as [] rather than null.
	require.NotNil(t, stripped.Entities[0].Attributes)
	raw, err := json.Marshal(stripped.Entities[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"attributes":[]`)

	full := eng.Read(ctx, ReadRequest{SessionID: "s1", IncludeAttributes: true})
	require.True(t, full.Success)
	assert.Len(t, full.Entities[0].Attributes, 1)
}

// --- Delete ---

func TestDelete_RequiresSelector(t *testing.T) {
	eng, st := newTestEngine(t)
	resp := eng.Delete(context.Background(), DeleteRequest{SessionID: "s1"})
	assert.False(t, resp.Success)

	// The failed request must not have created the session.
	_, err := st.Load(context.Background(), "s1")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestDelete_MissingSessionFails(t *testing.T) {
	eng, _ := newTestEngine(t)
	resp := eng.Delete(context.Background(), DeleteRequest{SessionID: "nope", DeleteAll: true})
	assert.False(t, resp.Success)
}

func TestDelete_EntityCascadesAttributes(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")
	eng.Update(ctx, UpdateRequest{
		SessionID: "s1", EntityID: "e1",
		AttributeUpdates: []AttributePatch{
			{AttributeName: strPtr("a"), AttributeValue: valPtr(models.String("v"))},
		},
	})
	createEntity(t, eng, "s1", "e2")
	// Session is now at version 4.

	resp := eng.Delete(ctx, DeleteRequest{SessionID: "s1", EntityID: "e1"})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, []string{"e1"}, resp.DeletedEntities)
	assert.Equal(t, int64(5), resp.StateVersion)

	read := eng.Read(ctx, ReadRequest{SessionID: "s1", IncludeAttributes: true})
	require.Len(t, read.Entities, 1)
	assert.Equal(t, "e2", read.Entities[0].EntityID)
}

func TestDelete_AttributesAcrossEntities(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")
	r1 := eng.Update(ctx, UpdateRequest{
		SessionID: "s1", EntityID: "e1",
		AttributeUpdates: []AttributePatch{
			{AttributeName: strPtr("a1"), AttributeValue: valPtr(models.String("v"))},
		},
	})
	createEntity(t, eng, "s1", "e2")
	r2 := eng.Update(ctx, UpdateRequest{
		SessionID: "s1", EntityID: "e2",
		AttributeUpdates: []AttributePatch{
			{AttributeName: strPtr("b1"), AttributeValue: valPtr(models.String("v"))},
			{AttributeName: strPtr("b2"), AttributeValue: valPtr(models.String("v"))},
		},
	})
	id1 := r1.UpdatedEntity.Attributes[0].AttributeID
	id2 := r2.UpdatedEntity.Attributes[0].AttributeID

	resp := eng.Delete(ctx, DeleteRequest{
		SessionID:    "s1",
		AttributeIDs: []string{id1, id2, "attr_ghost"},
	})
	require.True(t, resp.Success, resp.Message)
	assert.ElementsMatch(t, []string{id1, id2}, resp.DeletedAttributes)
	assert.Empty(t, resp.DeletedEntities)

	read := eng.Read(ctx, ReadRequest{SessionID: "s1", IncludeAttributes: true})
	require.Len(t, read.Entities, 2)
	// Both entities lost an attribute, so both advanced one version:
	// e1 was at 2 after its attribute update, e2 likewise.
	assert.Equal(t, int64(3), read.Entities[0].StateVersion)
	assert.Equal(t, int64(3), read.Entities[1].StateVersion)
	assert.Empty(t, read.Entities[0].Attributes)
	require.Len(t, read.Entities[1].Attributes, 1)
	assert.Equal(t, "b2", read.Entities[1].Attributes[0].AttributeName)
}

func TestDelete_AllEmptiesSessionButKeepsIt(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")
	createEntity(t, eng, "s1", "e2")

	resp := eng.Delete(ctx, DeleteRequest{SessionID: "s1", DeleteAll: true})
	require.True(t, resp.Success, resp.Message)
	assert.ElementsMatch(t, []string{"e1", "e2"}, resp.DeletedEntities)
	assert.Equal(t, int64(4), resp.StateVersion)

	// The session survives its last entity.
	session, err := st.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, session.Entities)
	assert.Equal(t, int64(4), session.StateVersion)
}

func TestDelete_UnmatchedSelectorStillAdvancesSession(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	createEntity(t, eng, "s1", "e1")

	resp := eng.Delete(ctx, DeleteRequest{SessionID: "s1", EntityID: "ghost"})
	require.True(t, resp.Success, resp.Message)
	assert.Empty(t, resp.DeletedEntities)
	assert.Equal(t, int64(3), resp.StateVersion)
}

// --- concurrency ---

// conflictingStore wraps a SessionStore and forces the first n
// CompareAndSwapSave calls to fail with a version conflict.
type conflictingStore struct {
	store.SessionStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *conflictingStore) CompareAndSwapSave(ctx context.Context, sessionID string, expectedVersion int64, session *models.Session) error {
	c.mu.Lock()
	c.calls++
	conflict := c.conflicts > 0
	if conflict {
		c.conflicts--
	}
	c.mu.Unlock()
	if conflict {
		return fmt.Errorf("%w: injected", store.ErrVersionConflict)
	}
	return c.SessionStore.CompareAndSwapSave(ctx, sessionID, expectedVersion, session)
}

func TestUpdate_RetriesOnVersionConflict(t *testing.T) {
	cs := &conflictingStore{SessionStore: store.NewMemoryStore(), conflicts: 2}
	eng := New(cs, newFakeClock(), nil, 3)

	resp := eng.Update(context.Background(), UpdateRequest{
		SessionID:     "s1",
		EntityID:      "e1",
		EntityUpdates: &EntityPatch{EntityName: strPtr("n"), EntityValue: strPtr("v")},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, 3, cs.calls)
	assert.Equal(t, int64(2), resp.StateVersion)
}

func TestUpdate_GivesUpAfterMaxRetries(t *testing.T) {
	cs := &conflictingStore{SessionStore: store.NewMemoryStore(), conflicts: 100}
	eng := New(cs, newFakeClock(), nil, 2)

	resp := eng.Update(context.Background(), UpdateRequest{
		SessionID:     "s1",
		EntityID:      "e1",
		EntityUpdates: &EntityPatch{EntityName: strPtr("n"), EntityValue: strPtr("v")},
	})
	assert.False(t, resp.Success)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, cs.calls)
}

func TestUpdate_ConcurrentWritersAllLand(t *testing.T) {
	st := store.NewMemoryStore()
	eng := New(st, newFakeClock(), nil, 10)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	results := make([]UpdateResponse, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = eng.Update(ctx, UpdateRequest{
				SessionID:     "shared",
				EntityID:      fmt.Sprintf("e%d", i),
				EntityUpdates: &EntityPatch{EntityName: strPtr("n"), EntityValue: strPtr("v")},
			})
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.True(t, r.Success, "writer %d: %s", i, r.Message)
	}

	session, err := st.Load(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, session.Entities, writers)
	// Every successful mutation advanced the session exactly once.
	assert.Equal(t, int64(1+writers), session.StateVersion)
}
