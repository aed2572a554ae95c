package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitymesh/entitymesh/internal/engine"
	"github.com/entitymesh/entitymesh/internal/extract"
	"github.com/entitymesh/entitymesh/internal/intent"
	"github.com/entitymesh/entitymesh/internal/models"
	"github.com/entitymesh/entitymesh/internal/store"
)

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

// fakeExtractor returns canned drafts or a canned error.
type fakeExtractor struct {
	drafts []extract.Draft
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, _ []extract.DataField, _ []extract.DataColumn, _ string) ([]extract.Draft, error) {
	f.calls++
	return f.drafts, f.err
}

func newTestRouter(t *testing.T, ext extract.Extractor) (*Router, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	clk := newFakeClock()
	eng := engine.New(st, clk, nil, 0)
	return New(eng, ext, intent.NewClassifier(nil), clk, nil), st
}

func strPtr(s string) *string { return &s }

func valPtr(v models.Value) *models.Value { return &v }

func TestRoute_RequiresSessionID(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	resp := rt.Route(context.Background(), Request{Message: "show everything"})
	assert.False(t, resp.Success)
}

func TestRoute_ExtractFoldsDrafts(t *testing.T) {
	ext := &fakeExtractor{drafts: []extract.Draft{
		{
			EntityType:  models.EntityTypeField,
			EntityName:  "customer_id",
			EntityValue: "unique customer identifier",
			Confidence:  0.9,
			SourceField: "customer_id",
			Attributes: []extract.AttributeDraft{
				{AttributeName: "format", AttributeValue: models.String("CUST-####"), Confidence: 0.85},
			},
		},
		{
			EntityType:  models.EntityTypeBusinessMetric,
			EntityName:  "monthly_revenue",
			EntityValue: "sum of invoice totals per month",
			Confidence:  0.8,
		},
	}}
	rt, st := newTestRouter(t, ext)

	resp := rt.Route(context.Background(), Request{
		SessionID: "s1",
		Message:   "extract entities from these fields",
		Fields:    []extract.DataField{{FieldName: "customer_id"}},
	})

	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, intent.IntentExtract, resp.Intent)
	assert.Equal(t, 2, resp.EntitiesCreated)
	assert.Len(t, resp.EntityIDs, 2)
	assert.Equal(t, 1, ext.calls)

	session, err := st.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, session.Entities, 2)
	// One session increment per drafted entity, on top of creation.
	assert.Equal(t, int64(3), session.StateVersion)
	assert.Equal(t, "customer_id", session.Entities[0].EntityName)
	require.Len(t, session.Entities[0].Attributes, 1)
	assert.True(t, session.Entities[0].Attributes[0].AttributeValue.Equal(models.String("CUST-####")))
}

func TestRoute_ExtractorFailureIsSuccessWithZeroEntities(t *testing.T) {
	ext := &fakeExtractor{err: errors.New("model unavailable")}
	rt, st := newTestRouter(t, ext)

	resp := rt.Route(context.Background(), Request{
		SessionID: "s1",
		Message:   "extract the entities",
	})

	require.True(t, resp.Success)
	assert.Equal(t, intent.IntentExtract, resp.Intent)
	assert.Zero(t, resp.EntitiesCreated)

	// Nothing was created as a side effect.
	_, err := st.Load(context.Background(), "s1")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestRoute_ExtractZeroDrafts(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	resp := rt.Route(context.Background(), Request{
		SessionID: "s1",
		Message:   "analyze the attached data",
	})
	require.True(t, resp.Success)
	assert.Zero(t, resp.EntitiesCreated)
}

func TestRoute_ReadDispatch(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	ctx := context.Background()

	// Seed via an update route first.
	seed := rt.Route(ctx, Request{
		SessionID: "s1",
		Message:   "create an entity for the revenue metric",
		EntityID:  "e1",
		EntityUpdates: &engine.EntityPatch{
			EntityName:  strPtr("revenue"),
			EntityValue: strPtr("monthly revenue"),
		},
	})
	require.True(t, seed.Success, seed.Message)

	resp := rt.Route(ctx, Request{
		SessionID:         "s1",
		Message:           "show me everything you have",
		IncludeAttributes: true,
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, intent.IntentRead, resp.Intent)
	require.NotNil(t, resp.Read)
	assert.Equal(t, 1, resp.Read.TotalCount)
	assert.Equal(t, []string{"e1"}, resp.EntityIDs)
	assert.Equal(t, int64(2), resp.StateVersion)
}

func TestRoute_ReadMissingSessionFails(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	resp := rt.Route(context.Background(), Request{
		SessionID: "ghost",
		Message:   "list the entities",
	})
	assert.False(t, resp.Success)
	assert.Equal(t, intent.IntentRead, resp.Intent)
}

func TestRoute_UpdateWithoutEntityIDGeneratesOne(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})

	resp := rt.Route(context.Background(), Request{
		SessionID: "s1",
		Message:   "add a new entity",
		EntityUpdates: &engine.EntityPatch{
			EntityName:  strPtr("order_total"),
			EntityValue: strPtr("sum of line items"),
		},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, intent.IntentUpdateEntity, resp.Intent)
	require.Len(t, resp.EntityIDs, 1)
	assert.Contains(t, resp.EntityIDs[0], "entity_")
}

func TestRoute_AttributePatchPromotesToAttributeScope(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	ctx := context.Background()

	seed := rt.Route(ctx, Request{
		SessionID: "s1",
		Message:   "create the order entity",
		EntityID:  "e1",
		EntityUpdates: &engine.EntityPatch{
			EntityName:  strPtr("order"),
			EntityValue: strPtr("an order"),
		},
		AttributeUpdates: []engine.AttributePatch{
			{AttributeName: strPtr("status"), AttributeValue: valPtr(models.String("open"))},
		},
	})
	require.True(t, seed.Success, seed.Message)
	require.Len(t, seed.AttributeIDs, 1)
	attrID := seed.AttributeIDs[0]

	resp := rt.Route(ctx, Request{
		SessionID: "s1",
		Message:   "set the status to closed",
		EntityID:  "e1",
		AttributeUpdates: []engine.AttributePatch{
			{AttributeID: attrID, AttributeValue: valPtr(models.String("closed"))},
		},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, intent.IntentUpdateAttribute, resp.Intent)
	require.NotNil(t, resp.Update)
	assert.True(t, resp.Update.UpdatedEntity.Attributes[0].AttributeValue.Equal(models.String("closed")))
}

func TestRoute_DeleteEntityScope(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	ctx := context.Background()

	rt.Route(ctx, Request{
		SessionID:     "s1",
		Message:       "create it",
		EntityID:      "e1",
		EntityUpdates: &engine.EntityPatch{EntityName: strPtr("n"), EntityValue: strPtr("v")},
	})

	resp := rt.Route(ctx, Request{
		SessionID: "s1",
		Message:   "delete that entity",
		EntityID:  "e1",
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, intent.IntentDeleteEntity, resp.Intent)
	assert.Equal(t, []string{"e1"}, resp.EntityIDs)
}

func TestRoute_DeleteAttributeScope(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	ctx := context.Background()

	seed := rt.Route(ctx, Request{
		SessionID:     "s1",
		Message:       "create it",
		EntityID:      "e1",
		EntityUpdates: &engine.EntityPatch{EntityName: strPtr("n"), EntityValue: strPtr("v")},
		AttributeUpdates: []engine.AttributePatch{
			{AttributeName: strPtr("a"), AttributeValue: valPtr(models.String("v"))},
		},
	})
	require.Len(t, seed.AttributeIDs, 1)
	attrID := seed.AttributeIDs[0]

	resp := rt.Route(ctx, Request{
		SessionID:    "s1",
		Message:      "remove those attributes",
		AttributeIDs: []string{attrID},
	})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, intent.IntentDeleteAttribute, resp.Intent)
	assert.Equal(t, []string{attrID}, resp.AttributeIDs)
	assert.Empty(t, resp.EntityIDs)

	// The entity itself survives the attribute delete.
	read := rt.Route(ctx, Request{SessionID: "s1", Message: "list entities"})
	require.True(t, read.Success)
	assert.Equal(t, []string{"e1"}, read.EntityIDs)
}

func TestRoute_DeleteWithoutSelectorFails(t *testing.T) {
	rt, _ := newTestRouter(t, &fakeExtractor{})
	ctx := context.Background()

	rt.Route(ctx, Request{
		SessionID:     "s1",
		Message:       "create it",
		EntityID:      "e1",
		EntityUpdates: &engine.EntityPatch{EntityName: strPtr("n"), EntityValue: strPtr("v")},
	})

	resp := rt.Route(ctx, Request{
		SessionID: "s1",
		Message:   "delete stuff",
	})
	assert.False(t, resp.Success)
	assert.Equal(t, intent.IntentDeleteEntity, resp.Intent)
}
