package fanout

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/metrics"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/security"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/store"
)

type recordedRequest struct {
	path string
	body []byte
}

// peerRecorder plays the role of a remote subscription manager and records
// every request it receives.
type peerRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	srv      *httptest.Server
}

func newPeerRecorder(t *testing.T) *peerRecorder {
	p := &peerRecorder{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.requests = append(p.requests, recordedRequest{path: r.URL.Path, body: body})
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peerRecorder) recorded() []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedRequest(nil), p.requests...)
}

type mapAddressBook map[string]string

func (m mapAddressBook) Lookup(platformID string) (string, bool) {
	url, ok := m[platformID]
	return url, ok
}

type engineFixture struct {
	engine        *Engine
	federations   *store.MemoryFederationStore
	resources     *store.MemoryFederatedResourceStore
	subscriptions *store.MemorySubscriptionStore
	addresses     mapAddressBook
}

func newEngineFixture(t *testing.T, platformID string) *engineFixture {
	f := &engineFixture{
		federations:   store.NewMemoryFederationStore(),
		resources:     store.NewMemoryFederatedResourceStore(),
		subscriptions: store.NewMemorySubscriptionStore(),
		addresses:     make(mapAddressBook),
	}
	sec := security.Disabled{}
	f.engine = New(platformID, f.federations, f.resources, f.subscriptions,
		sec, NewSecuredClient(sec, nil), metrics.New(), zap.NewNop())
	f.engine.SetAddressBook(f.addresses)
	return f
}

func (f *engineFixture) addPeer(t *testing.T, platformID string) *peerRecorder {
	rec := newPeerRecorder(t)
	f.addresses[platformID] = rec.srv.URL
	return rec
}

func sharedResource(nonce, platformID string, fedIDs ...string) *model.FederatedResource {
	fr := &model.FederatedResource{
		AggregationID: nonce + "@" + platformID,
		Resource:      &model.Resource{Type: model.TypeSensor, ObservesProperty: []string{"temperature"}},
		Federations:   map[string]model.SharingInformation{},
		InternalID:    "internal-" + nonce,
		RestURL:       "https://" + platformID + ".example/rap",
	}
	for _, id := range fedIDs {
		fr.ShareToFederation(id, false)
	}
	return fr
}

func TestAddedNotifiesSubscribedPeersOnly(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")
	peerC := f.addPeer(t, "platformC")

	require.NoError(t, f.federations.Save(&model.Federation{
		ID: "fed1",
		Members: []model.FederationMember{
			{PlatformID: "platformA"},
			{PlatformID: "platformB"},
			{PlatformID: "platformC"},
		},
	}))
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformB")))
	rejecting := model.NewSubscription("platformC")
	rejecting.ResourceType[model.ResourceKindSensor] = false
	rejecting.ResourceType[model.ResourceKindDevice] = false
	require.NoError(t, f.subscriptions.Save(rejecting))

	msg := &model.ResourcesAddedOrUpdated{
		NewFederatedResources: []*model.FederatedResource{sharedResource("n1", "platformX", "fed1")},
	}
	require.NoError(t, f.engine.HandleResourcesAddedOrUpdated(context.Background(), msg))

	// The batch is persisted regardless of who is notified.
	stored, err := f.resources.Get("n1@platformX")
	require.NoError(t, err)
	assert.True(t, stored.SharedInto("fed1"))

	got := peerB.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, PathAddOrUpdate, got[0].path)

	var payload model.ResourcesAddedOrUpdated
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	require.Len(t, payload.NewFederatedResources, 1)
	sent := payload.NewFederatedResources[0]
	assert.Equal(t, "n1@platformX", sent.AggregationID)
	// Owner-private attributes never leave the node.
	assert.Empty(t, sent.InternalID)
	assert.Empty(t, sent.RestURL)

	assert.Empty(t, peerC.recorded(), "non-matching subscription must not be notified")
}

func TestAddedNeverNotifiesSelf(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	self := f.addPeer(t, "platformA")

	require.NoError(t, f.federations.Save(&model.Federation{
		ID:      "fed1",
		Members: []model.FederationMember{{PlatformID: "platformA"}},
	}))
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformA")))

	msg := &model.ResourcesAddedOrUpdated{
		NewFederatedResources: []*model.FederatedResource{sharedResource("n1", "platformX", "fed1")},
	}
	require.NoError(t, f.engine.HandleResourcesAddedOrUpdated(context.Background(), msg))
	assert.Empty(t, self.recorded())
}

func TestAddedConsolidatesFederationsPerPeer(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")

	for _, fedID := range []string{"fed1", "fed2"} {
		require.NoError(t, f.federations.Save(&model.Federation{
			ID: fedID,
			Members: []model.FederationMember{
				{PlatformID: "platformA"},
				{PlatformID: "platformB"},
			},
		}))
	}
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformB")))

	msg := &model.ResourcesAddedOrUpdated{
		NewFederatedResources: []*model.FederatedResource{sharedResource("n1", "platformX", "fed1", "fed2")},
	}
	require.NoError(t, f.engine.HandleResourcesAddedOrUpdated(context.Background(), msg))

	got := peerB.recorded()
	require.Len(t, got, 1, "one consolidated request per peer, not one per federation")

	var payload model.ResourcesAddedOrUpdated
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	require.Len(t, payload.NewFederatedResources, 1)
	feds := payload.NewFederatedResources[0].Federations
	assert.Contains(t, feds, "fed1")
	assert.Contains(t, feds, "fed2")
}

func TestDeletedUnsharesAndNotifies(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")

	require.NoError(t, f.federations.Save(&model.Federation{
		ID: "fed1",
		Members: []model.FederationMember{
			{PlatformID: "platformA"},
			{PlatformID: "platformB"},
		},
	}))
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformB")))
	require.NoError(t, f.resources.Save(sharedResource("n1", "platformX", "fed1", "fed2")))

	msg := &model.ResourcesDeleted{DeletedFederatedResources: []string{"n1@platformX@fed1"}}
	require.NoError(t, f.engine.HandleResourcesDeleted(context.Background(), msg))

	// Still shared into fed2, so the record survives without fed1.
	stored, err := f.resources.Get("n1@platformX")
	require.NoError(t, err)
	assert.False(t, stored.SharedInto("fed1"))
	assert.True(t, stored.SharedInto("fed2"))

	got := peerB.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, PathDelete, got[0].path)
	var payload model.ResourcesDeleted
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	assert.Equal(t, []string{"n1@platformX@fed1"}, payload.DeletedFederatedResources)
}

func TestDeletedRemovesRecordWhenLastFederationGoes(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	f.addPeer(t, "platformB")

	require.NoError(t, f.federations.Save(&model.Federation{
		ID: "fed1",
		Members: []model.FederationMember{
			{PlatformID: "platformA"},
			{PlatformID: "platformB"},
		},
	}))
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformB")))
	require.NoError(t, f.resources.Save(sharedResource("n1", "platformX", "fed1")))

	msg := &model.ResourcesDeleted{DeletedFederatedResources: []string{"n1@platformX@fed1"}}
	require.NoError(t, f.engine.HandleResourcesDeleted(context.Background(), msg))

	_, err := f.resources.Get("n1@platformX")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeletedIsIdempotentOnRedelivery(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")

	require.NoError(t, f.federations.Save(&model.Federation{
		ID: "fed1",
		Members: []model.FederationMember{
			{PlatformID: "platformA"},
			{PlatformID: "platformB"},
		},
	}))
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformB")))
	require.NoError(t, f.resources.Save(sharedResource("n1", "platformX", "fed1")))

	msg := &model.ResourcesDeleted{DeletedFederatedResources: []string{"n1@platformX@fed1"}}
	require.NoError(t, f.engine.HandleResourcesDeleted(context.Background(), msg))
	require.NoError(t, f.engine.HandleResourcesDeleted(context.Background(), msg))

	assert.Len(t, peerB.recorded(), 1, "a redelivered removal must not notify again")
}

func TestDeletedSkipsMalformedIDs(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")

	msg := &model.ResourcesDeleted{DeletedFederatedResources: []string{"not-an-id"}}
	require.NoError(t, f.engine.HandleResourcesDeleted(context.Background(), msg))
	assert.Empty(t, peerB.recorded())
}

func TestSendExistingResourcesFiltersOwnershipAndFederations(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")

	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformB")))
	// Own resource inside the common federation.
	require.NoError(t, f.resources.Save(sharedResource("n1", "platformA", "fed1", "fed9")))
	// Own resource outside it.
	require.NoError(t, f.resources.Save(sharedResource("n2", "platformA", "fed9")))
	// Foreign resource inside it; relaying it is not this node's job.
	require.NoError(t, f.resources.Save(sharedResource("n3", "platformX", "fed1")))

	f.engine.SendExistingResources(context.Background(), "platformB", []string{"fed1"})

	got := peerB.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, PathAddOrUpdate, got[0].path)

	var payload model.ResourcesAddedOrUpdated
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	require.Len(t, payload.NewFederatedResources, 1)
	sent := payload.NewFederatedResources[0]
	assert.Equal(t, "n1@platformA", sent.AggregationID)
	// Only the common federations appear in the outgoing sharing map.
	assert.Contains(t, sent.Federations, "fed1")
	assert.NotContains(t, sent.Federations, "fed9")
}

func TestSendExistingResourcesWithoutSubscriptionIsSilent(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")

	require.NoError(t, f.resources.Save(sharedResource("n1", "platformA", "fed1")))
	f.engine.SendExistingResources(context.Background(), "platformB", []string{"fed1"})
	assert.Empty(t, peerB.recorded())
}

func TestSendOwnSubscription(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")

	own := model.NewSubscription("platformA")
	own.Locations = []string{"Paris"}
	require.NoError(t, f.subscriptions.Save(own))

	f.engine.SendOwnSubscription(context.Background(), "platformB")

	got := peerB.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, PathSubscription, got[0].path)

	var sent model.Subscription
	require.NoError(t, json.Unmarshal(got[0].body, &sent))
	assert.Equal(t, "platformA", sent.PlatformID)
	assert.Equal(t, []string{"Paris"}, sent.Locations)
}

func TestBroadcastOwnSubscription(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")
	peerC := f.addPeer(t, "platformC")

	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformA")))
	f.engine.BroadcastOwnSubscription(context.Background(), []string{"platformB", "platformC"})

	assert.Len(t, peerB.recorded(), 1)
	assert.Len(t, peerC.recorded(), 1)
}

func TestDeliveryFailureIsIndependentPerPeer(t *testing.T) {
	f := newEngineFixture(t, "platformA")
	peerB := f.addPeer(t, "platformB")
	// platformC has no address book entry at all.

	require.NoError(t, f.federations.Save(&model.Federation{
		ID: "fed1",
		Members: []model.FederationMember{
			{PlatformID: "platformA"},
			{PlatformID: "platformB"},
			{PlatformID: "platformC"},
		},
	}))
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformB")))
	require.NoError(t, f.subscriptions.Save(model.NewSubscription("platformC")))

	msg := &model.ResourcesAddedOrUpdated{
		NewFederatedResources: []*model.FederatedResource{sharedResource("n1", "platformX", "fed1")},
	}
	require.NoError(t, f.engine.HandleResourcesAddedOrUpdated(context.Background(), msg))
	assert.Len(t, peerB.recorded(), 1, "the reachable peer is still served")
}
