package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
)

func TestFederationStoreCRUD(t *testing.T) {
	s := NewMemoryFederationStore()

	_, err := s.Get("fed1")
	assert.ErrorIs(t, err, ErrNotFound)

	fed := &model.Federation{ID: "fed1", Members: []model.FederationMember{{PlatformID: "platformA"}}}
	require.NoError(t, s.Save(fed))

	got, err := s.Get("fed1")
	require.NoError(t, err)
	assert.Equal(t, fed, got)

	all, err := s.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Delete("fed1"))
	_, err = s.Get("fed1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFederationStoreDoesNotAliasCallerState(t *testing.T) {
	s := NewMemoryFederationStore()
	fed := &model.Federation{ID: "fed1", Members: []model.FederationMember{{PlatformID: "platformA"}}}
	require.NoError(t, s.Save(fed))

	// Mutations after Save must not leak into the store.
	fed.Members[0].PlatformID = "mutated"
	got, err := s.Get("fed1")
	require.NoError(t, err)
	assert.Equal(t, "platformA", got.Members[0].PlatformID)

	// Mutations of a Get result must not leak either.
	got.Members[0].PlatformID = "mutated"
	again, err := s.Get("fed1")
	require.NoError(t, err)
	assert.Equal(t, "platformA", again.Members[0].PlatformID)
}

func TestFederatedResourceStoreCRUD(t *testing.T) {
	s := NewMemoryFederatedResourceStore()

	fr := &model.FederatedResource{
		AggregationID: "nonce@platformA",
		Resource:      &model.Resource{Type: model.TypeSensor},
		Federations:   map[string]model.SharingInformation{"fed1": {}},
	}
	require.NoError(t, s.Save(fr))

	got, err := s.Get("nonce@platformA")
	require.NoError(t, err)
	assert.Equal(t, fr, got)

	got.UnshareFromFederation("fed1")
	again, err := s.Get("nonce@platformA")
	require.NoError(t, err)
	assert.True(t, again.SharedInto("fed1"))

	require.NoError(t, s.Delete("nonce@platformA"))
	_, err = s.Get("nonce@platformA")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriptionStoreCRUD(t *testing.T) {
	s := NewMemorySubscriptionStore()

	require.NoError(t, s.Save(model.NewSubscription("platformA")))
	require.NoError(t, s.Save(model.NewSubscription("platformB")))

	got, err := s.Get("platformA")
	require.NoError(t, err)
	assert.Equal(t, "platformA", got.PlatformID)

	all, err := s.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete("platformA"))
	_, err = s.Get("platformA")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err = s.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
