// Package store defines the repository ports for federations, federated
// resources and subscriptions, plus in-memory implementations. The ports
// give per-record atomicity; nothing above them assumes ordering.
package store

import (
	"errors"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
)

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = errors.New("store: not found")

// FederationStore keeps the node's mirror of federation records.
type FederationStore interface {
	Get(id string) (*model.Federation, error)
	Save(f *model.Federation) error
	Delete(id string) error
	All() ([]*model.Federation, error)
}

// FederatedResourceStore keeps federated resources keyed by aggregation id.
type FederatedResourceStore interface {
	Get(aggregationID string) (*model.FederatedResource, error)
	Save(fr *model.FederatedResource) error
	Delete(aggregationID string) error
	All() ([]*model.FederatedResource, error)
}

// SubscriptionStore keeps per-platform subscriptions.
type SubscriptionStore interface {
	Get(platformID string) (*model.Subscription, error)
	Save(s *model.Subscription) error
	Delete(platformID string) error
	All() ([]*model.Subscription, error)
}
