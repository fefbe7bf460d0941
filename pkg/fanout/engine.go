// Package fanout implements the resource fan-out engine: it reacts to
// resource add/update/remove events, computes the minimal filtered payload
// for every interested peer and performs authenticated delivery.
package fanout

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/metrics"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/security"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/store"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/subscription"
)

// ComponentID names this component in peer response verification.
const ComponentID = "subscriptionManager"

// Peer-facing endpoint paths.
const (
	PathAddOrUpdate  = "/subscriptionManager/addOrUpdate"
	PathDelete       = "/subscriptionManager/delete"
	PathSubscription = "/subscriptionManager/subscription"
)

// maxConcurrentSends bounds parallel outbound deliveries within a batch.
const maxConcurrentSends = 8

// AddressBook resolves a federated peer to its base service URL. The
// membership tracker owns the live mapping.
type AddressBook interface {
	Lookup(platformID string) (string, bool)
}

// Engine is the resource fan-out engine.
type Engine struct {
	platformID    string
	federations   store.FederationStore
	resources     store.FederatedResourceStore
	subscriptions store.SubscriptionStore
	sec           security.Manager
	client        *SecuredClient
	addresses     AddressBook
	metrics       *metrics.Metrics
	logger        *zap.Logger
	sem           *semaphore.Weighted
}

// New creates a fan-out engine. The address book is wired separately
// because the membership tracker that owns it is constructed afterwards.
func New(
	platformID string,
	federations store.FederationStore,
	resources store.FederatedResourceStore,
	subscriptions store.SubscriptionStore,
	sec security.Manager,
	client *SecuredClient,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		platformID:    platformID,
		federations:   federations,
		resources:     resources,
		subscriptions: subscriptions,
		sec:           sec,
		client:        client,
		metrics:       m,
		logger:        logger.Named("fanout"),
		sem:           semaphore.NewWeighted(maxConcurrentSends),
	}
}

// SetAddressBook wires the peer address resolver.
func (e *Engine) SetAddressBook(ab AddressBook) { e.addresses = ab }

// HandleResourcesAddedOrUpdated persists the incoming batch and notifies
// every subscribed federated peer with one consolidated, privacy-stripped
// payload each. Delivery failures to individual peers are independent and
// non-fatal; a security-request generation failure aborts the broadcast.
func (e *Engine) HandleResourcesAddedOrUpdated(ctx context.Context, msg *model.ResourcesAddedOrUpdated) error {
	// peer id -> aggregation id -> filtered resource copy
	perPeer := make(map[string]map[string]*model.FederatedResource)

	for _, fr := range msg.NewFederatedResources {
		if err := e.resources.Save(fr); err != nil {
			return err
		}
		e.logger.Info("federated resource stored",
			zap.String("aggregation_id", fr.AggregationID),
			zap.Int("federations", len(fr.Federations)))

		for fedID, info := range fr.Federations {
			fed, err := e.federations.Get(fedID)
			if err != nil {
				e.logger.Info("referenced federation not known, skipping",
					zap.String("federation_id", fedID))
				continue
			}
			for _, member := range fed.Members {
				if member.PlatformID == e.platformID {
					continue
				}
				sub, err := e.subscriptions.Get(member.PlatformID)
				if err != nil || !subscription.IsSubscribed(sub, fr) {
					continue
				}
				entries := perPeer[member.PlatformID]
				if entries == nil {
					entries = make(map[string]*model.FederatedResource)
					perPeer[member.PlatformID] = entries
				}
				entry := entries[fr.AggregationID]
				if entry == nil {
					entry = fr.Clone()
					entry.ClearPrivateInfo()
					entry.Federations = make(map[string]model.SharingInformation)
					entries[fr.AggregationID] = entry
				}
				entry.ShareToFederation(fedID, info.Bartering)
			}
		}
	}

	if len(perPeer) == 0 {
		return nil
	}

	headers, err := e.sec.GenerateSecurityRequest()
	if err != nil {
		e.logger.Warn("aborting broadcast, security request generation failed", zap.Error(err))
		return err
	}

	var wg sync.WaitGroup
	for peerID, entries := range perPeer {
		payload := &model.ResourcesAddedOrUpdated{
			NewFederatedResources: collectResources(entries),
		}
		wg.Add(1)
		go func(peerID string, payload *model.ResourcesAddedOrUpdated) {
			defer wg.Done()
			e.deliver(ctx, headers, peerID, PathAddOrUpdate, payload)
		}(peerID, payload)
	}
	wg.Wait()
	return nil
}

// HandleResourcesDeleted unshares the named federation-scoped resources,
// deletes records whose sharing map empties, and sends one consolidated
// removal notice to every peer whose subscription matched the pre-removal
// resource. Unknown resources are skipped so redelivered events are no-ops.
func (e *Engine) HandleResourcesDeleted(ctx context.Context, msg *model.ResourcesDeleted) error {
	// peer id -> set of symbioteIds
	perPeer := make(map[string]map[string]struct{})

	for _, raw := range msg.DeletedFederatedResources {
		id, err := model.ParseResourceID(raw)
		if err != nil {
			e.logger.Warn("skipping malformed removal id", zap.String("id", raw), zap.Error(err))
			continue
		}
		fr, err := e.resources.Get(id.AggregationID())
		if err != nil {
			e.logger.Info("resource already gone, skipping removal",
				zap.String("aggregation_id", id.AggregationID()))
			continue
		}

		// Peers are matched against the resource as it was before the
		// federation is removed from it.
		preRemoval := fr.Clone()

		fr.UnshareFromFederation(id.FederationID)
		if len(fr.Federations) == 0 {
			if err := e.resources.Delete(fr.AggregationID); err != nil {
				return err
			}
		} else if err := e.resources.Save(fr); err != nil {
			return err
		}

		fed, err := e.federations.Get(id.FederationID)
		if err != nil {
			e.logger.Info("referenced federation not known, no peers to notify",
				zap.String("federation_id", id.FederationID))
			continue
		}
		for _, member := range fed.Members {
			if member.PlatformID == e.platformID {
				continue
			}
			sub, err := e.subscriptions.Get(member.PlatformID)
			if err != nil || !subscription.IsSubscribed(sub, preRemoval) {
				continue
			}
			if perPeer[member.PlatformID] == nil {
				perPeer[member.PlatformID] = make(map[string]struct{})
			}
			perPeer[member.PlatformID][id.String()] = struct{}{}
		}
	}

	if len(perPeer) == 0 {
		return nil
	}

	headers, err := e.sec.GenerateSecurityRequest()
	if err != nil {
		e.logger.Warn("aborting broadcast, security request generation failed", zap.Error(err))
		return err
	}

	var wg sync.WaitGroup
	for peerID, ids := range perPeer {
		payload := &model.ResourcesDeleted{DeletedFederatedResources: collectIDs(ids)}
		wg.Add(1)
		go func(peerID string, payload *model.ResourcesDeleted) {
			defer wg.Done()
			e.deliver(ctx, headers, peerID, PathDelete, payload)
		}(peerID, payload)
	}
	wg.Wait()
	return nil
}

// SendExistingResources delivers this node's own already-shared resources
// that fall inside the given federations and fit the peer's current
// subscription. Used when a peer joins a federation the relationship
// already covers, and after a peer pushes a new subscription.
func (e *Engine) SendExistingResources(ctx context.Context, peerID string, federationIDs []string) {
	sub, err := e.subscriptions.Get(peerID)
	if err != nil {
		e.logger.Debug("peer subscription not present yet, resources will follow it",
			zap.String("platform_id", peerID))
		return
	}

	all, err := e.resources.All()
	if err != nil {
		e.logger.Warn("listing resources failed", zap.Error(err))
		return
	}

	var forSending []*model.FederatedResource
	for _, fr := range all {
		if fr.PlatformID() != e.platformID {
			continue
		}
		var common []string
		for _, fedID := range federationIDs {
			if fr.SharedInto(fedID) {
				common = append(common, fedID)
			}
		}
		if len(common) == 0 || !subscription.IsSubscribed(sub, fr) {
			continue
		}
		clone := fr.Clone()
		clone.ClearPrivateInfo()
		filtered := make(map[string]model.SharingInformation, len(common))
		for _, fedID := range common {
			filtered[fedID] = fr.Federations[fedID]
		}
		clone.Federations = filtered
		forSending = append(forSending, clone)
	}
	if len(forSending) == 0 {
		return
	}
	sort.Slice(forSending, func(i, j int) bool {
		return forSending[i].AggregationID < forSending[j].AggregationID
	})

	headers, err := e.sec.GenerateSecurityRequest()
	if err != nil {
		e.logger.Warn("not sending existing resources, security request generation failed", zap.Error(err))
		return
	}
	e.deliver(ctx, headers, peerID, PathAddOrUpdate,
		&model.ResourcesAddedOrUpdated{NewFederatedResources: forSending})
}

// SendOwnSubscription pushes this node's own subscription to the peer so
// the peer's mirror updates without waiting for a poll.
func (e *Engine) SendOwnSubscription(ctx context.Context, peerID string) {
	sub, err := e.subscriptions.Get(e.platformID)
	if err != nil {
		e.logger.Warn("own subscription missing, nothing to push",
			zap.String("platform_id", e.platformID))
		return
	}
	headers, err := e.sec.GenerateSecurityRequest()
	if err != nil {
		e.logger.Warn("not sending own subscription, security request generation failed", zap.Error(err))
		return
	}
	e.deliver(ctx, headers, peerID, PathSubscription, sub)
}

// BroadcastOwnSubscription pushes the node's subscription to every peer in
// the address book. Used after the platform owner updates it.
func (e *Engine) BroadcastOwnSubscription(ctx context.Context, peerIDs []string) {
	var wg sync.WaitGroup
	for _, peerID := range peerIDs {
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			e.SendOwnSubscription(ctx, peerID)
		}(peerID)
	}
	wg.Wait()
}

// deliver performs one bounded, authenticated send to a peer. Failures are
// logged and counted, never propagated: delivery to one peer is independent
// of every other.
func (e *Engine) deliver(ctx context.Context, headers http.Header, peerID, path string, payload interface{}) {
	baseURL, ok := e.addresses.Lookup(peerID)
	if !ok {
		e.logger.Warn("no address for peer, dropping notification",
			zap.String("platform_id", peerID), zap.String("path", path))
		if e.metrics != nil {
			e.metrics.DeliveryFailures.Inc()
		}
		return
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.logger.Warn("delivery cancelled", zap.String("platform_id", peerID), zap.Error(err))
		return
	}
	defer e.sem.Release(1)

	sendCtx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	if e.metrics != nil {
		e.metrics.Deliveries.Inc()
	}
	if err := e.client.Post(sendCtx, headers, baseURL, path, peerID, payload); err != nil {
		e.logger.Warn("delivery to peer failed",
			zap.String("platform_id", peerID),
			zap.String("path", path),
			zap.Error(err))
		if e.metrics != nil {
			e.metrics.DeliveryFailures.Inc()
		}
		return
	}
	e.logger.Debug("delivery to peer succeeded",
		zap.String("platform_id", peerID),
		zap.String("path", path))
}

func collectResources(entries map[string]*model.FederatedResource) []*model.FederatedResource {
	out := make([]*model.FederatedResource, 0, len(entries))
	for _, fr := range entries {
		out = append(out, fr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AggregationID < out[j].AggregationID })
	return out
}

func collectIDs(ids map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
