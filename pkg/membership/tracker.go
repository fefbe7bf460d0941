// Package membership tracks which peers this platform is federated with.
// It owns the transient common-federation reference counts and the peer
// address book, reacts to federation lifecycle events, and decides when
// peer subscriptions are created and torn down.
package membership

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/metrics"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/store"
)

// Notifier is the slice of the fan-out engine the tracker drives.
type Notifier interface {
	SendOwnSubscription(ctx context.Context, peerID string)
	SendExistingResources(ctx context.Context, peerID string, federationIDs []string)
}

// RegistryNotifier reports federation-scoped resource removals to this
// node's registry of record.
type RegistryNotifier interface {
	NotifyResourcesDeleted(ctx context.Context, resourceIDs []string) error
}

// Tracker is the membership state machine. Counts and addresses are
// process-lifetime state rebuilt from the federation event stream; a
// subscription row exists for a peer exactly while its count is positive.
type Tracker struct {
	platformID    string
	federations   store.FederationStore
	resources     store.FederatedResourceStore
	subscriptions store.SubscriptionStore
	notifier      Notifier
	registry      RegistryNotifier
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu        sync.Mutex
	counts    map[string]int
	addresses map[string]string

	lockMu   sync.Mutex
	fedLocks map[string]*sync.Mutex
}

// New creates a tracker. The notifier is wired afterwards because the
// fan-out engine resolves peer addresses through the tracker itself.
func New(
	platformID string,
	federations store.FederationStore,
	resources store.FederatedResourceStore,
	subscriptions store.SubscriptionStore,
	registry RegistryNotifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		platformID:    platformID,
		federations:   federations,
		resources:     resources,
		subscriptions: subscriptions,
		registry:      registry,
		metrics:       m,
		logger:        logger.Named("membership"),
		counts:        make(map[string]int),
		addresses:     make(map[string]string),
		fedLocks:      make(map[string]*sync.Mutex),
	}
}

// SetNotifier wires the fan-out engine.
func (t *Tracker) SetNotifier(n Notifier) { t.notifier = n }

// lockFederation serializes processing per federation id. Events about
// different federations run in parallel; two events about the same one
// must not interleave or the reference counts drift.
func (t *Tracker) lockFederation(id string) func() {
	t.lockMu.Lock()
	l, ok := t.fedLocks[id]
	if !ok {
		l = &sync.Mutex{}
		t.fedLocks[id] = l
	}
	t.lockMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Lookup resolves a federated peer's base service URL. Implements the
// fan-out engine's address book.
func (t *Tracker) Lookup(platformID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	url, ok := t.addresses[platformID]
	return url, ok
}

// Peers returns a snapshot of all currently federated peer ids.
func (t *Tracker) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.addresses))
	for id := range t.addresses {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CommonFederationCount returns the number of federations shared with the
// peer; zero means unrelated.
func (t *Tracker) CommonFederationCount(platformID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[platformID]
}

// CommonFederations lists the ids of federations listing both this
// platform and the peer as members.
func (t *Tracker) CommonFederations(peerID string) ([]string, error) {
	all, err := t.federations.All()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, fed := range all {
		if fed.HasMember(t.platformID) && fed.HasMember(peerID) {
			out = append(out, fed.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// FederationCreated stores the new federation and, when this platform is a
// member, establishes or bumps the relationship with every other member. A
// redelivered event for a federation already on record is diffed against
// the stored member list like an update, or the reference counts would
// double-increment.
func (t *Tracker) FederationCreated(ctx context.Context, fed *model.Federation) error {
	unlock := t.lockFederation(fed.ID)
	defer unlock()

	if old, err := t.federations.Get(fed.ID); err == nil {
		t.logger.Info("created federation already on record, diffing members",
			zap.String("federation_id", fed.ID))
		return t.applyMemberDiff(ctx, fed, old.MemberIDs())
	}

	if err := t.federations.Save(fed); err != nil {
		return err
	}
	t.logger.Info("federation stored", zap.String("federation_id", fed.ID),
		zap.Strings("members", fed.MemberIDs()))

	t.processCreated(ctx, fed)
	t.refreshGauges()
	return nil
}

func (t *Tracker) processCreated(ctx context.Context, fed *model.Federation) {
	if !fed.HasMember(t.platformID) {
		return
	}
	for _, member := range fed.Members {
		if member.PlatformID == t.platformID {
			continue
		}
		t.recordAddress(member)
		t.memberAdded(ctx, member.PlatformID, true)
	}
}

// FederationChanged diffs the stored member list against the update and
// applies the resulting relationship transitions.
func (t *Tracker) FederationChanged(ctx context.Context, fed *model.Federation) error {
	unlock := t.lockFederation(fed.ID)
	defer unlock()

	var oldMembers []string
	if old, err := t.federations.Get(fed.ID); err == nil {
		oldMembers = old.MemberIDs()
	}
	return t.applyMemberDiff(ctx, fed, oldMembers)
}

// applyMemberDiff persists the updated federation and applies the member
// transitions relative to oldMembers. Caller holds the federation lock.
func (t *Tracker) applyMemberDiff(ctx context.Context, fed *model.Federation, oldMembers []string) error {
	if err := t.federations.Save(fed); err != nil {
		return err
	}
	t.logger.Info("federation updated", zap.String("federation_id", fed.ID),
		zap.Strings("members", fed.MemberIDs()))

	newMembers := fed.MemberIDs()
	selfInOld := contains(oldMembers, t.platformID)
	selfInNew := contains(newMembers, t.platformID)

	switch {
	case !selfInOld && selfInNew:
		// Joining an existing federation looks like a fresh creation from
		// this node's point of view.
		t.processCreated(ctx, fed)

	case selfInOld && !selfInNew:
		for _, id := range oldMembers {
			if id != t.platformID {
				t.memberRemoved(id)
			}
		}
		t.unshareAllFromFederation(ctx, fed.ID)

	case selfInOld && selfInNew:
		for _, member := range fed.Members {
			if member.PlatformID == t.platformID || contains(oldMembers, member.PlatformID) {
				continue
			}
			t.recordAddress(member)
			t.memberAdded(ctx, member.PlatformID, false)
		}
		for _, id := range oldMembers {
			if id == t.platformID || contains(newMembers, id) {
				continue
			}
			t.memberRemoved(id)
			t.unshareMemberResources(ctx, id, fed.ID)
		}
	}

	t.refreshGauges()
	return nil
}

// FederationDeleted removes the federation record and tears down every
// relationship it carried. Unknown ids are consumed silently so redelivered
// events stay idempotent.
func (t *Tracker) FederationDeleted(ctx context.Context, federationID string) error {
	unlock := t.lockFederation(federationID)
	defer unlock()

	fed, err := t.federations.Get(federationID)
	if err != nil {
		t.logger.Info("deleted federation was not known", zap.String("federation_id", federationID))
		return nil
	}
	if err := t.federations.Delete(federationID); err != nil {
		return err
	}
	t.logger.Info("federation removed", zap.String("federation_id", federationID))

	if fed.HasMember(t.platformID) {
		for _, id := range fed.MemberIDs() {
			if id != t.platformID {
				t.memberRemoved(id)
			}
		}
		t.unshareAllFromFederation(ctx, federationID)
	}

	t.refreshGauges()
	return nil
}

func (t *Tracker) recordAddress(member model.FederationMember) {
	t.mu.Lock()
	t.addresses[member.PlatformID] = member.InterworkingServiceURL
	t.mu.Unlock()
}

// memberAdded runs the Unrelated->Federated transition or the increment.
// For a newly known peer an accept-all subscription row is created so the
// rest of the node can rely on the row existing, and this node's own
// subscription is pushed to the peer. When a federation is added to an
// already-existing relationship the peer additionally receives the
// matching resources this node already shares into the common federations.
func (t *Tracker) memberAdded(ctx context.Context, peerID string, initial bool) {
	t.mu.Lock()
	known := t.counts[peerID] > 0
	t.counts[peerID]++
	t.mu.Unlock()

	if !known {
		if err := t.subscriptions.Save(model.NewSubscription(peerID)); err != nil {
			// Roll the increment back: count > 0 promises a subscription
			// row exists.
			t.mu.Lock()
			t.counts[peerID]--
			if t.counts[peerID] <= 0 {
				delete(t.counts, peerID)
				delete(t.addresses, peerID)
			}
			t.mu.Unlock()
			t.logger.Warn("creating initial subscription failed",
				zap.String("platform_id", peerID), zap.Error(err))
			return
		}
		t.logger.Info("peer federated, initial subscription created",
			zap.String("platform_id", peerID))
		if t.notifier != nil {
			t.notifier.SendOwnSubscription(ctx, peerID)
		}
		return
	}

	if !initial && t.notifier != nil {
		common, err := t.CommonFederations(peerID)
		if err != nil {
			t.logger.Warn("resolving common federations failed",
				zap.String("platform_id", peerID), zap.Error(err))
			return
		}
		t.notifier.SendExistingResources(ctx, peerID, common)
		t.notifier.SendOwnSubscription(ctx, peerID)
	}
}

// memberRemoved decrements the reference count; at zero the relationship
// is gone: subscription row deleted, address dropped.
func (t *Tracker) memberRemoved(peerID string) {
	t.mu.Lock()
	if t.counts[peerID] > 1 {
		t.counts[peerID]--
		t.mu.Unlock()
		return
	}
	delete(t.counts, peerID)
	delete(t.addresses, peerID)
	t.mu.Unlock()

	if err := t.subscriptions.Delete(peerID); err != nil {
		t.logger.Warn("deleting subscription failed",
			zap.String("platform_id", peerID), zap.Error(err))
		return
	}
	t.logger.Info("peer no longer federated, subscription removed",
		zap.String("platform_id", peerID))
}

// unshareAllFromFederation unshares every known resource from the
// federation, deleting records left with an empty sharing map, and reports
// the federation-scoped removals to the registry.
func (t *Tracker) unshareAllFromFederation(ctx context.Context, federationID string) {
	all, err := t.resources.All()
	if err != nil {
		t.logger.Warn("listing resources failed", zap.Error(err))
		return
	}
	var removed []string
	for _, fr := range all {
		if !fr.SharedInto(federationID) {
			continue
		}
		fr.UnshareFromFederation(federationID)
		removed = append(removed, fr.ResourceIDIn(federationID).String())
		t.persistOrDelete(fr)
	}
	t.notifyRegistry(ctx, removed)
}

// unshareMemberResources unshares the removed member's resources from the
// federation it left and reports the removals to the registry.
func (t *Tracker) unshareMemberResources(ctx context.Context, removedPlatformID, federationID string) {
	all, err := t.resources.All()
	if err != nil {
		t.logger.Warn("listing resources failed", zap.Error(err))
		return
	}
	var removed []string
	for _, fr := range all {
		if fr.PlatformID() != removedPlatformID || !fr.SharedInto(federationID) {
			continue
		}
		fr.UnshareFromFederation(federationID)
		removed = append(removed, fr.ResourceIDIn(federationID).String())
		t.persistOrDelete(fr)
	}
	t.notifyRegistry(ctx, removed)
}

func (t *Tracker) persistOrDelete(fr *model.FederatedResource) {
	var err error
	if len(fr.Federations) == 0 {
		err = t.resources.Delete(fr.AggregationID)
	} else {
		err = t.resources.Save(fr)
	}
	if err != nil {
		t.logger.Warn("persisting unshared resource failed",
			zap.String("aggregation_id", fr.AggregationID), zap.Error(err))
	}
}

func (t *Tracker) notifyRegistry(ctx context.Context, removed []string) {
	if len(removed) == 0 || t.registry == nil {
		return
	}
	sort.Strings(removed)
	if err := t.registry.NotifyResourcesDeleted(ctx, removed); err != nil {
		t.logger.Warn("registry removal notification failed", zap.Error(err))
	}
}

func (t *Tracker) refreshGauges() {
	if t.metrics == nil {
		return
	}
	if feds, err := t.federations.All(); err == nil {
		t.metrics.Federations.Set(float64(len(feds)))
	}
	if subs, err := t.subscriptions.All(); err == nil {
		t.metrics.Subscriptions.Set(float64(len(subs)))
	}
	if res, err := t.resources.All(); err == nil {
		t.metrics.FederatedResources.Set(float64(len(res)))
	}
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
