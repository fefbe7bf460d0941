// Package api is the inbound REST surface of the subscription manager:
// peer-to-peer resource pushes and removals, subscription exchange, and
// the owner's subscribe endpoint. Every peer-facing handler authorizes the
// caller through the security port before touching state, and echoes this
// node's own assertion in the response header for mutual verification.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/security"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/store"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/subscription"
)

// Forwarder hands inbound peer mutations on to this node's registry of
// record.
type Forwarder interface {
	ForwardResourcesAdded(ctx context.Context, msg *model.ResourcesAddedOrUpdated) error
	NotifyResourcesDeleted(ctx context.Context, resourceIDs []string) error
}

// Membership is the slice of the membership tracker the handlers need.
type Membership interface {
	CommonFederations(peerID string) ([]string, error)
	Peers() []string
}

// Engine is the slice of the fan-out engine the handlers need.
type Engine interface {
	SendExistingResources(ctx context.Context, peerID string, federationIDs []string)
	BroadcastOwnSubscription(ctx context.Context, peerIDs []string)
}

// Handler carries the REST endpoint implementations.
type Handler struct {
	platformID    string
	federations   store.FederationStore
	resources     store.FederatedResourceStore
	subscriptions store.SubscriptionStore
	sec           security.Manager
	forwarder     Forwarder
	membership    Membership
	engine        Engine
	logger        *zap.Logger
}

// NewHandler builds the REST handler set.
func NewHandler(
	platformID string,
	federations store.FederationStore,
	resources store.FederatedResourceStore,
	subscriptions store.SubscriptionStore,
	sec security.Manager,
	forwarder Forwarder,
	membership Membership,
	engine Engine,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		platformID:    platformID,
		federations:   federations,
		resources:     resources,
		subscriptions: subscriptions,
		sec:           sec,
		forwarder:     forwarder,
		membership:    membership,
		engine:        engine,
		logger:        logger.Named("api"),
	}
}

// Router mounts all endpoints under /subscriptionManager.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	sm := r.PathPrefix("/subscriptionManager").Subrouter()
	sm.HandleFunc("/addOrUpdate", h.ResourcesAddedOrUpdated).Methods(http.MethodPost)
	sm.HandleFunc("/delete", h.ResourcesDeleted).Methods(http.MethodPost)
	sm.HandleFunc("/subscribe", h.Subscribe).Methods(http.MethodPost)
	sm.HandleFunc("/subscription", h.PeerSubscription).Methods(http.MethodPost)
	sm.HandleFunc("/subscriptions", h.AllSubscriptions).Methods(http.MethodGet)
	sm.HandleFunc("/subscription/{platformId}", h.SubscriptionByID).Methods(http.MethodGet)
	return r
}

// authorize runs the shared precondition: generate this node's service
// response (5xx on failure), then validate the caller's headers against the
// claimed sender (401 on failure). On success the assertion to echo is
// returned.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, senderPlatformID string) (string, bool) {
	serviceResponse, err := h.sec.GenerateServiceResponse()
	if err != nil {
		h.logger.Warn("service response generation failed", zap.Error(err))
		http.Error(w, "failed to generate service response", http.StatusInternalServerError)
		return "", false
	}
	if err := h.sec.CheckRequest(r.Header, serviceResponse, senderPlatformID); err != nil {
		h.logger.Info("request failed authorization check",
			zap.String("sender", senderPlatformID), zap.Error(err))
		status := http.StatusUnauthorized
		if !errors.Is(err, security.ErrUnauthorized) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return "", false
	}
	return serviceResponse, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// ResourcesAddedOrUpdated receives resources a peer shares with this node.
func (h *Handler) ResourcesAddedOrUpdated(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("addOrUpdate request received")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	var msg model.ResourcesAddedOrUpdated
	if err := json.Unmarshal(body, &msg); err != nil || len(msg.NewFederatedResources) == 0 {
		http.Error(w, "invalid resources payload", http.StatusBadRequest)
		return
	}

	senderID := msg.NewFederatedResources[0].PlatformID()
	if senderID == "" {
		http.Error(w, "resource carries no owning platform", http.StatusBadRequest)
		return
	}

	// The claimed sender must be a member of every federation every
	// resource in the batch references.
	for _, fr := range msg.NewFederatedResources {
		for fedID := range fr.Federations {
			fed, err := h.federations.Get(fedID)
			if err != nil || !fed.HasMember(senderID) {
				http.Error(w, "sender platform "+senderID+" is not allowed to share resources into federation "+fedID,
					http.StatusBadRequest)
				return
			}
		}
	}

	serviceResponse, ok := h.authorize(w, r, senderID)
	if !ok {
		return
	}

	for _, fr := range msg.NewFederatedResources {
		if err := h.resources.Save(fr); err != nil {
			http.Error(w, "persisting resources failed", http.StatusInternalServerError)
			return
		}
	}
	if err := h.forwarder.ForwardResourcesAdded(r.Context(), &msg); err != nil {
		h.logger.Warn("forwarding resources to registry failed", zap.Error(err))
	}

	h.logger.Info("addOrUpdate request executed",
		zap.String("sender", senderID),
		zap.Int("resources", len(msg.NewFederatedResources)))
	w.Header().Set(security.ServiceResponseHeader, serviceResponse)
	w.WriteHeader(http.StatusOK)
}

// ResourcesDeleted receives removal notices from a peer.
func (h *Handler) ResourcesDeleted(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("delete request received")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	var msg model.ResourcesDeleted
	if err := json.Unmarshal(body, &msg); err != nil || len(msg.DeletedFederatedResources) == 0 {
		http.Error(w, "invalid removal payload", http.StatusBadRequest)
		return
	}

	ids := make([]model.ResourceID, 0, len(msg.DeletedFederatedResources))
	for _, raw := range msg.DeletedFederatedResources {
		id, err := model.ParseResourceID(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := h.resources.Get(id.AggregationID()); err != nil {
			http.Error(w, "The platform that shared the resource is not in the federation",
				http.StatusBadRequest)
			return
		}
		fed, err := h.federations.Get(id.FederationID)
		if err != nil || !fed.HasMember(id.PlatformID) {
			http.Error(w, "The platform that shared the resource is not in the federation",
				http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}

	serviceResponse, ok := h.authorize(w, r, ids[0].PlatformID)
	if !ok {
		return
	}

	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		fr, err := h.resources.Get(id.AggregationID())
		if err != nil {
			continue
		}
		fr.UnshareFromFederation(id.FederationID)
		if len(fr.Federations) == 0 {
			_ = h.resources.Delete(fr.AggregationID)
		} else {
			_ = h.resources.Save(fr)
		}
		removed = append(removed, id.String())
	}
	if err := h.forwarder.NotifyResourcesDeleted(r.Context(), removed); err != nil {
		h.logger.Warn("forwarding removals to registry failed", zap.Error(err))
	}

	h.logger.Info("delete request executed", zap.Int("resources", len(removed)))
	w.Header().Set(security.ServiceResponseHeader, serviceResponse)
	w.WriteHeader(http.StatusOK)
}

// Subscribe updates this platform's own outbound subscription. Owner-only:
// the payload platform id must match the configured one.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("subscribe request received")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	var sub model.Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		http.Error(w, "invalid subscription payload", http.StatusBadRequest)
		return
	}
	if sub.PlatformID != h.platformID {
		http.Error(w, "platformId does not match this platform", http.StatusBadRequest)
		return
	}

	if err := h.subscriptions.Save(&sub); err != nil {
		http.Error(w, "persisting subscription failed", http.StatusInternalServerError)
		return
	}

	// Peers mirror this node's subscription; push the update instead of
	// waiting for them to poll.
	h.engine.BroadcastOwnSubscription(r.Context(), h.membership.Peers())

	h.sweepForeignResources(r.Context(), &sub)

	h.logger.Info("subscription updated", zap.String("platform_id", sub.PlatformID))
	w.WriteHeader(http.StatusOK)
}

// sweepForeignResources drops every peer-owned resource that no longer
// matches the updated subscription and reports the removals upstream so
// the authoritative registry stays consistent.
func (h *Handler) sweepForeignResources(ctx context.Context, sub *model.Subscription) {
	all, err := h.resources.All()
	if err != nil {
		h.logger.Warn("listing resources failed", zap.Error(err))
		return
	}
	var removed []string
	for _, fr := range all {
		if fr.PlatformID() == h.platformID || subscription.IsSubscribed(sub, fr) {
			continue
		}
		for fedID := range fr.Federations {
			removed = append(removed, fr.ResourceIDIn(fedID).String())
		}
		_ = h.resources.Delete(fr.AggregationID)
	}
	if len(removed) == 0 {
		return
	}
	if err := h.forwarder.NotifyResourcesDeleted(ctx, removed); err != nil {
		h.logger.Warn("forwarding sweep removals to registry failed", zap.Error(err))
	}
}

// PeerSubscription receives a federated peer's subscription push.
func (h *Handler) PeerSubscription(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("subscription request received")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	var sub model.Subscription
	if err := json.Unmarshal(body, &sub); err != nil || sub.PlatformID == "" {
		http.Error(w, "invalid subscription payload", http.StatusBadRequest)
		return
	}

	common, err := h.membership.CommonFederations(sub.PlatformID)
	if err != nil {
		http.Error(w, "resolving common federations failed", http.StatusInternalServerError)
		return
	}
	if len(common) == 0 {
		http.Error(w, "platforms "+h.platformID+" and "+sub.PlatformID+" are not federated",
			http.StatusBadRequest)
		return
	}

	serviceResponse, ok := h.authorize(w, r, sub.PlatformID)
	if !ok {
		return
	}

	if err := h.subscriptions.Save(&sub); err != nil {
		http.Error(w, "persisting subscription failed", http.StatusInternalServerError)
		return
	}

	// The peer's filter changed; resources already shared with it that fit
	// the new filter are pushed right away.
	h.engine.SendExistingResources(r.Context(), sub.PlatformID, common)

	h.logger.Info("peer subscription stored", zap.String("platform_id", sub.PlatformID))
	w.Header().Set(security.ServiceResponseHeader, serviceResponse)
	w.WriteHeader(http.StatusOK)
}

// AllSubscriptions returns every subscription row. Diagnostics only.
func (h *Handler) AllSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subscriptions.All()
	if err != nil {
		http.Error(w, "listing subscriptions failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// SubscriptionByID returns a single subscription row, 404 when absent.
func (h *Handler) SubscriptionByID(w http.ResponseWriter, r *http.Request) {
	platformID := mux.Vars(r)["platformId"]
	sub, err := h.subscriptions.Get(platformID)
	if err != nil {
		http.Error(w, "no subscription for platform "+platformID, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
