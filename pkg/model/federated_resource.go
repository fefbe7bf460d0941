package model

import "strings"

// SharingInformation is the per-federation sharing metadata of a federated
// resource.
type SharingInformation struct {
	Bartering bool `json:"bartering"`
}

// FederatedResource is one resource that a platform has opted to share into
// one or more federations. The aggregation id has the form
// "nonce@platformId" and is stable for the lifetime of the sharing.
//
// A FederatedResource whose Federations map is empty must not exist; callers
// delete the record instead of persisting it.
type FederatedResource struct {
	AggregationID string                        `json:"aggregationId"`
	Resource      *Resource                     `json:"resource"`
	Federations   map[string]SharingInformation `json:"federations"`

	// Owner-private fields, stripped before any outbound send.
	InternalID   string `json:"internalId,omitempty"`
	PluginID     string `json:"pluginId,omitempty"`
	AccessPolicy string `json:"accessPolicy,omitempty"`
	RestURL      string `json:"restUrl,omitempty"`
}

// PlatformID derives the owning platform from the aggregation id.
func (fr *FederatedResource) PlatformID() string {
	if i := strings.Index(fr.AggregationID, "@"); i >= 0 {
		return fr.AggregationID[i+1:]
	}
	return ""
}

// Nonce derives the owner-scoped nonce from the aggregation id.
func (fr *FederatedResource) Nonce() string {
	if i := strings.Index(fr.AggregationID, "@"); i >= 0 {
		return fr.AggregationID[:i]
	}
	return fr.AggregationID
}

// SharedInto reports whether the resource is currently shared into the
// federation.
func (fr *FederatedResource) SharedInto(federationID string) bool {
	_, ok := fr.Federations[federationID]
	return ok
}

// ShareToFederation records sharing into a federation with the given
// bartering flag.
func (fr *FederatedResource) ShareToFederation(federationID string, bartering bool) {
	if fr.Federations == nil {
		fr.Federations = make(map[string]SharingInformation)
	}
	fr.Federations[federationID] = SharingInformation{Bartering: bartering}
}

// UnshareFromFederation removes the federation from the sharing map.
func (fr *FederatedResource) UnshareFromFederation(federationID string) {
	delete(fr.Federations, federationID)
}

// ResourceIDIn returns the federation-scoped identifier for this resource in
// the given federation.
func (fr *FederatedResource) ResourceIDIn(federationID string) ResourceID {
	return ResourceID{Nonce: fr.Nonce(), PlatformID: fr.PlatformID(), FederationID: federationID}
}

// ClearPrivateInfo strips owner-private attributes before the resource
// leaves this node.
func (fr *FederatedResource) ClearPrivateInfo() {
	fr.InternalID = ""
	fr.PluginID = ""
	fr.AccessPolicy = ""
	fr.RestURL = ""
}

// Clone returns a deep copy of the federated resource.
func (fr *FederatedResource) Clone() *FederatedResource {
	out := *fr
	out.Resource = fr.Resource.Clone()
	out.Federations = make(map[string]SharingInformation, len(fr.Federations))
	for id, info := range fr.Federations {
		out.Federations[id] = info
	}
	return &out
}
