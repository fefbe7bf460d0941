package model

// ResourcesAddedOrUpdated is the batch message carrying newly shared or
// updated federated resources, both on the message bus (from the registry)
// and on the peer-to-peer addOrUpdate endpoint.
type ResourcesAddedOrUpdated struct {
	NewFederatedResources []*FederatedResource `json:"newFederatedResources"`
}

// ResourcesDeleted names federation-scoped resource removals as
// "nonce@platformId@federationId" identifiers.
type ResourcesDeleted struct {
	DeletedFederatedResources []string `json:"deletedFederatedResources"`
}
