package model

import (
	"fmt"
	"strings"
)

// ResourceID is the structured form of the federation-scoped resource
// identifier used in removal notices. On the wire it is the delimited
// string "nonce@platformId@federationId"; internally it stays a triple.
type ResourceID struct {
	Nonce        string
	PlatformID   string
	FederationID string
}

// ParseResourceID parses the delimited wire form.
func ParseResourceID(s string) (ResourceID, error) {
	parts := strings.Split(s, "@")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ResourceID{}, fmt.Errorf("malformed resource id %q: want nonce@platformId@federationId", s)
	}
	return ResourceID{Nonce: parts[0], PlatformID: parts[1], FederationID: parts[2]}, nil
}

// AggregationID is the owning-platform-scoped resource key.
func (id ResourceID) AggregationID() string {
	return id.Nonce + "@" + id.PlatformID
}

// String renders the delimited wire form.
func (id ResourceID) String() string {
	return id.Nonce + "@" + id.PlatformID + "@" + id.FederationID
}
