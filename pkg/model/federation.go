package model

// FederationMember is one platform participating in a federation, with the
// base URL of its interworking services.
type FederationMember struct {
	PlatformID             string `json:"platformId"`
	InterworkingServiceURL string `json:"interworkingServiceURL"`
}

// Federation is a named resource-sharing agreement among a set of platforms.
// This node never originates membership changes, it only mirrors events from
// the federation manager.
type Federation struct {
	ID      string             `json:"id"`
	Name    string             `json:"name,omitempty"`
	Members []FederationMember `json:"members"`
}

// MemberIDs returns the platform ids of all members, in declaration order.
func (f *Federation) MemberIDs() []string {
	ids := make([]string, 0, len(f.Members))
	for _, m := range f.Members {
		ids = append(ids, m.PlatformID)
	}
	return ids
}

// HasMember reports whether platformID is a member of the federation.
func (f *Federation) HasMember(platformID string) bool {
	for _, m := range f.Members {
		if m.PlatformID == platformID {
			return true
		}
	}
	return false
}

// Member returns the member record for platformID, if present.
func (f *Federation) Member(platformID string) (FederationMember, bool) {
	for _, m := range f.Members {
		if m.PlatformID == platformID {
			return m, true
		}
	}
	return FederationMember{}, false
}

// Clone returns a deep copy of the federation.
func (f *Federation) Clone() *Federation {
	out := *f
	out.Members = append([]FederationMember(nil), f.Members...)
	return &out
}
