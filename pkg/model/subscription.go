package model

// Resource-type keys of the subscription acceptance map.
const (
	ResourceKindService  = "service"
	ResourceKindDevice   = "device"
	ResourceKindSensor   = "sensor"
	ResourceKindActuator = "actuator"
)

// Subscription is one platform's declared filter over the federated
// resources it wants to receive. An absent filter list means no constraint
// on that axis; the resource-type map defaults to accept-all.
type Subscription struct {
	PlatformID         string          `json:"platformId"`
	ResourceType       map[string]bool `json:"resourceType"`
	Locations          []string        `json:"locations,omitempty"`
	ObservedProperties []string        `json:"observedProperties,omitempty"`
	Capabilities       []string        `json:"capabilities,omitempty"`
}

// NewSubscription returns the accept-all default subscription for a
// platform. This is the row created when a peer first becomes federated.
func NewSubscription(platformID string) *Subscription {
	return &Subscription{
		PlatformID: platformID,
		ResourceType: map[string]bool{
			ResourceKindService:  true,
			ResourceKindDevice:   true,
			ResourceKindSensor:   true,
			ResourceKindActuator: true,
		},
	}
}

// Accepts reports whether the acceptance map allows the given resource
// kind. A kind missing from the map counts as accepted.
func (s *Subscription) Accepts(kind string) bool {
	if s.ResourceType == nil {
		return true
	}
	accepted, present := s.ResourceType[kind]
	return !present || accepted
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	out := *s
	if s.ResourceType != nil {
		out.ResourceType = make(map[string]bool, len(s.ResourceType))
		for k, v := range s.ResourceType {
			out.ResourceType[k] = v
		}
	}
	out.Locations = append([]string(nil), s.Locations...)
	out.ObservedProperties = append([]string(nil), s.ObservedProperties...)
	out.Capabilities = append([]string(nil), s.Capabilities...)
	return &out
}
