// Package subscription holds the matching predicate that decides whether a
// peer's subscription accepts a federated resource. It is pure and safe for
// concurrent use; the fan-out engine calls it for every candidate peer.
package subscription

import "github.com/symbiote-h2020/SubscriptionManager/pkg/model"

// IsSubscribed reports whether the subscription matches the federated
// resource. Every filter the subscription declares must pass; undeclared
// filters are skipped. A resource without a concrete description never
// matches.
func IsSubscribed(sub *model.Subscription, fr *model.FederatedResource) bool {
	if sub == nil || fr == nil || fr.Resource == nil {
		return false
	}
	res := fr.Resource

	if !MatchesResourceType(sub, res) {
		return false
	}
	if len(sub.Locations) > 0 && !MatchesLocation(sub.Locations, res) {
		return false
	}
	if len(sub.ObservedProperties) > 0 && !MatchesObservedProperty(sub.ObservedProperties, res) {
		return false
	}
	if len(sub.Capabilities) > 0 && !MatchesCapability(sub.Capabilities, res) {
		return false
	}
	return true
}

// MatchesResourceType checks the resource's variant against the acceptance
// map. The device, sensor and actuator roles are independent checks: a
// sensor counts as a device too, so accepting either role admits it.
func MatchesResourceType(sub *model.Subscription, res *model.Resource) bool {
	if sub.Accepts(model.ResourceKindService) && res.IsService() {
		return true
	}
	if sub.Accepts(model.ResourceKindDevice) && res.IsDeviceLike() {
		return true
	}
	if sub.Accepts(model.ResourceKindSensor) && res.IsSensorLike() {
		return true
	}
	if sub.Accepts(model.ResourceKindActuator) && res.IsActuatorLike() {
		return true
	}
	return false
}

// MatchesLocation passes when the resource is device-like and its location
// name is in the accepted list. Resources without a location fail closed.
func MatchesLocation(locations []string, res *model.Resource) bool {
	if !res.IsDeviceLike() || res.LocatedAt == nil {
		return false
	}
	for _, name := range locations {
		if res.LocatedAt.Name == name {
			return true
		}
	}
	return false
}

// MatchesObservedProperty passes when the resource is sensor-like and at
// least one of its observed properties is in the accepted list.
func MatchesObservedProperty(properties []string, res *model.Resource) bool {
	if !res.IsSensorLike() || len(res.ObservesProperty) == 0 {
		return false
	}
	for _, want := range properties {
		for _, have := range res.ObservesProperty {
			if want == have {
				return true
			}
		}
	}
	return false
}

// MatchesCapability passes when the resource is an actuator and at least
// one capability name intersects the accepted list.
func MatchesCapability(capabilities []string, res *model.Resource) bool {
	if !res.IsActuatorLike() || len(res.Capabilities) == 0 {
		return false
	}
	for _, want := range capabilities {
		for _, have := range res.Capabilities {
			if want == have.Name {
				return true
			}
		}
	}
	return false
}
