package model

// ResourceType discriminates the concrete variant of a shared resource.
type ResourceType string

const (
	TypeService          ResourceType = "service"
	TypeDevice           ResourceType = "device"
	TypeSensor           ResourceType = "sensor"
	TypeStationarySensor ResourceType = "stationarySensor"
	TypeMobileSensor     ResourceType = "mobileSensor"
	TypeActuator         ResourceType = "actuator"
)

// Location names where a device-like resource is deployed.
type Location struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Altitude    float64 `json:"altitude,omitempty"`
}

// Capability is an invokable capability exposed by an actuator.
type Capability struct {
	Name string `json:"name"`
}

// Resource describes the shared thing itself. It is a tagged union: Type
// selects the variant, the optional fields only carry meaning for variants
// whose role predicates accept them.
type Resource struct {
	Type                   ResourceType `json:"type"`
	Name                   string       `json:"name,omitempty"`
	Description            []string     `json:"description,omitempty"`
	InterworkingServiceURL string       `json:"interworkingServiceURL,omitempty"`

	// Device-like variants.
	LocatedAt *Location `json:"locatedAt,omitempty"`

	// Sensor-like variants.
	ObservesProperty []string `json:"observesProperty,omitempty"`

	// Actuator.
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// IsService reports whether the resource is a plain service.
func (r *Resource) IsService() bool {
	return r.Type == TypeService
}

// IsDeviceLike reports whether the variant carries device semantics.
// Sensors and actuators are devices, services are not.
func (r *Resource) IsDeviceLike() bool {
	switch r.Type {
	case TypeDevice, TypeSensor, TypeStationarySensor, TypeMobileSensor, TypeActuator:
		return true
	}
	return false
}

// IsSensorLike reports whether the variant carries sensor semantics.
func (r *Resource) IsSensorLike() bool {
	switch r.Type {
	case TypeSensor, TypeStationarySensor, TypeMobileSensor:
		return true
	}
	return false
}

// IsActuatorLike reports whether the variant carries actuator semantics.
func (r *Resource) IsActuatorLike() bool {
	return r.Type == TypeActuator
}

// Clone returns a deep copy of the resource.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	out := *r
	if r.LocatedAt != nil {
		loc := *r.LocatedAt
		out.LocatedAt = &loc
	}
	out.Description = append([]string(nil), r.Description...)
	out.ObservesProperty = append([]string(nil), r.ObservesProperty...)
	out.Capabilities = append([]Capability(nil), r.Capabilities...)
	return &out
}
