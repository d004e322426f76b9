package capture

import (
	"sort"
)

// Factory builds an uninitialized backend. It must not open the device.
type Factory func(cfg Config, opts BackendOptions) Backend

// StereoSupport describes which acquisition modes a hardware family offers.
type StereoSupport int

// Stereo support levels.
const (
	MonoOnly StereoSupport = iota
	StereoOnly
	MonoOrStereo
)

func (s StereoSupport) String() string {
	switch s {
	case MonoOnly:
		return "mono"
	case StereoOnly:
		return "stereo"
	case MonoOrStereo:
		return "mono+stereo"
	default:
		return "unknown"
	}
}

// Descriptor registers one backend kind.
type Descriptor struct {
	Kind   Kind
	Name   string
	Stereo StereoSupport

	// Available reports whether support for the kind is compiled in. It must
	// be free of side effects.
	Available func() bool

	New Factory
}

// Registry maps kinds to descriptors. It is read-only once built.
type Registry struct {
	descriptors map[Kind]Descriptor
}

// NewRegistry builds a registry from descs. A later descriptor for the same
// kind replaces an earlier one.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{descriptors: make(map[Kind]Descriptor, len(descs))}
	for _, d := range descs {
		r.descriptors[d.Kind] = d
	}
	return r
}

// Resolve returns the factory for kind, or an *AvailabilityError if the kind
// is unknown or its support is not available.
func (r *Registry) Resolve(kind Kind) (Factory, error) {
	d, ok := r.descriptors[kind]
	if !ok || d.New == nil || d.Available == nil || !d.Available() {
		return nil, &AvailabilityError{Kind: kind}
	}
	return d.New, nil
}

// Describe returns the descriptor registered for kind.
func (r *Registry) Describe(kind Kind) (Descriptor, bool) {
	d, ok := r.descriptors[kind]
	return d, ok
}

// Kinds returns the registered kinds in driver id order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.descriptors))
	for k := range r.descriptors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DefaultRegistry holds the backends compiled into this binary.
var DefaultRegistry = NewRegistry(defaultDescriptors()...)

func always() bool { return true }
func never() bool  { return false }

func defaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Kind:      KindUSB,
			Name:      "USB camera",
			Stereo:    MonoOrStereo,
			Available: always,
			New:       videoFactory(apiAny, MonoOrStereo),
		},
		{
			Kind:      KindOpenNIPCL,
			Name:      "OpenNI-PCL (Kinect)",
			Stereo:    MonoOnly,
			Available: never,
			New:       unlinkedFactory,
		},
		{
			Kind:      KindOpenNI2,
			Name:      "OpenNI2 (Kinect and Xtion PRO Live)",
			Stereo:    MonoOnly,
			Available: func() bool { return hasOpenNI2 },
			New:       videoFactory(apiOpenNI2, MonoOnly),
		},
		{
			Kind:      KindFreenect,
			Name:      "Freenect (Kinect)",
			Stereo:    MonoOnly,
			Available: never,
			New:       unlinkedFactory,
		},
		{
			Kind:      KindOpenNICV,
			Name:      "OpenNI-CV (Kinect)",
			Stereo:    MonoOnly,
			Available: func() bool { return hasOpenNI },
			New:       videoFactory(apiOpenNI, MonoOnly),
		},
		{
			Kind:      KindOpenNICVAsus,
			Name:      "OpenNI-CV-ASUS (Xtion PRO Live)",
			Stereo:    MonoOnly,
			Available: func() bool { return hasOpenNI },
			New:       videoFactory(apiOpenNIAsus, MonoOnly),
		},
		{
			Kind:      KindFreenect2,
			Name:      "Freenect2 (Kinect v2)",
			Stereo:    MonoOnly,
			Available: never,
			New:       unlinkedFactory,
		},
		{
			Kind:      KindDC1394,
			Name:      "DC1394 (Bumblebee2)",
			Stereo:    StereoOnly,
			Available: func() bool { return hasDC1394 },
			New:       videoFactory(apiFirewire, StereoOnly),
		},
	}
}
