package capture

import (
	"fmt"
)

// Kind identifies a family of camera hardware. The numeric values match the
// --driver ids accepted on the command line.
type Kind int

// Supported backend kinds.
const (
	KindUSB          Kind = -1 // generic USB / video device
	KindOpenNIPCL    Kind = 0  // OpenNI through the PCL grabber (Kinect)
	KindOpenNI2      Kind = 1  // OpenNI2 (Kinect, Xtion PRO Live)
	KindFreenect     Kind = 2  // libfreenect (Kinect)
	KindOpenNICV     Kind = 3  // OpenNI through OpenCV (Kinect)
	KindOpenNICVAsus Kind = 4  // OpenNI through OpenCV (Xtion PRO Live)
	KindFreenect2    Kind = 5  // libfreenect2 (Kinect v2)
	KindDC1394       Kind = 6  // IEEE1394 stereo rig (Bumblebee2)
)

// MinKind and MaxKind bound the valid driver ids.
const (
	MinKind = KindUSB
	MaxKind = KindDC1394
)

var kindNames = map[Kind]string{
	KindUSB:          "usb",
	KindOpenNIPCL:    "openni-pcl",
	KindOpenNI2:      "openni2",
	KindFreenect:     "freenect",
	KindOpenNICV:     "openni-cv",
	KindOpenNICVAsus: "openni-cv-asus",
	KindFreenect2:    "freenect2",
	KindDC1394:       "dc1394",
}

// ParseKind converts a driver id into a Kind. Ids outside [MinKind, MaxKind]
// are rejected.
func ParseKind(id int) (Kind, error) {
	k := Kind(id)
	if !k.Valid() {
		return 0, fmt.Errorf("driver should be between %d and %d, got %d", MinKind, MaxKind, id)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k >= MinKind && k <= MaxKind
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AllKinds returns every known kind in driver id order.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, int(MaxKind-MinKind)+1)
	for k := MinKind; k <= MaxKind; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}
