package sensor

import (
	"fmt"
	"strings"
)

// Type is one of the physical sensors a device can stream.
type Type int

const (
	Accelerometer Type = iota
	Gyroscope
	Magnetometer
)

var AllTypes = []Type{Accelerometer, Gyroscope, Magnetometer}

var identifiers = map[Type]string{
	Accelerometer: "android.sensor.accelerometer",
	Gyroscope:     "android.sensor.gyroscope",
	Magnetometer:  "android.sensor.magnetic_field",
}

var shortNames = map[Type]string{
	Accelerometer: "accelerometer",
	Gyroscope:     "gyroscope",
	Magnetometer:  "magnetometer",
}

// ID is the stable identifier used to address the endpoint and to name the
// persistence target.
func (t Type) ID() string {
	if id, ok := identifiers[t]; ok {
		return id
	}
	return "unknown"
}

func (t Type) String() string {
	if n, ok := shortNames[t]; ok {
		return n
	}
	return "unknown"
}

func (t Type) Valid() bool {
	_, ok := identifiers[t]
	return ok
}

// Next returns the sensor that follows t, wrapping around after the last one.
func (t Type) Next() Type {
	for i, candidate := range AllTypes {
		if candidate == t {
			return AllTypes[(i+1)%len(AllTypes)]
		}
	}
	return AllTypes[0]
}

// Parse accepts either the short name ("gyroscope") or the full identifier
// ("android.sensor.gyroscope").
func Parse(name string) (Type, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, t := range AllTypes {
		if name == t.String() || name == t.ID() {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor type %q", name)
}
