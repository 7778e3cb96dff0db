package sensor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ConvertsMicrosecondsToSeconds(t *testing.T) {
	sample, err := Decode([]byte(`{"values":[1.5,-2.25,9.81],"timestamp":90000000}`))
	require.NoError(t, err)

	assert.Equal(t, 90.0, sample.Timestamp)
	assert.Equal(t, 1.5, sample.X)
	assert.Equal(t, -2.25, sample.Y)
	assert.Equal(t, 9.81, sample.Z)
}

func TestDecode_AcceptsStringTimestamp(t *testing.T) {
	sample, err := Decode([]byte(`{"values":[0,0,0],"timestamp":"1500000"}`))
	require.NoError(t, err)
	assert.Equal(t, 1.5, sample.Timestamp)
}

func TestDecode_IgnoresExtraValues(t *testing.T) {
	sample, err := Decode([]byte(`{"values":[1,2,3,4],"timestamp":0}`))
	require.NoError(t, err)
	assert.Equal(t, Sample{Timestamp: 0, X: 1, Y: 2, Z: 3}, sample)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"non numeric values": `{"values":["a","b","c"],"timestamp":1}`,
		"too few values":     `{"values":[1,2],"timestamp":1}`,
		"missing values":     `{"timestamp":1}`,
		"missing timestamp":  `{"values":[1,2,3]}`,
		"bad timestamp":      `{"values":[1,2,3],"timestamp":"soon"}`,
		"not json":           `values=1,2,3`,
		"null values":        `{"values":[null,null,null],"timestamp":90000000}`,
		"one null value":     `{"values":[1,null,3],"timestamp":90000000}`,
		"nan timestamp":      `{"values":[1,2,3],"timestamp":"NaN"}`,
		"inf timestamp":      `{"values":[1,2,3],"timestamp":"-Infinity"}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, payload, string(decodeErr.Payload))
		})
	}
}

func TestType_NextCycles(t *testing.T) {
	assert.Equal(t, Gyroscope, Accelerometer.Next())
	assert.Equal(t, Magnetometer, Gyroscope.Next())
	assert.Equal(t, Accelerometer, Magnetometer.Next())
}

func TestParse(t *testing.T) {
	got, err := Parse("gyroscope")
	require.NoError(t, err)
	assert.Equal(t, Gyroscope, got)

	got, err = Parse("android.sensor.magnetic_field")
	require.NoError(t, err)
	assert.Equal(t, Magnetometer, got)

	_, err = Parse("barometer")
	assert.Error(t, err)
}
