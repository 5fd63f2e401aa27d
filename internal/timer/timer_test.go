package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDifferenceNs(t *testing.T) {
	tests := []struct {
		name  string
		begin Timestamp
		end   Timestamp
		want  int64
	}{
		{name: "forward", begin: Timestamp{0, 10}, end: Timestamp{0, 20}, want: 10},
		{name: "backward", begin: Timestamp{0, 20}, end: Timestamp{0, 10}, want: -10},
		{name: "cross second carry", begin: Timestamp{0, 10}, end: Timestamp{1, 20}, want: 1_000_000_010},
		{name: "sub second wraparound", begin: Timestamp{0, 999_999_990}, end: Timestamp{1, 10}, want: 20},
		{name: "equal", begin: Timestamp{5, 5}, end: Timestamp{5, 5}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DifferenceNs(tt.begin, tt.end))
		})
	}
}

func TestDifferenceNs_Antisymmetric(t *testing.T) {
	stamps := []Timestamp{
		{0, 0}, {0, 10}, {0, 999_999_999}, {1, 0}, {1, 500}, {42, 123_456_789}, {1 << 30, 7},
	}

	for _, a := range stamps {
		for _, b := range stamps {
			assert.Equal(t, DifferenceNs(a, b), -DifferenceNs(b, a), "a=%v b=%v", a, b)
		}
	}
}

func TestFromNanoseconds(t *testing.T) {
	assert.Equal(t, Timestamp{Sec: 1, Nsec: 5}, FromNanoseconds(1_000_000_005))
	assert.Equal(t, Timestamp{Sec: -1, Nsec: 999_999_999}, FromNanoseconds(-1))
	assert.Equal(t, int64(1_000_000_005), FromNanoseconds(1_000_000_005).Nanoseconds())
}

func TestTimestampAdd(t *testing.T) {
	ts := Timestamp{Sec: 0, Nsec: 999_999_000}.Add(2 * time.Microsecond)

	assert.Equal(t, Timestamp{Sec: 1, Nsec: 1_000}, ts)
}

func TestRead_Monotonic(t *testing.T) {
	first, err := Read()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first.Nsec, int64(0))
	assert.Less(t, first.Nsec, int64(time.Second))

	time.Sleep(time.Millisecond)

	second := Monotonic{}.Now()
	assert.GreaterOrEqual(t, DifferenceNs(first, second), int64(time.Millisecond))
}
