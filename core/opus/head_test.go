package opus

import (
	"testing"

	"github.com/ankit-chaubey/opus-tag-surgery/core/errs"
	"github.com/ankit-chaubey/opus-tag-surgery/core/opus/opustest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHead(t *testing.T) {
	h, err := ParseHead(opustest.Head(2, 312))
	require.NoError(t, err)
	assert.Equal(t, uint8(1), h.Version)
	assert.Equal(t, uint8(2), h.Channels)
	assert.Equal(t, uint16(312), h.PreSkip)
	assert.Equal(t, uint32(44100), h.InputRate)
	assert.Equal(t, uint8(1), h.StreamCount)
	assert.Equal(t, uint8(1), h.CoupledCount)
	assert.Equal(t, "stereo", h.Layout())
	assert.Equal(t, opustest.Head(2, 312), h.Encode())
}

func TestParseHeadSurround(t *testing.T) {
	raw := opustest.Head(6, 312)
	raw[18] = MappingVorbis
	raw = append(raw, 4, 2, 0, 4, 1, 2, 3, 5)

	h, err := ParseHead(raw)
	require.NoError(t, err)
	assert.Equal(t, "5.1", h.Layout())
	assert.Equal(t, []byte{0, 4, 1, 2, 3, 5}, h.Mapping)
	assert.Equal(t, raw, h.Encode())

	h.MappingFamily = MappingDiscrete
	assert.Equal(t, "discrete 6", h.Layout())
	h.MappingFamily = MappingAmbisonics
	assert.Equal(t, "ambisonic 6", h.Layout())
}

func TestParseHeadGain(t *testing.T) {
	raw := opustest.Head(1, 0)
	raw[16], raw[17] = 0x00, 0xff // -256 in Q7.8
	h, err := ParseHead(raw)
	require.NoError(t, err)
	assert.Equal(t, -1.0, h.GainDB())
	assert.Equal(t, "mono", h.Layout())
}

func TestParseHeadErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:18] }},
		{"magic", func(b []byte) []byte { b[0] = 'o'; return b }},
		{"major version", func(b []byte) []byte { b[8] = 0x10; return b }},
		{"zero channels", func(b []byte) []byte { b[9] = 0; return b }},
		{"family 0 surround", func(b []byte) []byte { b[9] = 3; return b }},
		{"family 1 without table", func(b []byte) []byte { b[18] = 1; return append(b, 1, 1) }},
		{"more coupled than streams", func(b []byte) []byte { b[18] = 1; return append(b, 1, 2, 0, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHead(tt.mod(opustest.Head(2, 312)))
			assert.ErrorIs(t, err, errs.ErrMalformedContainer)
		})
	}
}
