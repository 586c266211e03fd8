package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceString(t *testing.T) {
	require.Equal(t, "mic", SourceMic.String())
	require.Equal(t, "system", SourceSystem.String())
	require.Equal(t, "unknown", Source(42).String())
}

func TestFloat32FromPCM16KnownValues(t *testing.T) {
	// 0, max positive, min negative as little-endian int16.
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}

	samples := Float32FromPCM16(pcm)
	require.Len(t, samples, 3)
	require.Equal(t, float32(0), samples[0])
	require.InDelta(t, 1.0, samples[1], 1.0/32768)
	require.Equal(t, float32(-1), samples[2])
}

func TestFloat32FromPCM16IgnoresTrailingOddByte(t *testing.T) {
	samples := Float32FromPCM16([]byte{0x00, 0x00, 0x7F})
	require.Len(t, samples, 1)
}

func TestPCM16FromFloat32ClampsOutOfRange(t *testing.T) {
	pcm := PCM16FromFloat32([]float32{2.0, -2.0, 0})
	require.Len(t, pcm, 6)

	require.Equal(t, []byte{0xFF, 0x7F}, pcm[0:2])
	require.Equal(t, []byte{0x01, 0x80}, pcm[2:4])
	require.Equal(t, []byte{0x00, 0x00}, pcm[4:6])
}

func TestConversionRoundTripStaysClose(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.9, -0.9}
	out := Float32FromPCM16(PCM16FromFloat32(in))
	require.Len(t, out, len(in))
	for i := range in {
		require.InDelta(t, in[i], out[i], 1.0/16384)
	}
}

func TestLevelRMS(t *testing.T) {
	require.Equal(t, float64(0), Level(nil))
	require.Equal(t, float64(0), Level([]float32{0, 0, 0}))
	require.InDelta(t, 0.5, Level([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
	require.InDelta(t, 1.0/math.Sqrt2, Level([]float32{1, 0, -1, 0}), 1e-9)
	require.LessOrEqual(t, Level([]float32{5, -5}), 1.0)
}
