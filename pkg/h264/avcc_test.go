package h264

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeAVCConfig(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xc0, 0x1e, 0xf4, 0x0a, 0x0f, 0xc8}
	pps := []byte{0x68, 0xce, 0x3c, 0x80}

	data := []byte{0x00, 0x00, 0x00, 0x01}
	data = append(data, sps...)
	data = append(data, 0x00, 0x00, 0x00, 0x01)
	data = append(data, pps...)
	data = append(data, 0x00, 0x00, 0x01, 0x65, 0x88)

	config, err := MakeAVCConfig(data)
	require.NoError(t, err)
	require.Equal(t, 320, config.Width)
	require.Equal(t, 240, config.Height)

	expected := []byte{
		1,          // configurationVersion.
		0x42,       // AVCProfileIndication.
		0xc0,       // profile_compatibility.
		0x1e,       // AVCLevelIndication.
		0xfc | 1,   // lengthSizeMinusOne.
		0xe0 | 1,   // numOfSequenceParameterSets.
		0x00, 0x08, // SPS length.
	}
	expected = append(expected, sps...)
	expected = append(expected, 1, 0x00, 0x04)
	expected = append(expected, pps...)
	require.Equal(t, expected, config.Record)
}

func TestMakeAVCConfigMissing(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88}
	_, err := MakeAVCConfig(data)
	require.ErrorIs(t, err, ErrAVCCNoSPSPPS)
}

func TestMakeESDS(t *testing.T) {
	csd := []byte{0x12, 0x10}
	esds := MakeESDS(csd)

	require.Equal(t, []byte{
		0x03, 0x80, 24, // ES_DescrTag.
		0x00, 0x00, // ES_ID.
		0x00,
		0x04, 0x80, 18, // DecoderConfigDescrTag.
		0x40, // objectTypeIndication.
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x05, 0x80, 2, // DecSpecificInfoTag.
		0x12, 0x10,
	}, esds)
}
