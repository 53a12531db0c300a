package h264

// encodeSize14 appends a 14-bit expandable size field.
func encodeSize14(out []byte, size int) []byte {
	return append(out, 0x80|uint8(size>>7), uint8(size&0x7f))
}

// MakeESDS wraps codec specific data into an MPEG-4 ES_Descriptor
// payload, as stored in an esds box.
func MakeESDS(csd []byte) []byte {
	out := make([]byte, 0, 25+len(csd))

	out = append(out, 0x03) // ES_DescrTag.
	out = encodeSize14(out, 22+len(csd))

	out = append(out,
		0x00, 0x00, // ES_ID.
		0x00, // streamDependenceFlag, URL_Flag, OCRstreamFlag.
	)

	out = append(out, 0x04) // DecoderConfigDescrTag.
	out = encodeSize14(out, 16+len(csd))

	out = append(out, 0x40) // objectTypeIndication.
	out = append(out,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	)

	out = append(out, 0x05) // DecSpecificInfoTag.
	out = encodeSize14(out, len(csd))
	out = append(out, csd...)

	return out
}
