package indexer

import "bytes"

const (
	tsPacketSize   = 188
	m2tsPacketSize = 192
)

// EBML magic starting Matroska and WebM files.
var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// Top level box types an ISO BMFF file can start with.
var mp4BoxTypes = map[string]bool{
	"ftyp": true,
	"styp": true,
	"moov": true,
	"moof": true,
	"mdat": true,
	"free": true,
	"skip": true,
	"wide": true,
	"pdin": true,
	"sidx": true,
}

// probe returns the demuxer able to read a file starting with header, or nil.
func probe(header []byte) demuxer {
	switch {
	case isFLV(header):
		return &flvDemuxer{}
	case isMPEGTS(header):
		return &mpegtsDemuxer{packetSize: tsPacketSize}
	case isM2TS(header):
		return &mpegtsDemuxer{packetSize: m2tsPacketSize}
	case bytes.HasPrefix(header, ebmlMagic):
		return &matroskaDemuxer{}
	case isMP4(header):
		return &mp4Demuxer{}
	}
	return nil
}

func isMP4(header []byte) bool {
	if len(header) < 8 {
		return false
	}
	return mp4BoxTypes[string(header[4:8])]
}

func isMPEGTS(header []byte) bool {
	if len(header) == 0 || header[0] != 0x47 {
		return false
	}
	// A second sync byte is required when the header is long enough to hold it.
	if len(header) > tsPacketSize {
		return header[tsPacketSize] == 0x47
	}
	return len(header) == tsPacketSize
}

// isM2TS checks for 188 byte packets behind a 4 byte timestamp.
func isM2TS(header []byte) bool {
	if len(header) <= 4 || header[4] != 0x47 {
		return false
	}
	if len(header) > m2tsPacketSize+4 {
		return header[m2tsPacketSize+4] == 0x47
	}
	return len(header) == m2tsPacketSize
}

func isFLV(header []byte) bool {
	return len(header) >= 9 && bytes.HasPrefix(header, []byte("FLV")) && header[3] == 1
}
