package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0xa0, 0x47, 0xfe, 0xc8}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testNon = []byte{0x41, 0x9a, 0x02, 0x0c, 0x01}
)

// testAccessUnit returns an Annex-B H.264 access unit.
func testAccessUnit(t *testing.T, keyFrame bool) []byte {
	t.Helper()
	au := [][]byte{testNon}
	if keyFrame {
		au = [][]byte{testSPS, testPPS, testIDR}
	}
	annexb, err := h264.AnnexBMarshal(au)
	if err != nil {
		t.Fatalf("can't marshal access unit: %v", err)
	}
	return annexb
}

type tsFrame struct {
	pts      int64
	keyFrame bool
}

// writeMPEGTS writes a transport stream with an audio stream without data
// followed by a H.264 stream carrying frames.
func writeMPEGTS(t *testing.T, frames []tsFrame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.ts")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("can't create fixture: %v", err)
	}
	defer f.Close()
	b := bufio.NewWriter(f)

	mux := astits.NewMuxer(context.Background(), b)
	if err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: 257,
		StreamType:    astits.StreamTypeAACAudio,
	}); err != nil {
		t.Fatalf("can't add audio stream: %v", err)
	}
	if err := mux.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: 256,
		StreamType:    astits.StreamTypeH264Video,
	}); err != nil {
		t.Fatalf("can't add video stream: %v", err)
	}
	mux.SetPCRPID(256)

	for i, frame := range frames {
		_, err := mux.WriteData(&astits.MuxerData{
			PID: 256,
			AdaptationField: &astits.PacketAdaptationField{
				RandomAccessIndicator: frame.keyFrame,
			},
			PES: &astits.PESData{
				Header: &astits.PESHeader{
					OptionalHeader: &astits.PESOptionalHeader{
						MarkerBits:      2,
						PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
						PTS:             &astits.ClockReference{Base: frame.pts},
					},
					StreamID: 224, // video
				},
				Data: testAccessUnit(t, frame.keyFrame),
			},
		})
		if err != nil {
			t.Fatalf("can't write frame %d: %v", i, err)
		}
	}

	if err := b.Flush(); err != nil {
		t.Fatalf("can't flush fixture: %v", err)
	}
	return path
}

type mp4Sample struct {
	duration uint32
	cto      int32
	keyFrame bool
}

// writeFragmentedMP4 writes an init segment with one video track followed
// by one media segment per entry of fragments.
func writeFragmentedMP4(t *testing.T, timescale uint32, fragments [][]mp4Sample) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.mp4")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("can't create fixture: %v", err)
	}
	defer f.Close()

	init := mp4ff.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "und")
	trackID := init.Moov.Trak.Tkhd.TrackID
	if err := init.Encode(f); err != nil {
		t.Fatalf("can't encode init segment: %v", err)
	}

	var decodeTime uint64
	for i, samples := range fragments {
		seg := mp4ff.NewMediaSegment()
		frag, err := mp4ff.CreateMultiTrackFragment(uint32(i+1), []uint32{trackID})
		if err != nil {
			t.Fatalf("can't create fragment: %v", err)
		}
		seg.AddFragment(frag)

		for _, sample := range samples {
			data := testAccessUnit(t, sample.keyFrame)
			var flags uint32 = mp4ff.NonSyncSampleFlags
			if sample.keyFrame {
				flags = mp4ff.SyncSampleFlags
			}
			fullSample := mp4ff.FullSample{
				Sample: mp4ff.Sample{
					Flags:                 flags,
					Dur:                   sample.duration,
					Size:                  uint32(len(data)),
					CompositionTimeOffset: sample.cto,
				},
				DecodeTime: decodeTime,
				Data:       data,
			}
			if err := frag.AddFullSampleToTrack(fullSample, trackID); err != nil {
				t.Fatalf("can't add sample: %v", err)
			}
			decodeTime += uint64(sample.duration)
		}

		if err := seg.Encode(f); err != nil {
			t.Fatalf("can't encode media segment: %v", err)
		}
	}
	return path
}

// writeFirstSampleFlagsMP4 writes a fragmented file with one trun of three
// samples carrying flags only for its first sample. The other samples take
// the non-sync default flags of the tfhd.
func writeFirstSampleFlagsMP4(t *testing.T, firstSampleFlags uint32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.mp4")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("can't create fixture: %v", err)
	}
	defer f.Close()

	init := mp4ff.CreateEmptyInit()
	init.AddEmptyTrack(1000, "video", "und")
	trackID := init.Moov.Trak.Tkhd.TrackID
	if err := init.Encode(f); err != nil {
		t.Fatalf("can't encode init segment: %v", err)
	}

	seg := mp4ff.NewMediaSegment()
	frag, err := mp4ff.CreateMultiTrackFragment(1, []uint32{trackID})
	if err != nil {
		t.Fatalf("can't create fragment: %v", err)
	}
	seg.AddFragment(frag)
	for i := 0; i < 3; i++ {
		data := testAccessUnit(t, i == 0)
		fullSample := mp4ff.FullSample{
			Sample: mp4ff.Sample{
				Dur:  40,
				Size: uint32(len(data)),
			},
			DecodeTime: uint64(40 * i),
			Data:       data,
		}
		if err := frag.AddFullSampleToTrack(fullSample, trackID); err != nil {
			t.Fatalf("can't add sample: %v", err)
		}
	}

	traf := frag.Moof.Traf
	traf.Tfhd.Flags |= 0x000020 // default-sample-flags-present
	traf.Tfhd.DefaultSampleFlags = mp4ff.NonSyncSampleFlags
	traf.Trun.Flags &^= mp4ff.TrunSampleFlagsPresentFlag
	traf.Trun.SetFirstSampleFlags(firstSampleFlags)

	if err := seg.Encode(f); err != nil {
		t.Fatalf("can't encode media segment: %v", err)
	}
	return path
}

// Progressive MP4 files are assembled box by box.

func box(boxType string, payload ...[]byte) []byte {
	size := 8
	for _, p := range payload {
		size += len(p)
	}
	out := make([]byte, 8, size)
	binary.BigEndian.PutUint32(out, uint32(size))
	copy(out[4:], boxType)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

func u32(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(out[4*i:], v)
	}
	return out
}

// fullBoxHeader is version 0 with no flags.
var fullBoxHeader = u32(0)

func mvhdPayload(timescale uint32) []byte {
	p := make([]byte, 100)
	binary.BigEndian.PutUint32(p[12:], timescale)
	binary.BigEndian.PutUint32(p[20:], 0x00010000) // rate
	binary.BigEndian.PutUint16(p[24:], 0x0100)     // volume
	binary.BigEndian.PutUint32(p[96:], 2)          // next track id
	return p
}

func tkhdPayload(trackID uint32) []byte {
	p := make([]byte, 84)
	binary.BigEndian.PutUint32(p, 3) // enabled, in movie
	binary.BigEndian.PutUint32(p[12:], trackID)
	return p
}

func mdhdPayload(timescale uint32) []byte {
	p := make([]byte, 24)
	binary.BigEndian.PutUint32(p[12:], timescale)
	binary.BigEndian.PutUint16(p[20:], 0x55c4) // und
	return p
}

func hdlrPayload(handlerType string) []byte {
	p := make([]byte, 24)
	copy(p[8:], handlerType)
	return append(p, []byte("Handler\x00")...)
}

type progressiveTrack struct {
	handlerType string
	timescale   uint32
	deltas      []uint32
	ctts        []int32 // nil for no ctts box
	stss        []uint32
}

// writeProgressiveMP4 writes a non fragmented file with all samples of all
// tracks in a single chunk each.
func writeProgressiveMP4(t *testing.T, tracks []progressiveTrack) string {
	t.Helper()

	sampleSize := uint32(len(testNon))
	ftyp := box("ftyp", []byte("isom"), u32(0x200), []byte("isomiso2mp41"))

	// The moov size does not depend on the chunk offsets, so the layout is
	// computed with placeholder offsets first.
	build := func(mdatStart uint32) []byte {
		var traks [][]byte
		offset := mdatStart + 8
		for i, track := range tracks {
			count := uint32(len(track.deltas))

			var stts []byte
			stts = append(stts, fullBoxHeader...)
			stts = append(stts, u32(count)...)
			for _, delta := range track.deltas {
				stts = append(stts, u32(1, delta)...)
			}

			stbl := [][]byte{
				box("stsd", fullBoxHeader, u32(0)),
				box("stts", stts),
			}
			if track.ctts != nil {
				ctts := append([]byte{}, fullBoxHeader...)
				ctts = append(ctts, u32(uint32(len(track.ctts)))...)
				for _, cto := range track.ctts {
					ctts = append(ctts, u32(1, uint32(cto))...)
				}
				stbl = append(stbl, box("ctts", ctts))
			}
			if track.stss != nil {
				stss := append([]byte{}, fullBoxHeader...)
				stss = append(stss, u32(uint32(len(track.stss)))...)
				stss = append(stss, u32(track.stss...)...)
				stbl = append(stbl, box("stss", stss))
			}
			stbl = append(stbl,
				box("stsc", fullBoxHeader, u32(1, 1, count, 1)),
				box("stsz", fullBoxHeader, u32(sampleSize, count)),
				box("stco", fullBoxHeader, u32(1, offset)),
			)
			offset += count * sampleSize

			traks = append(traks, box("trak",
				box("tkhd", tkhdPayload(uint32(i+1))),
				box("mdia",
					box("mdhd", mdhdPayload(track.timescale)),
					box("hdlr", hdlrPayload(track.handlerType)),
					box("minf", box("stbl", stbl...)),
				),
			))
		}
		return box("moov", append([][]byte{box("mvhd", mvhdPayload(1000))}, traks...)...)
	}

	moov := build(0)
	moov = build(uint32(len(ftyp) + len(moov)))

	var data []byte
	for _, track := range tracks {
		data = append(data, bytes.Repeat(testNon, len(track.deltas))...)
	}

	path := filepath.Join(t.TempDir(), "progressive.mp4")
	file := append(append(ftyp, moov...), box("mdat", data)...)
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatalf("can't write fixture: %v", err)
	}
	return path
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("can't write %s: %v", name, err)
	}
	return path
}
