package indexer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"
	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/models"
)

// MPEG-TS timestamps are 33 bit values on a 90 kHz clock.
const (
	mpegtsClockRate = 90000
	mpegtsPTSBits   = 33
)

// mpegtsDemuxer indexes MPEG transport streams. Every PES packet of an
// elementary stream is one frame. Blu-ray M2TS files use 192 byte packets
// starting with a 4 byte arrival timestamp.
type mpegtsDemuxer struct {
	packetSize int
}

func (d *mpegtsDemuxer) Name() string {
	if d.packetSize == m2tsPacketSize {
		return "m2ts"
	}
	return "mpegts"
}

// mpegtsStream is the state kept per elementary stream.
type mpegtsStream struct {
	track      *models.Track
	streamType astits.StreamType
	unwrapper  ptsUnwrapper
}

func (d *mpegtsDemuxer) Index(ctx context.Context, r *progressReader, index *models.Index) error {
	var source io.Reader = r
	if d.packetSize == m2tsPacketSize {
		source = &m2tsReader{r: bufio.NewReaderSize(r, 64*1024)}
	}
	dmx := astits.NewDemuxer(ctx, source, astits.DemuxerOptPacketSize(tsPacketSize))

	streams := map[uint16]*mpegtsStream{}
	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				return nil
			}
			return err
		}

		if data.PMT != nil {
			for _, es := range data.PMT.ElementaryStreams {
				if _, ok := streams[es.ElementaryPID]; ok {
					continue
				}
				track := &models.Track{
					ID:       int(es.ElementaryPID),
					Type:     mpegtsTrackType(es.StreamType),
					Codec:    mpegtsCodecName(es.StreamType),
					TimeBase: models.TimeBase{Num: 1, Den: mpegtsClockRate},
				}
				streams[es.ElementaryPID] = &mpegtsStream{
					track:      track,
					streamType: es.StreamType,
				}
				index.Tracks = append(index.Tracks, track)
			}
			continue
		}

		if data.PES == nil {
			continue
		}

		stream, ok := streams[data.PID]
		if !ok {
			continue
		}

		oh := data.PES.Header.OptionalHeader
		if oh == nil || oh.PTS == nil ||
			oh.PTSDTSIndicator == astits.PTSDTSIndicatorNoPTSOrDTS ||
			oh.PTSDTSIndicator == astits.PTSDTSIndicatorIsForbidden {
			log.Log.Debug("indexer.mpegtsDemuxer.Index(): PES without PTS on PID " + strconv.Itoa(int(data.PID)))
			continue
		}

		stream.track.Frames = append(stream.track.Frames, models.FrameInfo{
			PTS:      stream.unwrapper.unwrap(oh.PTS.Base),
			KeyFrame: isRandomAccess(stream.streamType, data.PES.Data),
		})
	}
}

// ptsUnwrapper turns wrapping 33 bit timestamps into a monotonic timeline.
type ptsUnwrapper struct {
	initialized bool
	offset      int64
	last        int64
}

func (u *ptsUnwrapper) unwrap(pts int64) int64 {
	const period = int64(1) << mpegtsPTSBits
	if !u.initialized {
		u.initialized = true
		u.last = pts
		return pts
	}
	value := pts + u.offset
	switch {
	case value < u.last-period/2:
		u.offset += period
		value += period
	case value > u.last+period/2 && u.offset >= period:
		// Late frame from before the wrap.
		value -= period
		return value
	}
	u.last = value
	return value
}

// isRandomAccess reports if an Annex-B access unit can be decoded on its own.
func isRandomAccess(streamType astits.StreamType, data []byte) bool {
	switch streamType {
	case astits.StreamTypeH264Video:
		au, err := h264.AnnexBUnmarshal(data)
		if err != nil {
			return false
		}
		return h264.IDRPresent(au)

	case astits.StreamTypeH265Video:
		au, err := h264.AnnexBUnmarshal(data)
		if err != nil {
			return false
		}
		return h265.IsRandomAccess(au)
	}
	return false
}

func mpegtsTrackType(streamType astits.StreamType) models.TrackType {
	switch streamType {
	case astits.StreamTypeH264Video, astits.StreamTypeH265Video,
		astits.StreamTypeMPEG1Video, astits.StreamTypeMPEG2Video,
		astits.StreamTypeMPEG4Video:
		return models.TrackTypeVideo
	case astits.StreamTypeAACAudio, astits.StreamTypeMPEG1Audio,
		astits.StreamTypeAC3Audio:
		return models.TrackTypeAudio
	case astits.StreamTypePrivateData:
		return models.TrackTypeData
	default:
		return models.TrackTypeUnknown
	}
}

func mpegtsCodecName(streamType astits.StreamType) string {
	switch streamType {
	case astits.StreamTypeH264Video:
		return "H264"
	case astits.StreamTypeH265Video:
		return "H265"
	case astits.StreamTypeMPEG1Video:
		return "MPEG1Video"
	case astits.StreamTypeMPEG2Video:
		return "MPEG2Video"
	case astits.StreamTypeMPEG4Video:
		return "MPEG4Video"
	case astits.StreamTypeAACAudio:
		return "AAC"
	case astits.StreamTypeMPEG1Audio:
		return "MPEG1Audio"
	case astits.StreamTypeAC3Audio:
		return "AC3"
	default:
		return "0x" + strconv.FormatUint(uint64(streamType), 16)
	}
}

// m2tsReader drops the arrival timestamp of each M2TS packet.
type m2tsReader struct {
	r      io.Reader
	packet [m2tsPacketSize]byte
	buf    []byte
}

func (m *m2tsReader) Read(p []byte) (int, error) {
	if len(m.buf) == 0 {
		if _, err := io.ReadFull(m.r, m.packet[:]); err != nil {
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			return 0, err
		}
		m.buf = m.packet[m2tsPacketSize-tsPacketSize:]
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}
