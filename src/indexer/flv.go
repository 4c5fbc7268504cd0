package indexer

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"
	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/models"
	codec "github.com/yapingcat/gomedia/go-codec"
	flv "github.com/yapingcat/gomedia/go-flv"
)

// FLV tag timestamps are in milliseconds.
const flvClockRate = 1000

// Track ids are the FLV tag types.
const (
	flvAudioTagType = 8
	flvVideoTagType = 9
)

const (
	flvHeaderSize     = 9
	flvTagHeaderSize  = 11
	flvPrevTagSize    = 4
	flvChunkSize      = 64 * 1024
	flvEncryptedFlag  = 0x20
	flvTagTypeMask    = 0x1f
	flvExVideoHeader  = 0x80
	flvKeyFrame       = 1
	flvCommandFrame   = 5
	flvCodecAVC       = 7
	flvCodecHEVC      = 12
	flvSoundFormatAAC = 10
)

// AVC and HEVC packet types.
const (
	flvPacketSequenceHeader = 0
	flvPacketEndOfSequence  = 2
)

// Enhanced FLV packet types.
const (
	flvExPacketCodedFrames  = 1
	flvExPacketCodedFramesX = 3
)

// flvDemuxer indexes FLV files. Every video tag carrying a picture is one
// frame. Tags are read here; only AVC and HEVC payloads go through the
// gomedia tag demuxers.
type flvDemuxer struct{}

func (d *flvDemuxer) Name() string {
	return "flv"
}

func (d *flvDemuxer) Index(ctx context.Context, r *progressReader, index *models.Index) error {
	br := bufio.NewReaderSize(r, flvChunkSize)

	header := make([]byte, flvHeaderSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("can't read flv header: %w", err)
	}
	dataOffset := binary.BigEndian.Uint32(header[5:9])
	if dataOffset < flvHeaderSize {
		return fmt.Errorf("invalid flv data offset %d", dataOffset)
	}
	if _, err := br.Discard(int(dataOffset-flvHeaderSize) + flvPrevTagSize); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	collector := newFLVCollector(index)
	tagHeader := make([]byte, flvTagHeaderSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := io.ReadFull(br, tagHeader); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("truncated flv tag header: %w", err)
		}
		if tagHeader[0]&flvEncryptedFlag != 0 {
			return errors.New("encrypted flv tags are not supported")
		}
		tagType := tagHeader[0] & flvTagTypeMask
		size := uint32(tagHeader[1])<<16 | uint32(tagHeader[2])<<8 | uint32(tagHeader[3])
		timestamp := uint32(tagHeader[7])<<24 | uint32(tagHeader[4])<<16 | uint32(tagHeader[5])<<8 | uint32(tagHeader[6])

		body := make([]byte, size)
		if _, err := io.ReadFull(br, body); err != nil {
			return fmt.Errorf("truncated flv tag at %d ms: %w", timestamp, err)
		}

		switch tagType {
		case flvVideoTagType:
			if err := collector.addVideoTag(timestamp, body); err != nil {
				return fmt.Errorf("corrupt flv tag at %d ms: %w", timestamp, err)
			}
		case flvAudioTagType:
			collector.addAudioTag(timestamp, body)
		}

		// The size of the previous tag is not needed, a missing one ends the file.
		if _, err := br.Discard(flvPrevTagSize); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// videoTagDecoder is implemented by the gomedia AVC and HEVC tag demuxers.
type videoTagDecoder interface {
	Decode(data []byte) error
}

// flvCollector turns FLV tags into tracks.
type flvCollector struct {
	index *models.Index
	video *models.Track
	audio *models.Track

	avc  videoTagDecoder
	hevc videoTagDecoder

	// Last access unit handed out by a tag demuxer.
	frameCodec codec.CodecID
	frame      []byte
}

func newFLVCollector(index *models.Index) *flvCollector {
	c := &flvCollector{index: index}

	avc := flv.NewAVCTagDemuxer()
	avc.OnFrame(c.onVideoFrame)
	c.avc = avc

	hevc := flv.NewHevcTagDemuxer()
	hevc.OnFrame(c.onVideoFrame)
	c.hevc = hevc

	return c
}

func (c *flvCollector) onVideoFrame(cid codec.CodecID, frame []byte, cts int) {
	c.frameCodec = cid
	c.frame = frame
}

func (c *flvCollector) addVideoTag(timestamp uint32, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if body[0]&flvExVideoHeader != 0 {
		return c.addExVideoTag(timestamp, body)
	}

	frameType := body[0] >> 4
	codecID := body[0] & 0x0f
	if frameType == flvCommandFrame {
		return nil
	}

	pts := int64(timestamp)
	keyFrame := frameType == flvKeyFrame

	if codecID == flvCodecAVC || codecID == flvCodecHEVC {
		if len(body) < 5 {
			return fmt.Errorf("video tag of %d bytes", len(body))
		}
		switch body[1] {
		case flvPacketSequenceHeader:
			if err := c.decodeVideoTag(codecID, body); err != nil {
				log.Log.Warning("indexer.flvCollector.addVideoTag(): can't read the decoder configuration: " + err.Error())
			}
			return nil
		case flvPacketEndOfSequence:
			return nil
		}

		pts += flvCompositionTime(body[2:5])
		if err := checkNALULengths(body[5:]); err != nil {
			return err
		}

		c.frame = nil
		if err := c.decodeVideoTag(codecID, body); err != nil {
			return err
		}
		if c.frame != nil && isKeyFrame(c.frameCodec, c.frame) {
			keyFrame = true
		}
	}

	c.addVideoFrame(flvVideoCodecName(codecID), pts, keyFrame)
	return nil
}

// addExVideoTag handles the enhanced FLV video tag header with a FourCC.
func (c *flvCollector) addExVideoTag(timestamp uint32, body []byte) error {
	if len(body) < 5 {
		return fmt.Errorf("video tag of %d bytes", len(body))
	}
	frameType := (body[0] >> 4) & 0x07
	packetType := body[0] & 0x0f
	fourCC := string(body[1:5])
	if frameType == flvCommandFrame {
		return nil
	}

	pts := int64(timestamp)
	switch packetType {
	case flvExPacketCodedFrames:
		if fourCC == "avc1" || fourCC == "hvc1" {
			if len(body) < 8 {
				return fmt.Errorf("video tag of %d bytes", len(body))
			}
			pts += flvCompositionTime(body[5:8])
		}
	case flvExPacketCodedFramesX:
	default:
		return nil
	}

	c.addVideoFrame(fourCC, pts, frameType == flvKeyFrame)
	return nil
}

// decodeVideoTag hands a tag body to the gomedia demuxer of its codec. The
// body is converted to Annex-B in place.
func (c *flvCollector) decodeVideoTag(codecID byte, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt flv tag: %v", r)
		}
	}()
	if codecID == flvCodecHEVC {
		return c.hevc.Decode(body)
	}
	return c.avc.Decode(body)
}

func (c *flvCollector) addVideoFrame(codecName string, pts int64, keyFrame bool) {
	if c.video == nil {
		c.video = c.addTrack(flvVideoTagType, models.TrackTypeVideo, codecName)
	}
	c.video.Frames = append(c.video.Frames, models.FrameInfo{
		PTS:      pts,
		KeyFrame: keyFrame,
	})
}

// addAudioTag counts audio frames without decoding them.
func (c *flvCollector) addAudioTag(timestamp uint32, body []byte) {
	if len(body) == 0 {
		return
	}
	soundFormat := body[0] >> 4
	if soundFormat == flvSoundFormatAAC && len(body) > 1 && body[1] == flvPacketSequenceHeader {
		return
	}

	if c.audio == nil {
		c.audio = c.addTrack(flvAudioTagType, models.TrackTypeAudio, flvAudioCodecName(soundFormat))
	}
	c.audio.Frames = append(c.audio.Frames, models.FrameInfo{
		PTS:      int64(timestamp),
		KeyFrame: true,
	})
}

func (c *flvCollector) addTrack(id int, trackType models.TrackType, codecName string) *models.Track {
	track := &models.Track{
		ID:       id,
		Type:     trackType,
		Codec:    codecName,
		TimeBase: models.TimeBase{Num: 1, Den: flvClockRate},
	}
	c.index.Tracks = append(c.index.Tracks, track)
	return track
}

// flvCompositionTime reads the signed 24 bit composition time offset.
func flvCompositionTime(b []byte) int64 {
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return int64(int32(v<<8) >> 8)
}

// checkNALULengths verifies the 4 byte length prefixes of an AVCC payload.
func checkNALULengths(data []byte) error {
	for len(data) > 0 {
		if len(data) < 4 {
			return fmt.Errorf("NALU length field of %d bytes", len(data))
		}
		size := binary.BigEndian.Uint32(data)
		if uint64(size) > uint64(len(data)-4) {
			return fmt.Errorf("NALU length %d exceeds the %d remaining bytes", size, len(data)-4)
		}
		data = data[4+size:]
	}
	return nil
}

// isKeyFrame inspects the Annex-B access units handed out by the tag
// demuxers.
func isKeyFrame(cid codec.CodecID, frame []byte) bool {
	au, err := h264.AnnexBUnmarshal(frame)
	if err != nil {
		return false
	}
	switch cid {
	case codec.CODECID_VIDEO_H264:
		return h264.IDRPresent(au)
	case codec.CODECID_VIDEO_H265:
		return h265.IsRandomAccess(au)
	}
	return false
}

func flvVideoCodecName(codecID byte) string {
	switch codecID {
	case flvCodecAVC:
		return flvCodecName(codec.CODECID_VIDEO_H264)
	case flvCodecHEVC:
		return flvCodecName(codec.CODECID_VIDEO_H265)
	case 2:
		return "H263"
	case 3:
		return "ScreenVideo"
	case 4:
		return "VP6"
	case 5:
		return "VP6A"
	case 6:
		return "ScreenVideo2"
	}
	return "0x" + strconv.FormatUint(uint64(codecID), 16)
}

func flvAudioCodecName(soundFormat byte) string {
	switch soundFormat {
	case 2, 14:
		return flvCodecName(codec.CODECID_AUDIO_MP3)
	case 7:
		return flvCodecName(codec.CODECID_AUDIO_G711A)
	case 8:
		return flvCodecName(codec.CODECID_AUDIO_G711U)
	case flvSoundFormatAAC:
		return flvCodecName(codec.CODECID_AUDIO_AAC)
	case 0, 3:
		return "PCM"
	case 1:
		return "ADPCM"
	case 4, 5, 6:
		return "Nellymoser"
	case 11:
		return "Speex"
	}
	return "0x" + strconv.FormatUint(uint64(soundFormat), 16)
}

func flvCodecName(cid codec.CodecID) string {
	switch cid {
	case codec.CODECID_VIDEO_H264:
		return "H264"
	case codec.CODECID_VIDEO_H265:
		return "H265"
	case codec.CODECID_AUDIO_AAC:
		return "AAC"
	case codec.CODECID_AUDIO_G711A:
		return "G711A"
	case codec.CODECID_AUDIO_G711U:
		return "G711U"
	case codec.CODECID_AUDIO_MP3:
		return "MP3"
	}
	return "unknown"
}
