package indexer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/at-wat/ebml-go"
	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/models"
)

// Block timecodes are in TimecodeScale nanoseconds, 1 ms when unset.
const (
	matroskaDefaultTimecodeScale = 1000000
	nanosecondsPerSecond         = 1000000000
)

// Matroska TrackType values.
const (
	matroskaTrackVideo    = 1
	matroskaTrackAudio    = 2
	matroskaTrackSubtitle = 0x11
)

// The header is decoded into these; blocks are collected by an element
// hook so clusters never stay in memory.
type matroskaFile struct {
	Header  matroskaEBMLHeader `ebml:"EBML"`
	Segment matroskaSegment    `ebml:"Segment"`
}

type matroskaEBMLHeader struct {
	DocType string `ebml:"EBMLDocType"`
}

type matroskaSegment struct {
	Info   matroskaInfo   `ebml:"Info"`
	Tracks matroskaTracks `ebml:"Tracks"`
}

type matroskaInfo struct {
	TimecodeScale uint64 `ebml:"TimecodeScale"`
}

type matroskaTracks struct {
	TrackEntry []matroskaTrackEntry `ebml:"TrackEntry"`
}

type matroskaTrackEntry struct {
	TrackNumber     uint64 `ebml:"TrackNumber"`
	TrackType       uint64 `ebml:"TrackType"`
	CodecID         string `ebml:"CodecID"`
	DefaultDuration uint64 `ebml:"DefaultDuration"`
}

// matroskaBlock is a block with its cluster timecode applied.
type matroskaBlock struct {
	track    uint64
	timecode int64
	keyFrame bool
	frames   int
}

// matroskaDemuxer indexes Matroska and WebM files. Every frame of a
// SimpleBlock or Block is one frame; laced frames are spread by the
// DefaultDuration of their track.
type matroskaDemuxer struct{}

func (d *matroskaDemuxer) Name() string {
	return "matroska"
}

func (d *matroskaDemuxer) Index(ctx context.Context, r *progressReader, index *models.Index) error {
	collector := &matroskaCollector{}

	var file matroskaFile
	err := ebml.Unmarshal(
		bufio.NewReader(&contextReader{ctx: ctx, r: r}),
		&file,
		ebml.WithIgnoreUnknown(true),
		ebml.WithElementReadHooks(collector.onElement),
	)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	if err != nil {
		log.Log.Warning("indexer.matroskaDemuxer.Index(): the file ends inside an element, keeping " + strconv.Itoa(len(collector.blocks)) + " blocks")
	}
	collector.flushGroup()

	if file.Header.DocType != "" {
		log.Log.Debug("indexer.matroskaDemuxer.Index(): doctype " + file.Header.DocType)
	}

	scale := file.Segment.Info.TimecodeScale
	if scale == 0 {
		scale = matroskaDefaultTimecodeScale
	}
	timeBase := matroskaTimeBase(scale)

	tracks := map[uint64]*models.Track{}
	durations := map[uint64]int64{}
	for _, entry := range file.Segment.Tracks.TrackEntry {
		track := &models.Track{
			ID:       int(entry.TrackNumber),
			Type:     matroskaTrackType(entry.TrackType),
			Codec:    entry.CodecID,
			TimeBase: timeBase,
		}
		tracks[entry.TrackNumber] = track
		durations[entry.TrackNumber] = int64(entry.DefaultDuration / scale)
		index.Tracks = append(index.Tracks, track)
	}

	for _, block := range collector.blocks {
		track, ok := tracks[block.track]
		if !ok {
			continue
		}
		for lace := 0; lace < block.frames; lace++ {
			track.Frames = append(track.Frames, models.FrameInfo{
				PTS:      block.timecode + int64(lace)*durations[block.track],
				KeyFrame: block.keyFrame && lace == 0,
			})
		}
	}
	return nil
}

// matroskaCollector receives every element read by the decoder.
type matroskaCollector struct {
	clusterTimecode int64
	blocks          []matroskaBlock

	// Block of the BlockGroup being read; the group is complete once its
	// own element is reported.
	pending *matroskaBlock
}

func (c *matroskaCollector) onElement(element *ebml.Element) {
	switch element.Name {
	case "Timecode", "Timestamp":
		if element.Parent == nil || element.Parent.Name != "Cluster" {
			return
		}
		if value, ok := element.Value.(uint64); ok {
			c.clusterTimecode = int64(value)
		}
	case "SimpleBlock":
		if block, ok := blockOf(element.Value); ok {
			c.blocks = append(c.blocks, c.newBlock(block, block.Keyframe))
		}
	case "Block":
		if block, ok := blockOf(element.Value); ok {
			b := c.newBlock(block, true)
			c.pending = &b
		}
	case "ReferenceBlock":
		if c.pending != nil {
			c.pending.keyFrame = false
		}
	case "BlockGroup":
		c.flushGroup()
	}
}

func (c *matroskaCollector) newBlock(block ebml.Block, keyFrame bool) matroskaBlock {
	frames := len(block.Data)
	if frames == 0 {
		frames = 1
	}
	return matroskaBlock{
		track:    block.TrackNumber,
		timecode: c.clusterTimecode + int64(block.Timecode),
		keyFrame: keyFrame,
		frames:   frames,
	}
}

func (c *matroskaCollector) flushGroup() {
	if c.pending == nil {
		return
	}
	c.blocks = append(c.blocks, *c.pending)
	c.pending = nil
}

func blockOf(value interface{}) (ebml.Block, bool) {
	switch block := value.(type) {
	case ebml.Block:
		return block, true
	case *ebml.Block:
		if block != nil {
			return *block, true
		}
	}
	return ebml.Block{}, false
}

func matroskaTrackType(trackType uint64) models.TrackType {
	switch trackType {
	case matroskaTrackVideo:
		return models.TrackTypeVideo
	case matroskaTrackAudio:
		return models.TrackTypeAudio
	case matroskaTrackSubtitle:
		return models.TrackTypeData
	}
	return models.TrackTypeUnknown
}

// matroskaTimeBase is TimecodeScale/1e9 seconds in lowest terms.
func matroskaTimeBase(scale uint64) models.TimeBase {
	num, den := int64(scale), int64(nanosecondsPerSecond)
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	return models.TimeBase{Num: num / a, Den: den / a}
}

// contextReader stops a decoder that can't be cancelled itself.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
