package models

import "sort"

type TrackType int

const (
	TrackTypeUnknown TrackType = iota
	TrackTypeVideo
	TrackTypeAudio
	TrackTypeData
)

func (t TrackType) String() string {
	switch t {
	case TrackTypeVideo:
		return "video"
	case TrackTypeAudio:
		return "audio"
	case TrackTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// TimeBase is the rational unit of the raw presentation timestamps of a
// track: one PTS tick lasts Num/Den seconds.
type TimeBase struct {
	Num int64
	Den int64
}

// FrameInfo describes a single frame of a track.
type FrameInfo struct {
	PTS      int64
	KeyFrame bool
}

// Track is an indexed track of a media file. Frames are stored in
// presentation order.
type Track struct {
	// ID is the identifier of the track inside the container
	// (MP4 track id, TS elementary PID, FLV tag type, Matroska track
	// number).
	ID int

	Type TrackType

	// Codec is a short, container specific codec name (avc1, H264, ...).
	Codec string

	TimeBase TimeBase
	Frames   []FrameInfo
}

// NumFrames returns the number of frames of the track.
func (t *Track) NumFrames() int {
	return len(t.Frames)
}

// FrameInfo returns the frame at position n.
func (t *Track) FrameInfo(n int) FrameInfo {
	return t.Frames[n]
}

// SortFrames puts the frames in presentation order. Frames sharing the same
// PTS keep their decode order.
func (t *Track) SortFrames() {
	sort.SliceStable(t.Frames, func(i, j int) bool {
		return t.Frames[i].PTS < t.Frames[j].PTS
	})
}

// Index is the result of indexing a media file.
type Index struct {
	Path     string
	Format   string
	FileSize int64
	Tracks   []*Track
}

// FirstTrackOfType returns the position of the first track of the given
// type, or -1 if there is none.
func (i *Index) FirstTrackOfType(trackType TrackType) int {
	for n, track := range i.Tracks {
		if track.Type == trackType {
			return n
		}
	}
	return -1
}

// Track returns the track at position n.
func (i *Index) Track(n int) *Track {
	return i.Tracks[n]
}

// Timecodes is the frame timestamp list of a track, in seconds, in frame
// order.
type Timecodes []float64
