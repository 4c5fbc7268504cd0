package indexer

import (
	"context"
	"errors"
	"strconv"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/models"
)

// sample_is_non_sync_sample bit of ISO/IEC 14496-12 sample flags.
const sampleIsNonSyncFlag = 0x00010000

// mp4Demuxer indexes progressive and fragmented ISO BMFF files (MP4, MOV,
// fMP4). The time base of a track is 1/mdhd.timescale.
type mp4Demuxer struct{}

func (d *mp4Demuxer) Name() string {
	return "mp4"
}

func (d *mp4Demuxer) Index(ctx context.Context, r *progressReader, index *models.Index) error {
	parsedFile, err := mp4ff.DecodeFile(r, mp4ff.WithDecodeMode(mp4ff.DecModeLazyMdat))
	if err != nil {
		return err
	}
	if parsedFile.Moov == nil {
		return errors.New("no moov box found")
	}

	tracks := map[uint32]*models.Track{}
	nextDecodeTime := map[uint32]uint64{}
	for _, trak := range parsedFile.Moov.Traks {
		if trak.Tkhd == nil || trak.Mdia == nil || trak.Mdia.Mdhd == nil {
			continue
		}
		trackID := trak.Tkhd.TrackID
		track, endTime := mp4Track(trak)
		if track.TimeBase.Den == 0 {
			return errors.New("track " + strconv.Itoa(int(trackID)) + " has a zero timescale")
		}
		tracks[trackID] = track
		nextDecodeTime[trackID] = endTime
		index.Tracks = append(index.Tracks, track)
	}

	trexs := map[uint32]*mp4ff.TrexBox{}
	if parsedFile.Moov.Mvex != nil {
		for _, child := range parsedFile.Moov.Mvex.Children {
			if trex, ok := child.(*mp4ff.TrexBox); ok {
				trexs[trex.TrackID] = trex
			}
		}
	}

	for _, segment := range parsedFile.Segments {
		for _, fragment := range segment.Fragments {
			if err := ctx.Err(); err != nil {
				return err
			}
			if fragment.Moof == nil {
				continue
			}
			for _, traf := range fragment.Moof.Trafs {
				if traf.Tfhd == nil {
					continue
				}
				trackID := traf.Tfhd.TrackID
				track, ok := tracks[trackID]
				if !ok {
					log.Log.Warning("indexer.mp4Demuxer.Index(): fragment references unknown track " + strconv.Itoa(int(trackID)))
					continue
				}
				nextDecodeTime[trackID] = addFragmentFrames(track, traf, trexs[trackID], nextDecodeTime[trackID])
			}
		}
	}

	return nil
}

// mp4Track builds a track from the sample table of trak. The returned end
// time is the decode time following the last sample, where a following
// fragment without tfdt continues.
func mp4Track(trak *mp4ff.TrakBox) (*models.Track, uint64) {
	mdia := trak.Mdia
	track := &models.Track{
		ID:       int(trak.Tkhd.TrackID),
		Type:     mp4TrackType(mdia),
		TimeBase: models.TimeBase{Num: 1, Den: int64(mdia.Mdhd.Timescale)},
	}

	if mdia.Minf == nil || mdia.Minf.Stbl == nil {
		return track, 0
	}
	stbl := mdia.Minf.Stbl

	if stbl.Stsd != nil && len(stbl.Stsd.Children) > 0 {
		track.Codec = stbl.Stsd.Children[0].Type()
	}

	if stbl.Stts == nil {
		return track, 0
	}

	var syncSamples map[uint32]bool
	if stbl.Stss != nil {
		syncSamples = make(map[uint32]bool, len(stbl.Stss.SampleNumber))
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	var decodeTime uint64
	sampleNr := uint32(1)
	for i, count := range stbl.Stts.SampleCount {
		delta := stbl.Stts.SampleTimeDelta[i]
		for j := uint32(0); j < count; j++ {
			pts := int64(decodeTime)
			if stbl.Ctts != nil {
				pts += int64(stbl.Ctts.GetCompositionTimeOffset(sampleNr))
			}
			track.Frames = append(track.Frames, models.FrameInfo{
				PTS:      pts,
				KeyFrame: syncSamples == nil || syncSamples[sampleNr],
			})
			decodeTime += uint64(delta)
			sampleNr++
		}
	}

	return track, decodeTime
}

// addFragmentFrames appends the samples of all truns of traf to track and
// returns the decode time following the last one.
func addFragmentFrames(track *models.Track, traf *mp4ff.TrafBox, trex *mp4ff.TrexBox, decodeTime uint64) uint64 {
	tfhd := traf.Tfhd
	if traf.Tfdt != nil {
		decodeTime = traf.Tfdt.BaseMediaDecodeTime()
	}

	defaultDuration := uint32(0)
	defaultFlags := uint32(0)
	if trex != nil {
		defaultDuration = trex.DefaultSampleDuration
		defaultFlags = trex.DefaultSampleFlags
	}
	if tfhd.HasDefaultSampleDuration() {
		defaultDuration = tfhd.DefaultSampleDuration
	}
	if tfhd.HasDefaultSampleFlags() {
		defaultFlags = tfhd.DefaultSampleFlags
	}

	for _, trun := range traf.Truns {
		for i, sample := range trun.Samples {
			duration := defaultDuration
			if trun.HasSampleDuration() {
				duration = sample.Dur
			}

			var keyFrame bool
			switch {
			case trun.HasSampleFlags():
				keyFrame = sample.Flags&sampleIsNonSyncFlag == 0
			case i == 0 && trun.HasFirstSampleFlags():
				flags, _ := trun.FirstSampleFlags()
				keyFrame = flags&sampleIsNonSyncFlag == 0
			default:
				keyFrame = defaultFlags&sampleIsNonSyncFlag == 0
			}

			pts := int64(decodeTime)
			if trun.HasSampleCompositionTimeOffset() {
				pts += int64(sample.CompositionTimeOffset)
			}

			track.Frames = append(track.Frames, models.FrameInfo{
				PTS:      pts,
				KeyFrame: keyFrame,
			})
			decodeTime += uint64(duration)
		}
	}
	return decodeTime
}

func mp4TrackType(mdia *mp4ff.MdiaBox) models.TrackType {
	if mdia.Hdlr == nil {
		return models.TrackTypeUnknown
	}
	switch mdia.Hdlr.HandlerType {
	case "vide":
		return models.TrackTypeVideo
	case "soun":
		return models.TrackTypeAudio
	case "subt", "text", "sbtl", "clcp", "meta", "hint", "tmcd":
		return models.TrackTypeData
	default:
		return models.TrackTypeUnknown
	}
}
