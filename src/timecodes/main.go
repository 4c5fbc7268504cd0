// Package timecodes turns a frame index into a "timecode format v2" file.
package timecodes

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/models"
)

const (
	Header = "# timecode format v2"

	// OutputSuffix replaces the extension of the input when no output path
	// is given.
	OutputSuffix = "_timecodes.txt"
)

var (
	ErrNoVideoTrack = errors.New("no video tracks found")
	ErrOpenOutput   = errors.New("failed to open output file")
)

// Extract returns the time of every frame of the first video track of the
// index, in seconds, in frame order.
func Extract(index *models.Index) (models.Timecodes, error) {
	trackNumber := index.FirstTrackOfType(models.TrackTypeVideo)
	if trackNumber < 0 {
		return nil, ErrNoVideoTrack
	}

	track := index.Track(trackNumber)
	timeBase := track.TimeBase
	if timeBase.Den == 0 {
		return nil, fmt.Errorf("track %d has an invalid time base %d/%d", track.ID, timeBase.Num, timeBase.Den)
	}

	numFrames := track.NumFrames()
	timecodes := make(models.Timecodes, numFrames)
	for i := 0; i < numFrames; i++ {
		frameInfo := track.FrameInfo(i)
		timecodes[i] = float64(frameInfo.PTS*timeBase.Num) / float64(timeBase.Den)
	}

	log.Log.Debug("timecodes.Extract(): " + strconv.Itoa(numFrames) + " frames from track " + strconv.Itoa(track.ID) +
		" with time base " + strconv.FormatInt(timeBase.Num, 10) + "/" + strconv.FormatInt(timeBase.Den, 10))
	return timecodes, nil
}

// Offset is the value added to every timecode so the first one is zero.
func Offset(timecodes models.Timecodes) float64 {
	if len(timecodes) == 0 || timecodes[0] == 0 {
		return 0
	}
	return -timecodes[0]
}

// Normalize returns a copy of the timecodes shifted so the first one is zero.
func Normalize(timecodes models.Timecodes) models.Timecodes {
	offset := Offset(timecodes)
	normalized := make(models.Timecodes, len(timecodes))
	for i, v := range timecodes {
		normalized[i] = v + offset
	}
	return normalized
}

// Write writes the header followed by one normalized timecode per line.
func Write(w io.Writer, timecodes models.Timecodes) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return err
	}
	buf := make([]byte, 0, 32)
	for _, v := range Normalize(timecodes) {
		buf = strconv.AppendFloat(buf[:0], v, 'f', 6, 64)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile creates (or truncates) the file at path and writes the
// timecodes to it.
func WriteFile(path string, timecodes models.Timecodes) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrOpenOutput, path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("can't close %s: %w", path, closeErr)
		}
	}()

	log.Log.Info(fmt.Sprintf("Writing to %s, offset: %.06f, frames: %d", path, Offset(timecodes), len(timecodes)))

	if err = Write(file, timecodes); err != nil {
		return fmt.Errorf("can't write %s: %w", path, err)
	}
	return nil
}

// DefaultOutputPath derives the output path from the input path: the last
// extension is stripped and OutputSuffix appended.
func DefaultOutputPath(input string) string {
	base := input
	if idx := strings.LastIndex(input, "."); idx >= 0 {
		base = input[:idx]
	}
	return base + OutputSuffix
}
