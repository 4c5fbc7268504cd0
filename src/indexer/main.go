// Package indexer builds a frame index of a media file. The container is
// detected from the first bytes of the file and handed to a demuxer that
// records, for every track, its time base and the presentation timestamp
// of each frame.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/models"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

// probeSize is the number of bytes read to detect the container.
const probeSize = 512

// demuxer walks a whole file and fills the tracks of an index.
type demuxer interface {
	Name() string
	Index(ctx context.Context, r *progressReader, index *models.Index) error
}

// Indexer indexes a single file. It is created with CreateIndexer and is
// consumed by DoIndexing.
type Indexer struct {
	path     string
	file     *os.File
	size     int64
	demuxer  demuxer
	progress ProgressFunc
}

// CreateIndexer opens the file at path and detects its container.
func CreateIndexer(path string) (*Indexer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("can't stat %s: %w", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("can't index %s: is a directory", path)
	}

	header := make([]byte, probeSize)
	n, err := file.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		file.Close()
		return nil, fmt.Errorf("can't read %s: %w", path, err)
	}

	d := probe(header[:n])
	if d == nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	log.Log.Debug("indexer.CreateIndexer(): detected " + d.Name() + " for " + path)

	return &Indexer{
		path:    path,
		file:    file,
		size:    info.Size(),
		demuxer: d,
	}, nil
}

// SetProgressCallback sets the function receiving the indexing progress.
func (i *Indexer) SetProgressCallback(progress ProgressFunc) {
	i.progress = progress
}

// Format returns the name of the detected container.
func (i *Indexer) Format() string {
	return i.demuxer.Name()
}

// DoIndexing reads the whole file and returns its index. The first error
// aborts indexing. The file is closed when DoIndexing returns.
func (i *Indexer) DoIndexing(ctx context.Context) (*models.Index, error) {
	if i.file == nil {
		return nil, fmt.Errorf("%s: indexer already used", i.path)
	}
	defer i.Close()

	index := &models.Index{
		Path:     i.path,
		Format:   i.demuxer.Name(),
		FileSize: i.size,
	}

	r := newProgressReader(i.file, i.size, i.progress)
	if err := i.demuxer.Index(ctx, r, index); err != nil {
		return nil, fmt.Errorf("%s: indexing failed: %w", i.path, err)
	}

	for _, track := range index.Tracks {
		track.SortFrames()
		log.Log.Debug("indexer.DoIndexing(): track " + strconv.Itoa(track.ID) + " (" + track.Type.String() + ", " + track.Codec + ") has " + strconv.Itoa(track.NumFrames()) + " frames")
	}

	if i.progress != nil {
		i.progress(i.size, i.size)
	}

	log.Log.Info("indexer.DoIndexing(): indexed " + strconv.Itoa(len(index.Tracks)) + " tracks of " + i.path)
	return index, nil
}

// Close releases the file. It is safe to call more than once.
func (i *Indexer) Close() error {
	if i.file == nil {
		return nil
	}
	err := i.file.Close()
	i.file = nil
	return err
}
