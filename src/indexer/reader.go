package indexer

import (
	"io"
	"os"
)

// ProgressFunc is called while indexing with the number of bytes read so
// far and the size of the file.
type ProgressFunc func(current, total int64)

// progressReader reports the read position of the file to a ProgressFunc.
// Seeking is passed through so lazy decoders can skip payloads.
type progressReader struct {
	file     *os.File
	position int64
	total    int64
	progress ProgressFunc
}

func newProgressReader(file *os.File, total int64, progress ProgressFunc) *progressReader {
	return &progressReader{
		file:     file,
		total:    total,
		progress: progress,
	}
}

func (r *progressReader) Read(p []byte) (n int, err error) {
	n, err = r.file.Read(p)
	if n > 0 {
		r.position += int64(n)
		r.report()
	}
	return
}

func (r *progressReader) Seek(offset int64, whence int) (int64, error) {
	position, err := r.file.Seek(offset, whence)
	if err != nil {
		return position, err
	}
	r.position = position
	r.report()
	return position, nil
}

func (r *progressReader) report() {
	if r.progress == nil {
		return
	}
	current := r.position
	if current > r.total {
		current = r.total
	}
	r.progress(current, r.total)
}

var _ io.ReadSeeker = (*progressReader)(nil)
