package components

import (
	"fmt"
	"io"
)

// ProgressStep is the number of percentage points the indexing has to
// advance before a new line is printed.
const ProgressStep = 10.0

// Progress prints the indexing percentage on a single terminal line.
type Progress struct {
	w       io.Writer
	last    float64
	printed bool
}

func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

// Update is the progress callback handed to the indexer.
func (p *Progress) Update(current, total int64) {
	percentage := 100.0
	if total > 0 {
		percentage = float64(current) * 100 / float64(total)
	}
	if percentage-p.last > ProgressStep || percentage >= 100 {
		p.last = percentage
		p.printed = true
		fmt.Fprintf(p.w, "Indexing: %.02f%%\r", percentage)
	}
}

// Done ends the progress line so following output starts on a new one.
func (p *Progress) Done() {
	if p.printed {
		fmt.Fprintln(p.w)
	}
}
