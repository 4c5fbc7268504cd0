package components

import (
	"context"
	"io"

	"github.com/kerberos-io/timecodes/src/indexer"
	"github.com/kerberos-io/timecodes/src/log"
	"github.com/kerberos-io/timecodes/src/models"
	"github.com/kerberos-io/timecodes/src/timecodes"
)

// RunTimecodes indexes the input, extracts the timecodes of its first video
// track and writes them to output. Progress goes to stdout when enabled.
func RunTimecodes(ctx context.Context, input string, output string, configuration models.Config, stdout io.Writer) error {
	idx, err := indexer.CreateIndexer(input)
	if err != nil {
		return err
	}

	progress := NewProgress(stdout)
	if configuration.ShowProgress() {
		idx.SetProgressCallback(progress.Update)
	}

	log.Log.Debug("components.RunTimecodes(): indexing " + input + " as " + idx.Format())
	index, err := idx.DoIndexing(ctx)
	progress.Done()
	if err != nil {
		return err
	}

	tc, err := timecodes.Extract(index)
	if err != nil {
		return err
	}

	return timecodes.WriteFile(output, tc)
}
