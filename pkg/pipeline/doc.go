// Package pipeline runs a memories export end to end.
//
// A run checks for ffmpeg and ffprobe, takes the run lock on the processed
// directory and opens the ledger before any request is made. Entries are then
// handed to the download worker pool; each worker extracts, composites and
// commits the entry it fetched, so one slow or broken memory never holds up
// another. Every entry ends Merged, Failed or Skipped and is counted once.
//
// Usage:
//
//	p, err := pipeline.New(pipeline.Options{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	summary, err := p.Run(ctx, entries)
//	if err != nil {
//	    return err // nothing was processed
//	}
//	fmt.Println(summary.Render())
package pipeline
