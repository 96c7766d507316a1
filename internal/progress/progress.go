// Package progress renders byte-count progress bars for long copies.
package progress

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar is an io.Writer that advances a progress bar by the number of bytes
// written. A Bar created without an output writer counts nothing and prints nothing.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New returns a bar printing to w. A total of -1 renders a spinner.
func New(w io.Writer, total int64, description string) *Bar {
	if w == nil {
		return &Bar{}
	}
	if total <= 0 {
		total = -1
	}
	return &Bar{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)}
}

func (b *Bar) Write(p []byte) (int, error) {
	if b.bar == nil {
		return len(p), nil
	}
	return b.bar.Write(p)
}

// Finish completes the bar. It is safe to call more than once.
func (b *Bar) Finish() {
	if b.bar == nil || b.bar.IsFinished() {
		return
	}
	_ = b.bar.Finish()
}
