// Package progress implements the throttled progress reporting shared by all
// downloaders and uploaders. Reporting is best-effort: a reporter never fails
// its caller, it only edits a status message when the sample is worth showing.
package progress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"url-courier/internal/fileutil"
	"url-courier/internal/transport"
)

// Phase tags a progress sample with the stage of the transfer. Presentation
// derives from the tag, never from parsing status text.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseDownloading
	PhaseTorrenting
	PhaseUploading
	PhaseProcessing
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "Connecting"
	case PhaseDownloading:
		return "Downloading"
	case PhaseTorrenting:
		return "Torrenting"
	case PhaseUploading:
		return "Uploading"
	default:
		return "Processing"
	}
}

// Sample is one progress observation. Total == 0 means the total is not yet
// known (e.g. torrent metadata phase) and renders as "calculating".
type Sample struct {
	Current int64
	Total   int64
	Phase   Phase
	Detail  string
}

// Func is the callback signature every downloader and uploader drives.
type Func func(ctx context.Context, s Sample)

// DefaultInterval is the minimum gap between status edits for transfer
// progress. Cooldown countdown messages use a larger interval.
const DefaultInterval = 1500 * time.Millisecond

// Percentage computes min(100, current*100/total), with 0 for an unknown or
// empty total.
func Percentage(current, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(current) * 100 / float64(total)
	if pct > 100 {
		return 100
	}
	return pct
}

// Bar renders a fixed-width progress bar.
func Bar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	switch {
	case filled >= width:
		return strings.Repeat("█", width)
	case filled > 0:
		return strings.Repeat("█", filled) + "▓" + strings.Repeat("░", width-filled-1)
	default:
		return strings.Repeat("░", width)
	}
}

// Reporter throttles and deduplicates edits to a single status message. An
// update goes out only when the minimum interval elapsed or the percentage
// moved at least one point, and then only when the rendered text differs from
// the last emitted text. Transport errors classified as unchanged or
// not-found are expected noise and dropped; anything else is logged once and
// reporting continues.
type Reporter struct {
	messenger transport.Messenger
	ref       transport.MessageRef
	logger    *logrus.Entry
	interval  time.Duration
	start     time.Time

	mu          sync.Mutex
	lastUpdate  time.Time
	lastPercent float64
	lastText    string
	errLogged   bool
}

func NewReporter(m transport.Messenger, ref transport.MessageRef, logger *logrus.Entry) *Reporter {
	return &Reporter{
		messenger: m,
		ref:       ref,
		logger:    logger,
		interval:  DefaultInterval,
		start:     time.Now(),
	}
}

// Callback adapts the reporter to the Func signature downloaders consume.
func (r *Reporter) Callback() Func {
	return func(ctx context.Context, s Sample) {
		r.Report(ctx, s)
	}
}

// Report emits a sample. It never returns an error to the caller.
func (r *Reporter) Report(ctx context.Context, s Sample) {
	now := time.Now()
	pct := Percentage(s.Current, s.Total)

	r.mu.Lock()
	if now.Sub(r.lastUpdate) < r.interval && absFloat(pct-r.lastPercent) < 1 {
		r.mu.Unlock()
		return
	}

	text := r.render(now, s, pct)
	if text == r.lastText {
		r.mu.Unlock()
		return
	}
	r.lastUpdate = now
	r.lastPercent = pct
	r.lastText = text
	r.mu.Unlock()

	if err := r.messenger.EditStatus(ctx, r.ref, text); err != nil {
		switch transport.ClassifyEditError(err) {
		case transport.EditErrorUnchanged, transport.EditErrorNotFound:
			// steady-state noise while messages are edited or torn down
		default:
			r.mu.Lock()
			logged := r.errLogged
			r.errLogged = true
			r.mu.Unlock()
			if !logged {
				r.logger.Warnf("progress edit failed: %v", err)
			}
		}
	}
}

func (r *Reporter) render(now time.Time, s Sample, pct float64) string {
	elapsed := now.Sub(r.start)

	var b strings.Builder
	if s.Detail != "" {
		fmt.Fprintf(&b, "%s — %s\n", s.Phase, s.Detail)
	} else {
		fmt.Fprintf(&b, "%s\n", s.Phase)
	}

	if s.Current == 0 || elapsed <= 0 {
		fmt.Fprintf(&b, "[%s] 0.0%%\n", Bar(0, 20))
		b.WriteString("Size: calculating\n")
		b.WriteString("Speed: connecting\n")
		b.WriteString("ETA: calculating")
		return b.String()
	}

	fmt.Fprintf(&b, "[%s] %.1f%%\n", Bar(pct, 20), pct)
	if s.Total > 0 {
		fmt.Fprintf(&b, "Size: %s / %s\n", fileutil.FormatBytes(s.Current), fileutil.FormatBytes(s.Total))
	} else {
		fmt.Fprintf(&b, "Size: %s / calculating\n", fileutil.FormatBytes(s.Current))
	}

	speed := float64(s.Current) / elapsed.Seconds()
	fmt.Fprintf(&b, "Speed: %s\n", fileutil.FormatSpeed(speed))

	if s.Total > 0 && speed > 0 {
		eta := time.Duration(float64(s.Total-s.Current)/speed) * time.Second
		fmt.Fprintf(&b, "ETA: %s, elapsed %s", fileutil.FormatDuration(eta), fileutil.FormatDuration(elapsed))
	} else {
		fmt.Fprintf(&b, "ETA: calculating, elapsed %s", fileutil.FormatDuration(elapsed))
	}
	return b.String()
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
