package downloader

import (
	"bytes"
	"regexp"
	"strconv"

	"tubefetch/internal/consts"
)

// rePercent matches "[download]  42.3% of ..." lines.
var rePercent = regexp.MustCompile(`\[download\]\s+(\d{1,3}(?:\.\d+)?)%`)

// ParseProgress extracts the percentage from a yt-dlp progress line.
func ParseProgress(line string) (float64, bool) {
	m := rePercent.FindStringSubmatch(line)
	if len(m) < 2 { //nolint:mnd
		return 0, false
	}

	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > consts.FullProgress {
		return 0, false
	}

	return pct, true
}

// splitLinesAny is a bufio.SplitFunc that splits on \n, \r or \r\n.
// yt-dlp rewrites its progress line with \r when stdout is not a pipe.
func splitLinesAny(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// need more data to know whether \n follows
			return 0, nil, nil
		}

		return advance, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// progressTracker maps per-segment readings onto one 0..100 scale.
// A reading lower than the previous one starts the next segment.
// Readings stop at 99; only finish reports 100.
type progressTracker struct {
	segments int
	index    int
	last     float64
	reported int
	report   func(int)
}

func newProgressTracker(segments int, report func(int)) *progressTracker {
	if segments < 1 {
		segments = 1
	}

	return &progressTracker{segments: segments, reported: -1, report: report}
}

func (p *progressTracker) observe(pct float64) {
	if pct < p.last && p.index < p.segments-1 {
		p.index++
	}

	p.last = pct

	overall := int((float64(p.index)*consts.FullProgress + pct) / float64(p.segments))
	overall = min(max(overall, 0), consts.FullProgress-1)

	if overall == consts.FullProgress-1 || overall-p.reported >= consts.ProgressStep || p.reported < 0 {
		p.emit(overall)
	}
}

// finish reports 100 unless it was already reported.
func (p *progressTracker) finish() {
	p.emit(consts.FullProgress)
}

func (p *progressTracker) emit(overall int) {
	if overall <= p.reported {
		return
	}

	p.reported = overall
	if p.report != nil {
		p.report(overall)
	}
}
