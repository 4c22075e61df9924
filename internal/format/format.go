// Package format picks concrete stream formats for a requested quality tier.
// Selection is a pure function of its inputs and every ordering is a total order.
package format

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
)

// Kind is the kind of quality tier.
type Kind int

// Quality tier kinds.
const (
	KindSource Kind = iota
	KindAudio
	KindHeight
	KindOverride
)

const (
	overridePrefix = "override:"
	codecNone      = "none"
)

// Target is a requested quality tier.
type Target struct {
	Kind   Kind
	Height int
	// VideoID and AudioID hold explicit format ids for KindOverride.
	VideoID string
	AudioID string
}

// ParseTarget accepts "audio", "source", a height such as "1080" or "720p",
// and "override:<id>[+<id>]".
func ParseTarget(s string) (Target, error) {
	raw := strings.TrimSpace(s)
	lower := strings.ToLower(raw)

	switch lower {
	case "audio", "audio-only", "audio only", "audioonly":
		return Target{Kind: KindAudio}, nil
	case "source", "best", "max":
		return Target{Kind: KindSource}, nil
	}

	if strings.HasPrefix(lower, overridePrefix) {
		ids := strings.TrimSpace(raw[len(overridePrefix):])

		video, audio, _ := strings.Cut(ids, "+")
		video, audio = strings.TrimSpace(video), strings.TrimSpace(audio)

		if video == "" || strings.Contains(audio, "+") {
			return Target{}, fmt.Errorf("%w: %q", errs.ErrInvalidTarget, s)
		}

		return Target{Kind: KindOverride, VideoID: video, AudioID: audio}, nil
	}

	height, err := strconv.Atoi(strings.TrimSuffix(lower, "p"))
	if err != nil || height <= 0 {
		return Target{}, fmt.Errorf("%w: %q", errs.ErrInvalidTarget, s)
	}

	return Target{Kind: KindHeight, Height: height}, nil
}

func (t Target) String() string {
	switch t.Kind {
	case KindAudio:
		return "audio"
	case KindHeight:
		return strconv.Itoa(t.Height)
	case KindOverride:
		if t.AudioID == "" {
			return overridePrefix + t.VideoID
		}

		return overridePrefix + t.VideoID + "+" + t.AudioID
	default:
		return "source"
	}
}

// Preferences tune tie-breaks.
type Preferences struct {
	// Languages is an ordered allow-list of audio languages; earlier entries win.
	Languages []string
}

// Selection is the outcome of Select.
// At least one of VideoFormat and AudioFormat is set. When Muxed is set, AudioFormat is empty.
type Selection struct {
	VideoFormat string  `json:"videoFormat,omitempty"`
	AudioFormat string  `json:"audioFormat,omitempty"`
	Resolution  string  `json:"resolution"`
	FPS         float64 `json:"fps,omitempty"`
	VideoExt    string  `json:"videoExt,omitempty"`
	AudioExt    string  `json:"audioExt,omitempty"`
	Muxed       bool    `json:"muxed"`
	// Fallback is set when the requested streams were unavailable and a combined
	// stream or a different track layout was used instead.
	Fallback bool `json:"fallback"`
}

// FormatSpec returns the yt-dlp -f argument.
func (s Selection) FormatSpec() string {
	switch {
	case s.VideoFormat != "" && s.AudioFormat != "":
		return s.VideoFormat + "+" + s.AudioFormat
	case s.VideoFormat != "":
		return s.VideoFormat
	default:
		return s.AudioFormat
	}
}

// Split reports whether two streams are fetched and merged.
func (s Selection) Split() bool {
	return s.VideoFormat != "" && s.AudioFormat != ""
}

// OutputExt returns the container of the final artifact.
func (s Selection) OutputExt() string {
	if !s.Split() {
		if s.VideoFormat != "" {
			return orDefault(s.VideoExt, "mp4")
		}

		return orDefault(s.AudioExt, "m4a")
	}

	switch {
	case s.VideoExt == "mp4" && (s.AudioExt == "m4a" || s.AudioExt == "mp4"):
		return "mp4"
	case s.VideoExt == "webm" && s.AudioExt == "webm":
		return "webm"
	default:
		return "mkv"
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

type catalog struct {
	video []entity.Format
	audio []entity.Format
	muxed []entity.Format
	prefs Preferences
}

func split(formats []entity.Format, prefs Preferences) catalog {
	c := catalog{prefs: prefs}

	for _, f := range formats {
		if f.ID == "" {
			continue
		}

		noVideo := f.VCodec == codecNone
		noAudio := f.ACodec == codecNone

		switch {
		case noVideo && noAudio:
			// storyboards and other non-media entries
		case noVideo:
			c.audio = append(c.audio, f)
		case noAudio:
			c.video = append(c.video, f)
		default:
			c.muxed = append(c.muxed, f)
		}
	}

	slices.SortStableFunc(c.video, compareVideo)
	slices.SortStableFunc(c.muxed, compareVideo)
	slices.SortStableFunc(c.audio, c.compareAudio)

	return c
}

// compareVideo orders best first: height desc, total bitrate desc, frame rate desc, id asc.
func compareVideo(a, b entity.Format) int {
	return cmp.Or(
		cmp.Compare(b.Height, a.Height),
		cmp.Compare(b.TBR, a.TBR),
		cmp.Compare(b.FPS, a.FPS),
		cmp.Compare(a.ID, b.ID),
	)
}

// compareAudio orders best first: language rank, audio bitrate desc, size desc, id asc.
func (c catalog) compareAudio(a, b entity.Format) int {
	return cmp.Or(
		cmp.Compare(c.langRank(a.Language), c.langRank(b.Language)),
		cmp.Compare(audioBitrate(b), audioBitrate(a)),
		cmp.Compare(b.Size(), a.Size()),
		cmp.Compare(a.ID, b.ID),
	)
}

func audioBitrate(f entity.Format) float64 {
	if f.ABR > 0 {
		return f.ABR
	}

	return f.TBR
}

func (c catalog) langRank(lang string) int {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return len(c.prefs.Languages)
	}

	for i, pref := range c.prefs.Languages {
		pref = strings.ToLower(strings.TrimSpace(pref))
		if pref == "" {
			continue
		}

		if lang == pref || strings.HasPrefix(lang, pref+"-") {
			return i
		}
	}

	return len(c.prefs.Languages)
}

// Select maps a catalog and a tier to concrete formats.
func Select(formats []entity.Format, target Target, prefs Preferences) (Selection, error) {
	if target.Kind == KindOverride {
		return selectOverride(formats, target)
	}

	c := split(formats, prefs)

	var (
		sel Selection
		ok  bool
	)

	switch target.Kind {
	case KindAudio:
		sel, ok = c.selectAudio()
	case KindHeight:
		sel, ok = c.selectHeight(target.Height)
	default:
		sel, ok = c.selectSource()
	}

	if !ok {
		return Selection{}, &errs.SelectionError{Target: target.String()}
	}

	return sel, nil
}

func (c catalog) selectAudio() (Selection, bool) {
	if len(c.audio) > 0 {
		return audioOnly(c.audio[0]), true
	}

	if len(c.muxed) == 0 {
		return Selection{}, false
	}

	best := slices.MinFunc(c.muxed, c.compareAudio)
	sel := muxed(best)
	sel.Resolution = "audio"
	sel.Fallback = true

	return sel, true
}

func (c catalog) selectSource() (Selection, bool) {
	switch {
	case len(c.video) > 0 && len(c.audio) > 0:
		return pair(c.video[0], c.audio[0]), true
	case len(c.muxed) > 0:
		return muxed(c.muxed[0]), true
	case len(c.video) > 0:
		sel := videoOnly(c.video[0])
		sel.Fallback = true

		return sel, true
	case len(c.audio) > 0:
		return audioOnly(c.audio[0]), true
	default:
		return Selection{}, false
	}
}

func (c catalog) selectHeight(height int) (Selection, bool) {
	if len(c.video) == 0 {
		if m, ok := pickHeight(c.muxed, height, false); ok {
			return muxed(m), true
		}

		return Selection{}, false
	}

	v, _ := pickHeight(c.video, height, true)

	if len(c.audio) > 0 {
		return pair(v, c.audio[0]), true
	}

	if m, ok := pickHeight(c.muxed, v.Height, false); ok {
		sel := muxed(m)
		sel.Fallback = true

		return sel, true
	}

	sel := videoOnly(v)
	sel.Fallback = true

	return sel, true
}

// pickHeight picks from a best-first slice: an exact height match if exact is set,
// else the highest known height not above the target, else the lowest known height above it.
// Formats without a height are only picked when no format reports one.
func pickHeight(sorted []entity.Format, height int, exact bool) (entity.Format, bool) {
	if len(sorted) == 0 {
		return entity.Format{}, false
	}

	if exact {
		for _, f := range sorted {
			if f.Height > 0 && f.Height == height {
				return f, true
			}
		}
	}

	for _, f := range sorted {
		if f.Height > 0 && f.Height <= height {
			return f, true
		}
	}

	lowest := 0
	for _, f := range sorted {
		if f.Height > 0 {
			lowest = f.Height
		}
	}

	for _, f := range sorted {
		if lowest > 0 && f.Height == lowest {
			return f, true
		}
	}

	return sorted[0], true
}

func selectOverride(formats []entity.Format, target Target) (Selection, error) {
	byID := make(map[string]entity.Format, len(formats))
	for _, f := range formats {
		byID[f.ID] = f
	}

	if target.AudioID != "" {
		sel := Selection{VideoFormat: target.VideoID, AudioFormat: target.AudioID, Resolution: "custom"}

		if v, ok := byID[target.VideoID]; ok {
			sel.Resolution = resolution(v)
			sel.FPS = v.FPS
			sel.VideoExt = v.Ext
		}

		if a, ok := byID[target.AudioID]; ok {
			sel.AudioExt = a.Ext
		}

		return sel, nil
	}

	f, ok := byID[target.VideoID]
	if !ok {
		return Selection{VideoFormat: target.VideoID, Resolution: "custom"}, nil
	}

	switch {
	case f.VCodec == codecNone:
		return audioOnly(f), nil
	case f.ACodec == codecNone:
		return videoOnly(f), nil
	default:
		return muxed(f), nil
	}
}

func resolution(f entity.Format) string {
	if f.Height <= 0 {
		return "source"
	}

	return strconv.Itoa(f.Height) + "p"
}

func pair(v, a entity.Format) Selection {
	return Selection{
		VideoFormat: v.ID,
		AudioFormat: a.ID,
		Resolution:  resolution(v),
		FPS:         v.FPS,
		VideoExt:    v.Ext,
		AudioExt:    a.Ext,
	}
}

func muxed(f entity.Format) Selection {
	return Selection{
		VideoFormat: f.ID,
		Resolution:  resolution(f),
		FPS:         f.FPS,
		VideoExt:    f.Ext,
		Muxed:       true,
	}
}

func videoOnly(f entity.Format) Selection {
	return Selection{
		VideoFormat: f.ID,
		Resolution:  resolution(f),
		FPS:         f.FPS,
		VideoExt:    f.Ext,
	}
}

func audioOnly(f entity.Format) Selection {
	return Selection{
		AudioFormat: f.ID,
		Resolution:  "audio",
		AudioExt:    f.Ext,
	}
}
