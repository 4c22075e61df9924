package downloader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/pkg/shellquote"
)

const typeVideo = "video"

// ParseDescription decodes the output of `yt-dlp -J`.
// Anything that cannot yield a usable catalog is rejected rather than guessed at.
func ParseDescription(stdout []byte) (*entity.Description, error) {
	stdout = bytes.TrimSpace(stdout)
	if len(stdout) == 0 {
		return nil, fmt.Errorf("%w: empty describe output", errs.ErrMalformedOutput)
	}

	var desc entity.Description
	if err := json.Unmarshal(stdout, &desc); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrMalformedOutput, err)
	}

	if desc.Type != "" && desc.Type != typeVideo {
		return nil, fmt.Errorf("%w: unsupported result type %q", errs.ErrMalformedOutput, desc.Type)
	}

	formats := desc.Formats[:0]
	for _, f := range desc.Formats {
		if strings.TrimSpace(f.ID) != "" {
			formats = append(formats, f)
		}
	}

	desc.Formats = formats

	// Single-format extractors report the format at the top level only.
	if len(desc.Formats) == 0 && desc.FormatID != "" {
		desc.Formats = []entity.Format{{
			ID:     desc.FormatID,
			Ext:    desc.Ext,
			VCodec: orUnknown(desc.VCodec),
			ACodec: orUnknown(desc.ACodec),
			Height: desc.Height,
			Width:  desc.Width,
			FPS:    desc.FPS,
			TBR:    desc.TBR,
			ABR:    desc.ABR,
		}}
	}

	if len(desc.Formats) == 0 {
		return nil, fmt.Errorf("%w: no formats in describe output", errs.ErrMalformedOutput)
	}

	return &desc, nil
}

// orUnknown keeps an absent codec from being read as "none".
func orUnknown(codec string) string {
	if codec == "" {
		return "unknown"
	}

	return codec
}

// command wraps a subprocess invocation for logging.
type command struct {
	bin  string
	args []string
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (c command) LogValue() slog.Value {
	return slog.StringValue(shellquote.Join(c.bin, c.args))
}

// authSignatures are stderr fragments yt-dlp prints when a source needs credentials.
var authSignatures = []string{
	"sign in to confirm",
	"login required",
	"use --cookies",
	"--cookies-from-browser",
	"private video",
	"members-only",
}

// authGuidance is attached to AuthorizationRequiredError.
const authGuidance = "export the site's cookies to a cookies.txt file and set TUBEFETCH_DIR_COOKIE_FILE"

func requiresAuthorization(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, sig := range authSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}

	return false
}

// lastLines returns at most n trailing non-empty lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")

	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append(kept, line)
		}
	}

	slices.Reverse(kept)

	return strings.Join(kept, "\n")
}
