// Package request holds HTTP request bodies and their validation.
package request

import (
	"fmt"
	"path/filepath"

	"tubefetch/internal/errs"
	"tubefetch/internal/format"
	"tubefetch/pkg/urls"
)

// Enqueue asks for a download of URL at Quality.
type Enqueue struct {
	URL string `json:"url"`
	// Quality is "audio", "source", a height such as "1080" or "720p", or "override:<format spec>".
	Quality string `json:"quality"`
}

// Validate checks the fields and fixes a missing URL scheme.
func (e *Enqueue) Validate() error {
	e.URL = urls.FixURL(e.URL)
	if !urls.IsURLValid(e.URL) {
		return errs.ErrInvalidURL
	}

	if _, err := format.ParseTarget(e.Quality); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidQuality, err)
	}

	return nil
}

// ToolsDir sets the tools directory override.
type ToolsDir struct {
	Dir string `json:"dir"`
}

// Validate requires an absolute path.
func (t *ToolsDir) Validate() error {
	if t.Dir == "" || !filepath.IsAbs(t.Dir) {
		return errs.ErrInvalidToolsDir
	}

	return nil
}
