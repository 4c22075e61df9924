// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"
)

// JobStatus represents the status of a download job.
type JobStatus string

const (
	// JobStatusStarting indicates that the job is accepted and is about to start.
	JobStatusStarting JobStatus = "starting"
	// JobStatusDescribing indicates that the source is being described.
	JobStatusDescribing JobStatus = "describing"
	// JobStatusDownloading indicates that the job is in progress.
	JobStatusDownloading JobStatus = "downloading"
	// JobStatusError indicates that the job has encountered an error.
	JobStatusError JobStatus = "error"
	// JobStatusFinished indicates that the job has finished successfully.
	JobStatusFinished JobStatus = "finished"
	// JobStatusCancelled indicates that the job was cancelled by the user.
	JobStatusCancelled JobStatus = "cancelled"
)

// Settled reports whether the status is final.
func (s JobStatus) Settled() bool {
	return s == JobStatusError || s == JobStatusFinished || s == JobStatusCancelled
}

// Severity grades a user-facing message.
type Severity string

// Message severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message is a toast attached to a job.
type Message struct {
	Text     string    `json:"text"`
	Severity Severity  `json:"severity"`
	At       time.Time `json:"at"`
}

// Job represents a download job.
type Job struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Quality   string    `json:"quality"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Output    string    `json:"output,omitempty"` // absolute path of the final artifact
	Error     string    `json:"error,omitempty"`
	Messages  []Message `json:"messages,omitempty"`

	EstimatedETA time.Duration `json:"estimatedEta"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (j Job) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", j.ID),
		slog.String("url", j.URL),
		slog.String("quality", j.Quality),
		slog.String("status", string(j.Status)),
		slog.Int("progress", j.Progress),
		slog.String("output", j.Output),
		slog.Duration("estimatedEta", j.EstimatedETA),
	)
}

// Format is one entry of a source's format catalog, as reported by yt-dlp.
// Codec fields hold "none" when the stream lacks that track.
type Format struct {
	ID             string  `json:"format_id"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Ext            string  `json:"ext"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	FPS            float64 `json:"fps"`
	TBR            float64 `json:"tbr"`
	ABR            float64 `json:"abr"`
	Language       string  `json:"language"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

// Size returns the exact file size, or the approximate one when unknown.
func (f Format) Size() float64 {
	if f.Filesize > 0 {
		return f.Filesize
	}

	return f.FilesizeApprox
}

// Description is the minimal part of a describe result the engine consumes.
type Description struct {
	Type       string   `json:"_type"`
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Extractor  string   `json:"extractor"`
	WebpageURL string   `json:"webpage_url"`
	Duration   float64  `json:"duration"`
	Formats    []Format `json:"formats"`

	// Top-level format fields, used when the catalog is empty.
	FormatID string  `json:"format_id"`
	Ext      string  `json:"ext"`
	VCodec   string  `json:"vcodec"`
	ACodec   string  `json:"acodec"`
	Height   int     `json:"height"`
	Width    int     `json:"width"`
	FPS      float64 `json:"fps"`
	TBR      float64 `json:"tbr"`
	ABR      float64 `json:"abr"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (d Description) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.ID),
		slog.String("title", d.Title),
		slog.String("extractor", d.Extractor),
		slog.Int("formats", len(d.Formats)),
	)
}
