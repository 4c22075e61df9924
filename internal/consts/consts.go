// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultHandlerTimeout is the default timeout for HTTP handlers.
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultStopTimeout bounds a stop request issued from the HTTP API.
	DefaultStopTimeout = 1 * time.Minute
	// DefaultInstallTimeout bounds a tools install requested from the HTTP API.
	DefaultInstallTimeout = 15 * time.Minute
	// DefaultJobTTL is the default time-to-live for stored jobs and files.
	DefaultJobTTL = 7 * 24 * time.Hour
	// ProgressStep is the minimum change in overall percent that triggers a progress event.
	ProgressStep = 5
	// FullProgress is the final progress value of a completed job.
	FullProgress = 100
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespQueryParamMissing is returned when a required query parameter is missing or invalid.
	RespQueryParamMissing = "query param missing or invalid"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespJobEnqueued is returned when a job is successfully enqueued.
	RespJobEnqueued = "job enqueued"
	// RespJobEnqueueFail is returned when a job cannot be enqueued.
	RespJobEnqueueFail = "job enqueue failed"
	// RespGetJobsFail is returned when fetching all jobs fails.
	RespGetJobsFail = "get all jobs failed"
	// RespJobRetrieved is returned when a job is successfully retrieved.
	RespJobRetrieved = "job retrieved"
	// RespJobsRetrieved is returned when jobs are successfully retrieved.
	RespJobsRetrieved = "jobs retrieved"
	// RespJobNotFound is returned when a job is not found.
	RespJobNotFound = "job not found"
	// RespJobAlreadyExists is returned when a job already exists.
	RespJobAlreadyExists = "job already exists"
	// RespJobCancelled is returned when a job is stopped on request.
	RespJobCancelled = "job cancelled"
	// RespJobCancelFail is returned when a job cannot be stopped.
	RespJobCancelFail = "job cancel failed"
	// RespToolsRetrieved is returned with the installed tool versions.
	RespToolsRetrieved = "tools retrieved"
	// RespToolsInstalled is returned after all tools are installed.
	RespToolsInstalled = "tools installed"
	// RespToolsInstallFail is returned when tool installation fails.
	RespToolsInstallFail = "tools install failed"
	// RespSettingsUpdated is returned when a setting is stored.
	RespSettingsUpdated = "settings updated"
	// RespSettingsUpdateFail is returned when a setting cannot be stored.
	RespSettingsUpdateFail = "settings update failed"
)

// Toast messages sent to the event sink.
const (
	// ToastMuxedFallback warns that a combined stream was used instead of split streams.
	ToastMuxedFallback = "requested streams unavailable; using a combined stream"
	// ToastAuthorization tells the user that the source needs credentials.
	ToastAuthorization = "this source requires you to be signed in"
)
