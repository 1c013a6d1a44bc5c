package jobsync

import "errors"

// Channel errors
var (
	ErrTransport         = errors.New("channel: transport failure")
	ErrProtocolAnomaly   = errors.New("channel: protocol anomaly")
	ErrStatusUnreachable = errors.New("channel: job status unreachable")
)

// Controller errors
var (
	ErrNoActiveJob  = errors.New("controller: no active job")
	ErrJobFinished  = errors.New("controller: job already finished")
	ErrSubmitFailed = errors.New("controller: submission failed")
)
