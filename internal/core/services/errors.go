package services

import (
	"errors"

	"github.com/meshforge/studio/internal/domain"
)

// Job errors
var (
	ErrJobNotFound = domain.ErrJobNotFound
	ErrJobFinished = errors.New("job: already finished")
	ErrQueueFull   = errors.New("job: queue is full")
	ErrServiceDown = errors.New("job: service is shutting down")
)

// Prompt errors
var (
	ErrPromptEmpty = errors.New("prompt: empty prompt")
)

// Artifact errors
var (
	ErrArtifactNotFound = domain.ErrArtifactNotFound
	ErrArtifactInvalid  = domain.ErrArtifactInvalid
)
