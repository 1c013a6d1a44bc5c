package domain

import "errors"

var (
	ErrInvalidRequest   = errors.New("generation: invalid request")
	ErrJobNotFound      = errors.New("job: not found")
	ErrArtifactNotFound = errors.New("artifact: not found")
	ErrArtifactInvalid  = errors.New("artifact: invalid job id or kind")
)
