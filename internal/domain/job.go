package domain

// ==================== ENUMS ====================

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is defined out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type InputType string

const (
	InputTypeText  InputType = "text"
	InputTypeImage InputType = "image"
)

type ArtifactKind string

const (
	ArtifactGLB     ArtifactKind = "glb"
	ArtifactPLY     ArtifactKind = "ply"
	ArtifactPreview ArtifactKind = "preview"
)

// ==================== ENTITIES ====================

type JobInput struct {
	Type           InputType      `json:"type"`
	Prompt         string         `json:"prompt,omitempty"`
	EnhancedPrompt string         `json:"enhanced_prompt,omitempty"`
	ImageFilename  string         `json:"image_filename,omitempty"`
	Parameters     map[string]any `json:"parameters"`
}

type JobResult struct {
	GLBURL     string           `json:"glb_url,omitempty"`
	PLYURL     string           `json:"ply_url,omitempty"`
	PreviewURL string           `json:"preview_url,omitempty"`
	FileSizes  map[string]int64 `json:"file_sizes,omitempty"`
}

// JobError is the failure triple reported by the backend for a failed job.
type JobError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (e *JobError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Job is the client-side record of one backend generation job.
type Job struct {
	JobID         string     `json:"job_id"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	Stage         string     `json:"stage,omitempty"`
	StageProgress int        `json:"stage_progress"`
	CreatedAt     *Timestamp `json:"created_at"`
	StartedAt     *Timestamp `json:"started_at"`
	CompletedAt   *Timestamp `json:"completed_at"`
	Input         *JobInput  `json:"input"`
	Result        *JobResult `json:"result"`
	Error         *JobError  `json:"error"`
}

// IsDone reports whether the job reached a terminal state.
func (j *Job) IsDone() bool {
	return j.Status.IsTerminal()
}

// Clone returns a deep copy so callers can hand records out without sharing maps.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.CreatedAt != nil {
		t := *j.CreatedAt
		cp.CreatedAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Input != nil {
		in := *j.Input
		if j.Input.Parameters != nil {
			in.Parameters = make(map[string]any, len(j.Input.Parameters))
			for k, v := range j.Input.Parameters {
				in.Parameters[k] = v
			}
		}
		cp.Input = &in
	}
	cp.Result = j.Result.Clone()
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}

func (r *JobResult) Clone() *JobResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.FileSizes != nil {
		cp.FileSizes = make(map[string]int64, len(r.FileSizes))
		for k, v := range r.FileSizes {
			cp.FileSizes[k] = v
		}
	}
	return &cp
}

// URL returns the artifact URL recorded in the result for kind.
func (r *JobResult) URL(kind ArtifactKind) string {
	if r == nil {
		return ""
	}
	switch kind {
	case ArtifactGLB:
		return r.GLBURL
	case ArtifactPLY:
		return r.PLYURL
	case ArtifactPreview:
		return r.PreviewURL
	}
	return ""
}
