package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/meshforge/studio/internal/core/ports"
	"github.com/meshforge/studio/internal/domain"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func statusColor(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusCompleted:
		return colorGreen
	case domain.JobStatusFailed:
		return colorRed
	case domain.JobStatusCancelled:
		return colorYellow
	}
	return colorCyan
}

// cliNotifier prints controller notifications as status lines. Display
// durations only matter to toast-style frontends and are ignored.
type cliNotifier struct {
	mu   sync.Mutex
	last []domain.Notification
}

func (n *cliNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	n.last = append(n.last, note)
	n.mu.Unlock()

	switch note.Level {
	case domain.NotificationSuccess:
		printSuccess("%s", note.Message)
	case domain.NotificationError:
		printError("%s", note.Message)
	default:
		printStep("%s", note.Message)
	}
}

func (n *cliNotifier) notifications() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Notification(nil), n.last...)
}

var _ ports.Notifier = (*cliNotifier)(nil)

// progressPrinter writes one line per visible change of status, stage or
// percentage.
type progressPrinter struct {
	status   domain.JobStatus
	stage    string
	progress int
	started  bool
}

func (p *progressPrinter) job(job *domain.Job) {
	if job == nil || job.IsDone() {
		return
	}
	p.line(job.Status, job.Stage, job.Progress)
}

func (p *progressPrinter) line(status domain.JobStatus, stage string, progress int) {
	if p.started && status == p.status && stage == p.stage && progress == p.progress {
		return
	}
	p.started = true
	p.status, p.stage, p.progress = status, stage, progress
	label := string(status)
	if stage != "" {
		label = stage
	}
	printStep("[%3d%%] %s", progress, label)
}

func printJob(w io.Writer, job *domain.Job) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, job.JobID), colorize(statusColor(job.Status), string(job.Status)))
	fmt.Fprintf(w, "  progress: %d%%\n", job.Progress)
	if job.Stage != "" {
		fmt.Fprintf(w, "  stage:    %s (%d%%)\n", job.Stage, job.StageProgress)
	}
	if job.Input != nil {
		switch job.Input.Type {
		case domain.InputTypeImage:
			fmt.Fprintf(w, "  image:    %s\n", job.Input.ImageFilename)
		default:
			fmt.Fprintf(w, "  prompt:   %s\n", job.Input.Prompt)
		}
		if job.Input.EnhancedPrompt != "" {
			fmt.Fprintf(w, "  enhanced: %s\n", job.Input.EnhancedPrompt)
		}
	}
	if job.CreatedAt != nil {
		fmt.Fprintf(w, "  created:  %s\n", job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  finished: %s\n", job.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if job.Result != nil {
		printResult(w, job.Result)
	}
	if job.Error != nil {
		fmt.Fprintf(w, "  error:    %s\n", colorize(colorRed, job.Error.Error()))
	}
}

func printResult(w io.Writer, r *domain.JobResult) {
	for _, item := range []struct {
		label string
		url   string
		kind  domain.ArtifactKind
	}{
		{"glb", r.GLBURL, domain.ArtifactGLB},
		{"ply", r.PLYURL, domain.ArtifactPLY},
		{"preview", r.PreviewURL, domain.ArtifactPreview},
	} {
		if item.url == "" {
			continue
		}
		size := ""
		if n, ok := r.FileSizes[string(item.kind)]; ok {
			size = fmt.Sprintf(" (%s)", humanBytes(n))
		}
		fmt.Fprintf(w, "  %-9s %s%s\n", item.label+":", item.url, size)
	}
}

func printJobTable(w io.Writer, jobs []domain.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATUS\tPROGRESS\tCREATED\tINPUT")
	for _, job := range jobs {
		created := "-"
		if job.CreatedAt != nil {
			created = job.CreatedAt.Local().Format("01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\t%s\n", job.JobID, job.Status, job.Progress, created, inputSummary(job.Input))
	}
	return tw.Flush()
}

func inputSummary(in *domain.JobInput) string {
	if in == nil {
		return "-"
	}
	if in.Type == domain.InputTypeImage {
		return "image " + in.ImageFilename
	}
	s := strings.Join(strings.Fields(in.Prompt), " ")
	if r := []rune(s); len(r) > 40 {
		s = string(r[:39]) + "…"
	}
	return s
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
