package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meshforge/studio/internal/domain"
	"github.com/meshforge/studio/internal/jobsync"
)

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Submit a text or image generation job",
}

var generateTextCmd = &cobra.Command{
	Use:   "text <prompt>",
	Short: "Generate a model from a text prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := generationOptions(cmd)
		if err != nil {
			return err
		}
		req := domain.GenerationRequest{Text: &domain.TextRequest{
			Prompt:            strings.Join(args, " "),
			GenerationOptions: opts,
		}}
		return submit(cmd, req)
	},
}

var generateImageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Generate a model from a PNG, JPEG or WebP image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := generationOptions(cmd)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		req := domain.GenerationRequest{Image: &domain.ImageRequest{
			Filename:          filepath.Base(args[0]),
			ContentType:       domain.ContentTypeForFilename(args[0]),
			Data:              data,
			GenerationOptions: opts,
		}}
		return submit(cmd, req)
	},
}

func init() {
	for _, c := range []*cobra.Command{generateTextCmd, generateImageCmd} {
		c.Flags().Bool("enhance", false, "rewrite the prompt with the configured LLM provider first")
		c.Flags().String("provider", "", "prompt enhancement provider (ollama, groq)")
		c.Flags().String("resolution", "", "output resolution (low, medium, high)")
		c.Flags().Int("seed", -1, "sampler seed; negative picks one at random")
		c.Flags().Bool("wait", false, "follow the job until it finishes")
		c.Flags().String("output", "", "with --wait, download the artifacts into this directory")
		generateCmd.AddCommand(c)
	}
}

func generationOptions(cmd *cobra.Command) (domain.GenerationOptions, error) {
	enhance, _ := cmd.Flags().GetBool("enhance")
	provider, _ := cmd.Flags().GetString("provider")
	resolution, _ := cmd.Flags().GetString("resolution")
	seed, _ := cmd.Flags().GetInt("seed")

	opts := domain.GenerationOptions{
		EnhancePrompt: enhance,
		LLMProvider:   domain.LLMProvider(strings.ToLower(provider)),
		Resolution:    domain.Resolution(strings.ToLower(resolution)),
	}
	if seed >= 0 {
		opts.Seed = &seed
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// submit posts req and, with --wait, follows the job through the
// controller until it reaches a terminal state.
func submit(cmd *cobra.Command, req domain.GenerationRequest) error {
	wait, _ := cmd.Flags().GetBool("wait")
	output, _ := cmd.Flags().GetString("output")
	ctx := cmd.Context()

	if err := req.Validate(); err != nil {
		return err
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if !wait {
		var resp *domain.GenerationResponse
		if req.Kind() == domain.InputTypeImage {
			resp, err = s.api.CreateImageJob(ctx, *req.Image)
		} else {
			resp, err = s.api.CreateTextJob(ctx, *req.Text)
		}
		if err != nil {
			return err
		}
		printSuccess("Queued job %s", resp.JobID)
		printStatus("Estimated", "%ds", resp.EstimatedTime)
		printStatus("Follow", "studio job watch %s", resp.JobID)
		fmt.Fprintln(cmd.OutOrStdout(), resp.JobID)
		return nil
	}

	notifier := &cliNotifier{}
	ctrl := s.newController(notifier)
	defer ctrl.Close()

	done := make(chan jobsync.State, 1)
	progress := &progressPrinter{}
	unsubscribe := ctrl.Store().Subscribe(func(st jobsync.State) {
		progress.job(st.Job)
		if st.Job == nil {
			return
		}
		if st.Job.IsDone() || (!st.InProgress && st.Error != "") {
			select {
			case done <- st:
			default:
			}
		}
	})
	defer unsubscribe()

	resp, err := ctrl.Submit(ctx, req)
	if err != nil {
		return err
	}
	printSuccess("Queued job %s", resp.JobID)

	select {
	case st := <-done:
		return reportOutcome(cmd, s, st, output)
	case <-ctx.Done():
		printWarning("Stopped following; job %s keeps running on the server", resp.JobID)
		return nil
	}
}

func reportOutcome(cmd *cobra.Command, s *session, st jobsync.State, output string) error {
	job := st.Job
	switch job.Status {
	case domain.JobStatusCompleted:
		printJob(cmd.OutOrStdout(), job)
		if output == "" {
			return nil
		}
		_, err := downloadArtifacts(cmd.Context(), s.api, job.JobID, output, allArtifactKinds)
		return err
	case domain.JobStatusFailed:
		if job.Error != nil {
			return fmt.Errorf("job %s failed: %w", job.JobID, job.Error)
		}
		return fmt.Errorf("job %s failed", job.JobID)
	case domain.JobStatusCancelled:
		return nil
	}
	return fmt.Errorf("job %s: %s", job.JobID, st.Error)
}

// --- job ---

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and manage generation jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		job, err := s.api.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		list, err := s.api.ListJobs(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(list.Jobs) == 0 {
			printWarning("No jobs yet")
			return nil
		}
		if err := printJobTable(cmd.OutOrStdout(), list.Jobs); err != nil {
			return err
		}
		printStatus("Queue", "%d pending, %d total", list.QueueSize, list.Total)
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.api.CancelJob(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Cancelled job %s", args[0])
		return nil
	},
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Stream status updates for a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()
		return watchJob(cmd, s.newChannel(), args[0])
	},
}

func init() {
	jobGetCmd.Flags().Bool("json", false, "print the raw job record")
	jobListCmd.Flags().Int("limit", 10, "maximum number of jobs (1-100)")

	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobWatchCmd)
}

// watchJob prints every event the channel delivers for jobID and returns
// once the job finishes or the channel gives up.
func watchJob(cmd *cobra.Command, ch jobsync.StatusChannel, jobID string) error {
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	progress := &progressPrinter{}
	ch.AddHandler(func(ev domain.Event) {
		switch ev.Kind {
		case domain.EventConnected, domain.EventStatusUpdate, domain.EventProgressUpdate:
			if ev.Status == domain.JobStatusCancelled {
				printWarning("Job %s was cancelled", ev.JobID)
				finish(nil)
				return
			}
			status := ev.Status
			if status == "" {
				status = domain.JobStatusProcessing
			}
			progress.line(status, ev.Stage, ev.Progress)
		case domain.EventStageComplete:
			printSuccess("Stage %s complete", ev.Stage)
		case domain.EventCompletion:
			printSuccess("Job %s completed", ev.JobID)
			if ev.Result != nil {
				printResult(cmd.OutOrStdout(), ev.Result)
			}
			finish(nil)
		case domain.EventError:
			if ev.Error != nil {
				finish(fmt.Errorf("job %s failed: %w", ev.JobID, ev.Error))
				return
			}
			finish(fmt.Errorf("job %s failed", ev.JobID))
		}
	})
	ch.OnUnreachable(func(id string, err error) {
		finish(fmt.Errorf("lost contact with job %s: %w", id, err))
	})

	if err := ch.Connect(jobID); err != nil {
		return err
	}
	defer ch.Disconnect()

	select {
	case err := <-done:
		return err
	case <-cmd.Context().Done():
		return nil
	}
}

// --- prompt ---

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Prompt utilities",
}

var promptEnhanceCmd = &cobra.Command{
	Use:   "enhance <prompt>",
	Short: "Rewrite a prompt for better generation results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		resp, err := s.api.EnhancePrompt(cmd.Context(), domain.PromptEnhanceRequest{
			Prompt:   strings.Join(args, " "),
			Provider: domain.LLMProvider(strings.ToLower(provider)),
			Model:    model,
		})
		if err != nil {
			return err
		}
		printStatus("Provider", "%s (%s)", resp.Provider, resp.ModelUsed)
		fmt.Fprintln(cmd.OutOrStdout(), resp.EnhancedPrompt)
		return nil
	},
}

func init() {
	promptEnhanceCmd.Flags().String("provider", string(domain.LLMProviderOllama), "enhancement provider (ollama, groq)")
	promptEnhanceCmd.Flags().String("model", "", "provider model override")
	promptCmd.AddCommand(promptEnhanceCmd)
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the generation backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		h, err := s.api.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("backend not reachable at %s: %w", s.api.BaseURL(), err)
		}
		if h.Status != "healthy" {
			printWarning("Backend is %s", h.Status)
		} else {
			printSuccess("Backend is healthy")
		}
		for _, name := range slices.Sorted(maps.Keys(h.Services)) {
			printStatus(name, "%s", h.Services[name])
		}
		printStatus("Queue", "%d pending, %d processing, %d workers free",
			h.Queue.Pending, h.Queue.Processing, h.Queue.WorkersAvailable)
		if h.Status != "healthy" {
			return errors.New("backend degraded")
		}
		return nil
	},
}
