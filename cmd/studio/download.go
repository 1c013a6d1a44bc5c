package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meshforge/studio/internal/domain"
)

var allArtifactKinds = []domain.ArtifactKind{domain.ArtifactGLB, domain.ArtifactPLY, domain.ArtifactPreview}

// artifactDownloader is the part of the REST client downloads need.
type artifactDownloader interface {
	Download(ctx context.Context, jobID string, kind domain.ArtifactKind, w io.Writer) (int64, error)
}

var downloadCmd = &cobra.Command{
	Use:   "download <job-id>",
	Short: "Download the artifacts of a completed job",
	Long: `Download the artifacts of a completed job.

Files are written as <job-id>.glb, <job-id>.ply and <job-id>_preview.png.

Examples:
  studio download 6f1c0e2a-... --dir ./models
  studio download 6f1c0e2a-... --kinds glb`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		kindsStr, _ := cmd.Flags().GetString("kinds")

		kinds, err := parseArtifactKinds(kindsStr)
		if err != nil {
			return err
		}

		s, err := newSession()
		if err != nil {
			return err
		}
		defer s.close()

		_, err = downloadArtifacts(cmd.Context(), s.api, args[0], dir, kinds)
		return err
	},
}

func init() {
	downloadCmd.Flags().String("dir", ".", "destination directory")
	downloadCmd.Flags().String("kinds", "glb,ply,preview", "comma-separated artifact kinds")
}

func parseArtifactKinds(s string) ([]domain.ArtifactKind, error) {
	var kinds []domain.ArtifactKind
	seen := make(map[domain.ArtifactKind]bool)
	for _, part := range strings.Split(s, ",") {
		kind := domain.ArtifactKind(strings.ToLower(strings.TrimSpace(part)))
		if kind == "" || seen[kind] {
			continue
		}
		switch kind {
		case domain.ArtifactGLB, domain.ArtifactPLY, domain.ArtifactPreview:
		default:
			return nil, fmt.Errorf("unknown artifact kind %q", kind)
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("at least one artifact kind is required")
	}
	return kinds, nil
}

func artifactFilename(jobID string, kind domain.ArtifactKind) string {
	if kind == domain.ArtifactPreview {
		return jobID + "_preview.png"
	}
	return jobID + "." + string(kind)
}

// downloadArtifacts fetches the requested kinds concurrently. On failure
// partially written files are removed and the first error is returned.
func downloadArtifacts(ctx context.Context, api artifactDownloader, jobID, dir string, kinds []domain.ArtifactKind) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	paths := make([]string, len(kinds))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(len(allArtifactKinds))

	for i, kind := range kinds {
		g.Go(func() error {
			path := filepath.Join(dir, artifactFilename(jobID, kind))
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			n, err := api.Download(gCtx, jobID, kind, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(path)
				return fmt.Errorf("downloading %s: %w", kind, err)
			}
			paths[i] = path
			printSuccess("Saved %s (%s)", path, humanBytes(n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}
