package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	artifactSession string
	artifactJSON    bool
	artifactNoColor bool
)

var artifactCmd = &cobra.Command{
	Use:   "artifact <kind> <input...>",
	Short: "Stream an artifact to stdout",
	Long: `Generate an artifact of a registered kind and print every chunk as
it arrives. Partial snapshots go to stderr; the validated object goes to
stdout.

Examples:
  fbc artifact metric "monthly recurring revenue for Q3"
  fbc artifact --json funnel "trial to paid conversion last quarter"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runArtifact,
}

func init() {
	artifactCmd.Flags().StringVarP(&artifactSession, "session", "s", "", "Session ID to reopen")
	artifactCmd.Flags().BoolVar(&artifactJSON, "json", false, "Print chunks as JSON lines")
	artifactCmd.Flags().BoolVar(&artifactNoColor, "no-color", false, "Disable colors")
}

func runArtifact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r := newRenderer(os.Stdout, os.Stderr, artifactJSON, artifactNoColor)

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	rt, _, err := a.sessions.Open(ctx, artifactSession)
	if err != nil {
		return err
	}

	kind := args[0]
	_, sr, err := rt.Artifact(ctx, kind, strings.Join(args[1:], " "))
	if err != nil {
		return fmt.Errorf("artifact %q: %w", kind, err)
	}
	defer sr.Close()

	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		r.chunk(chunk)
		if chunk.Error != nil {
			return fmt.Errorf("artifact %q failed: %s", kind, chunk.Error.Code)
		}
	}
}
