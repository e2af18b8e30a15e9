package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var (
	askSession string
	askName    string
	askEmail   string
	askCompany string
	askWait    time.Duration
	askJSON    bool
	askNoColor bool
)

var askCmd = &cobra.Command{
	Use:   "ask [text...]",
	Short: "Run one text through the research path and print the transcript",
	Long: `Open (or reopen) a session, optionally submit consent, feed one text
through the automatic research path and print the transcript once every
research placeholder has settled.

Examples:
  fbc ask --email ada@acme.com --name Ada "what's new in EU AI rules?"
  fbc ask --session 01J... "tell me about https://acme.com"
  fbc ask --session 01J... "what do you know about me?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Session ID to reopen")
	askCmd.Flags().StringVar(&askName, "name", "", "Name submitted with consent")
	askCmd.Flags().StringVar(&askEmail, "email", "", "Email submitted with consent (enables consent submission)")
	askCmd.Flags().StringVar(&askCompany, "company", "", "Company URL submitted with consent")
	askCmd.Flags().DurationVar(&askWait, "wait", 60*time.Second, "How long to wait for research to settle")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print messages as JSON lines")
	askCmd.Flags().BoolVar(&askNoColor, "no-color", false, "Disable colors")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r := newRenderer(os.Stdout, os.Stderr, askJSON, askNoColor)

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	rt, created, err := a.sessions.Open(ctx, askSession)
	if err != nil {
		return err
	}
	id := rt.Session().ID
	if created {
		r.info("session %s (new)", id)
	} else {
		r.info("session %s", id)
	}

	if askEmail != "" {
		status, err := rt.SubmitConsent(ctx, types.ConsentInput{Name: askName, Email: askEmail, CompanyURL: askCompany})
		if err != nil {
			r.warn("consent: %v", err)
		} else {
			r.info("consent %s", status)
		}
	}

	trigger, err := rt.HandleText(ctx, types.TextInput{Text: strings.Join(args, " "), Source: "user"})
	if err != nil {
		return err
	}
	r.info("route %s", trigger.Route)

	msgs, err := settle(ctx, rt, askWait)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		r.message(m)
	}
	return nil
}

// settle polls the transcript until no message is pending, then returns it.
// On timeout it returns what is there.
func settle(ctx context.Context, rt *session.Runtime, wait time.Duration) ([]types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		msgs, err := rt.Messages(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if !anyPending(msgs) {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				fmt.Fprintln(os.Stderr, "research still pending after", wait)
				return msgs, nil
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func anyPending(msgs []types.Message) bool {
	for _, m := range msgs {
		if m.Status == types.StatusPending {
			return true
		}
	}
	return false
}
