package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-chatops/internal/api"
)

func newAskCommand(opts *options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Send a single question",
		Long: `Send one utterance and print the answer. Pass --session to continue an
existing conversation so follow-ups like "what about payments" resolve against
earlier turns.`,
		Example: `  chatops ask "any problems on checkout in the last 2h"
  chatops ask --session 3f1c... "and yesterday?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return opts.withClient(func(c Client) error {
				ctx, cancel := opts.requestContext(cmd.Context())
				defer cancel()
				payload, err := c.HandleTurn(ctx, api.TurnRequest{SessionID: sessionID, Text: strings.Join(args, " ")})
				if err != nil && payload.TurnID == "" {
					return err
				}
				if payload.Error == nil && err != nil {
					payload.Error = api.ErrorFrom(err)
				}
				if werr := writeTurn(cmd.OutOrStdout(), payload, opts.json); werr != nil {
					return werr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (default: a new session)")
	return cmd
}

func newChatCommand(opts *options) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Read questions from stdin, one per line, within a single session.
Type /reset to clear the conversation context and /quit to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return opts.withClient(func(c Client) error {
				return runChat(cmd, opts, c, sessionID)
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (default: a new session)")
	return cmd
}

func runChat(cmd *cobra.Command, opts *options, c Client, sessionID string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s (type /quit to exit)\n", sessionID)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			ctx, cancel := opts.requestContext(cmd.Context())
			err := c.ResetSession(ctx, sessionID)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "reset failed: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "context cleared")
			continue
		}

		ctx, cancel := opts.requestContext(cmd.Context())
		payload, err := c.HandleTurn(ctx, api.TurnRequest{SessionID: sessionID, Text: line})
		cancel()
		if err != nil && payload.Error == nil {
			payload.Error = api.ErrorFrom(err)
		}
		if werr := writeTurn(out, payload, opts.json); werr != nil {
			return werr
		}
		if err := cmd.Context().Err(); err != nil {
			return err
		}
	}
}

func newResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Clear the context of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(c Client) error {
				ctx, cancel := opts.requestContext(cmd.Context())
				defer cancel()
				if err := c.ResetSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", args[0])
				return nil
			})
		},
	}
}

func newServicesCommand(opts *options) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List monitored services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(c Client) error {
				ctx, cancel := opts.requestContext(cmd.Context())
				defer cancel()
				list, err := c.ListServices(ctx, filter)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				writeServices(cmd.OutOrStdout(), list.Services)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Case-insensitive substring of name or alias")
	return cmd
}

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(c Client) error {
				ctx, cancel := opts.requestContext(cmd.Context())
				defer cancel()
				health, err := c.HealthCheck(ctx)
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), health)
				}
				fmt.Fprintln(cmd.OutOrStdout(), health.String())
				return nil
			})
		},
	}
}
