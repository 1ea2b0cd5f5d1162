// Package cli implements the chatops command-line client. Every command talks
// to a running server over gRPC.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-chatops/internal/api"
)

// Set by ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Client is the subset of api.ConversationClient the commands use.
type Client interface {
	HandleTurn(ctx context.Context, req api.TurnRequest, opts ...grpc.CallOption) (api.TurnPayload, error)
	ResetSession(ctx context.Context, sessionID string, opts ...grpc.CallOption) error
	ListServices(ctx context.Context, filter string, opts ...grpc.CallOption) (api.ServicesPayload, error)
	HealthCheck(ctx context.Context, opts ...grpc.CallOption) (api.HealthPayload, error)
}

// DialFunc connects to the server at addr.
type DialFunc func(addr string) (Client, io.Closer, error)

// DialGRPC opens a plaintext gRPC connection.
func DialGRPC(addr string) (Client, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return api.NewConversationClient(conn), conn, nil
}

type options struct {
	addr    string
	timeout time.Duration
	json    bool
	dial    DialFunc
}

// NewRootCommand builds the command tree. dial may be nil to use DialGRPC.
func NewRootCommand(dial DialFunc) *cobra.Command {
	if dial == nil {
		dial = DialGRPC
	}
	opts := &options{dial: dial}

	root := &cobra.Command{
		Use:   "chatops",
		Short: "Ask the chatops service about service health and problems",
		Long: `chatops sends natural-language questions to a mirador-chatops server and
prints the structured answers: correlated problems, metric summaries, catalog
listings and clarification prompts.`,
		SilenceUsage: true,
	}

	defaultAddr := os.Getenv("MIRADOR_CHATOPS_ADDR")
	if defaultAddr == "" {
		defaultAddr = "localhost:50051"
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", defaultAddr, "gRPC address of the chatops server")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON payloads")

	root.AddCommand(
		newAskCommand(opts),
		newChatCommand(opts),
		newResetCommand(opts),
		newServicesCommand(opts),
		newHealthCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI against the default gRPC dialer.
func Execute() error {
	return NewRootCommand(nil).Execute()
}

// withClient dials, runs fn and closes the connection.
func (o *options) withClient(fn func(Client) error) error {
	client, closer, err := o.dial(o.addr)
	if err != nil {
		return err
	}
	defer closer.Close()
	return fn(client)
}

func (o *options) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, o.timeout)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatops version %s (%s)\n", Version, GitCommit)
		},
	}
}
