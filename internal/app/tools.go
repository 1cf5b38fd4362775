package app

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"outbound-router/internal/auth"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/config"
	"outbound-router/internal/factory"
	"outbound-router/internal/pooled"
	"outbound-router/internal/source"
)

// loadFactory registers every configuration of path with a quiet factory.
// The caller owns the returned factory.
func loadFactory(path string, lenient bool) (*factory.Factory, source.Result, error) {
	raws, err := source.LoadFile(path)
	if err != nil {
		return nil, source.Result{}, err
	}
	f, err := factory.New(
		factory.WithLogger(logging.NewNopLogger()),
		factory.WithLenientPatterns(lenient),
	)
	if err != nil {
		return nil, source.Result{}, err
	}
	res := source.NewReconciler(f, logging.NewNopLogger()).Sync(raws)
	return f, res, nil
}

func newValidateCommand() *cobra.Command {
	var lenient bool
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that every configuration of a file can be registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, res, err := loadFactory(args[0], lenient)
			if err != nil {
				return err
			}
			defer f.Shutdown()

			printValidation(cmd.OutOrStdout(), f, res)
			return res.Err()
		},
	}
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Accept invalid patterns by registering the configuration disabled")
	return cmd
}

func printValidation(out io.Writer, f *factory.Factory, res source.Result) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRANK\tSTATUS")
	for _, e := range f.Entries() {
		status := "ok"
		if !e.Client.Config().Enabled {
			status = "disabled"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", e.ID, e.Rank, status)
	}

	failed := make([]string, 0, len(res.Failed))
	for id := range res.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		fmt.Fprintf(w, "%s\t-\tfailed: %v\n", id, res.Failed[id])
	}
	w.Flush()
}

func newResolveCommand() *cobra.Command {
	var (
		wsTo    string
		lenient bool
	)
	cmd := &cobra.Command{
		Use:   "resolve FILE URL",
		Short: "Show which configuration of a file a target URL resolves to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, res, err := loadFactory(args[0], lenient)
			if err != nil {
				return err
			}
			defer f.Shutdown()
			if err := res.Err(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", err)
			}

			var c *pooled.Client
			if cmd.Flags().Changed("ws-to") {
				c, err = f.GetForService(args[1], wsTo)
			} else {
				c, err = f.Get(args[1])
			}
			if err != nil {
				return err
			}

			rc := c.RequestConfig()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client:                     %s\n", c.ID())
			fmt.Fprintf(out, "connect_timeout:            %s\n", rc.ConnectTimeout)
			fmt.Fprintf(out, "socket_timeout:             %s\n", rc.SocketTimeout)
			fmt.Fprintf(out, "connection_request_timeout: %s\n", rc.ConnectionRequestTimeout)
			fmt.Fprintf(out, "cookie_policy:              %s\n", rc.CookiePolicy)
			return nil
		},
	}
	cmd.Flags().StringVar(&wsTo, "ws-to", "", "WS-Addressing To URI of a web-service call")
	cmd.Flags().BoolVar(&lenient, "lenient", false, "Accept invalid patterns by registering the configuration disabled")
	return cmd
}

func newTokenCommand(envFile *string) *cobra.Command {
	var (
		subject string
		scope   string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(*envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", *envFile, err)
			}
			a, err := auth.New(config.Load().JWTSecret)
			if err != nil {
				return err
			}
			token, err := a.GenerateJWT(subject, scope, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject")
	cmd.Flags().StringVar(&scope, "scope", auth.ScopeRead, "Token scope (read or write)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "Token lifetime")
	return cmd
}
