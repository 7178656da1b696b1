// Command docctl drives a revdoc server from the shell.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gogotex/revdoc/internal/auth"
	"github.com/gogotex/revdoc/pkg/client"
	"github.com/spf13/cobra"
)

type options struct {
	server string
	token  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "docctl",
		Short:        "Command line client for revdoc",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("REVDOC_SERVER", "http://localhost:8529"), "server base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("REVDOC_TOKEN"), "bearer token")

	root.AddCommand(newCollectionCmd(opts), newDocCmd(opts), newTokenCmd())
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (o *options) client() *client.Client {
	var copts []client.Option
	if o.token != "" {
		copts = append(copts, client.WithToken(o.token))
	}
	return client.New(o.server, copts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCollectionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Manage collections",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a collection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				col, err := opts.client().CreateCollection(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), col)
			},
		},
		&cobra.Command{
			Use:   "count <collection>",
			Short: "Print the number of documents",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := opts.client().Count(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			},
		},
		&cobra.Command{
			Use:   "drop <collection>",
			Short: "Drop a collection and its documents",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.client().DropCollection(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func parseBody(s string) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		return nil, fmt.Errorf("body must be a JSON object: %w", err)
	}
	return body, nil
}

func newDocCmd(opts *options) *cobra.Command {
	var cond client.Condition
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and mutate documents",
	}
	cmd.PersistentFlags().StringVar(&cond.Revision, "rev", "", "expected revision")
	cmd.PersistentFlags().StringVar(&cond.Policy, "policy", "", "conflict policy: error or last")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <collection> <json>",
			Short: "Create a document",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := parseBody(args[1])
				if err != nil {
					return err
				}
				ack, err := opts.client().CreateDocument(cmd.Context(), args[0], body)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ack)
			},
		},
		&cobra.Command{
			Use:   "get <collection/key>",
			Short: "Print a document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := opts.client().GetDocument(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"_id": d.ID, "_rev": d.Rev, "_key": d.Key}
				for k, v := range d.Body {
					out[k] = v
				}
				return printJSON(cmd.OutOrStdout(), out)
			},
		},
		&cobra.Command{
			Use:   "replace <collection/key> <json>",
			Short: "Replace a document",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := parseBody(args[1])
				if err != nil {
					return err
				}
				ack, err := opts.client().ReplaceDocument(cmd.Context(), args[0], body, cond)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ack)
			},
		},
		&cobra.Command{
			Use:   "delete <collection/key>",
			Short: "Delete a document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ack, err := opts.client().DeleteDocument(cmd.Context(), args[0], cond)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ack)
			},
		},
	)
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		issuer string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an HS256 token for development servers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := auth.MintToken(secret, issuer, args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", os.Getenv("JWT_ISSUER"), "iss claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
