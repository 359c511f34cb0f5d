// Command refctl is a command-line client for the referral API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries the global flags shared by every subcommand.
type app struct {
	server  string
	timeout time.Duration
	asJSON  bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "refctl",
		Short:         "refctl - client for the referral and reward API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defServer := os.Getenv("REFCTL_SERVER")
	if defServer == "" {
		defServer = "http://localhost:3000"
	}
	root.PersistentFlags().StringVar(&a.server, "server", defServer, "API base URL (env REFCTL_SERVER)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVarP(&a.asJSON, "json", "j", false, "print raw JSON")

	root.AddCommand(
		versionCmd(),
		registerCmd(a),
		loginCmd(a),
		logoutCmd(a),
		referralsCmd(a),
		statsCmd(a),
		rewardsCmd(a),
		forgotPasswordCmd(a),
		resetPasswordCmd(a),
	)
	return root
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

// anonymous returns a client without a session.
func (a *app) anonymous() *client { return newClient(a.server, a.timeout, "") }

// authed returns a client carrying the stored session.
func (a *app) authed() (*client, error) {
	c := newClient(a.server, a.timeout, "")
	tok, err := loadToken(c.server)
	if err != nil {
		return nil, err
	}
	c.token = tok
	return c, nil
}

// ---- utils ----

// readSecret resolves "-" to the first line of stdin.
func readSecret(cmd *cobra.Command, v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4096))
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimRight(line, "\r"), nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
