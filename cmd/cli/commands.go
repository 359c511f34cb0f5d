package main

import (
	"errors"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/and161185/refkeeper/internal/convert"
	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "refctl %s (%s)\n", version, buildDate)
		},
	}
}

func registerCmd(a *app) *cobra.Command {
	var email, username, password, code string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account, optionally with a referral code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, password)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			c := a.anonymous()
			var out convert.RegisterResponse
			if err := c.call(ctx, http.MethodPost, "/api/register", map[string]string{
				"email": email, "username": username, "password": pw, "referral_code": code,
			}, &out); err != nil {
				return err
			}
			if err := c.persistSession(); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			if a.asJSON {
				printJSON(cmd.OutOrStdout(), out)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nuser:          %s (%s)\nreferral code: %s\n",
				out.Message, out.Username, out.ID, out.ReferralCode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", `password ("-" reads stdin)`)
	cmd.Flags().StringVarP(&code, "code", "c", "", "referral code of the inviting user")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	var identifier, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email or username and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, password)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			c := a.anonymous()
			var out convert.LoginResponse
			if err := c.call(ctx, http.MethodPost, "/api/login", map[string]string{
				"identifier": identifier, "password": pw,
			}, &out); err != nil {
				return err
			}
			if err := c.persistSession(); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			if a.asJSON {
				printJSON(cmd.OutOrStdout(), out)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", out.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&identifier, "identifier", "i", "", "email or username")
	cmd.Flags().StringVarP(&password, "password", "p", "", `password ("-" reads stdin)`)
	_ = cmd.MarkFlagRequired("identifier")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authed()
			if errors.Is(err, errLoginRequired) {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			callErr := c.call(ctx, http.MethodPost, "/api/logout", nil, nil)
			// the local token goes either way
			if err := clearToken(); err != nil {
				return err
			}
			if callErr != nil {
				return callErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged out")
			return nil
		},
	}
}

func referralsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "referrals",
		Short: "List users who registered with your code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authed()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			var out []convert.Referral
			if err := c.call(ctx, http.MethodGet, "/api/referrals", nil, &out); err != nil {
				return err
			}
			if a.asJSON {
				printJSON(cmd.OutOrStdout(), out)
				return nil
			}
			if len(out) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no referrals yet")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tEMAIL\tDATE\tSTATUS")
			for _, r := range out {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Username, r.Email, r.DateReferred.Local().Format(time.DateTime), r.Status)
			}
			return tw.Flush()
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of successful referrals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authed()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			var out convert.ReferralStats
			if err := c.call(ctx, http.MethodGet, "/api/referral-stats", nil, &out); err != nil {
				return err
			}
			if a.asJSON {
				printJSON(cmd.OutOrStdout(), out)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "successful referrals: %d\n", out.SuccessfulReferrals)
			return nil
		},
	}
}

func rewardsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rewards",
		Short: "List earned rewards and their total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.authed()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			var out convert.Rewards
			if err := c.call(ctx, http.MethodGet, "/api/rewards", nil, &out); err != nil {
				return err
			}
			if a.asJSON {
				printJSON(cmd.OutOrStdout(), out)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tAMOUNT\tDESCRIPTION")
			for _, r := range out.Rewards {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Amount, r.Description)
			}
			fmt.Fprintf(tw, "TOTAL\t%d\t\n", out.TotalRewards)
			return tw.Flush()
		},
	}
}

func forgotPasswordCmd(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Request a password reset email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			var out convert.Message
			if err := a.anonymous().call(ctx, http.MethodPost, "/api/forgot-password",
				map[string]string{"email": email}, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Message)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func resetPasswordCmd(a *app) *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password using the emailed reset token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readSecret(cmd, password)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			var out convert.Message
			if err := a.anonymous().call(ctx, http.MethodPost, "/api/reset-password",
				map[string]string{"token": token, "new_password": pw}, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Message)
			return nil
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "reset token from the email")
	cmd.Flags().StringVarP(&password, "password", "p", "", `new password ("-" reads stdin)`)
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
