/**
 * @description
 * Operator CLI for the prize service. Runs a one-shot retry pass for external
 * cron invokers, checks the payout balance and reissues host confirmation links.
 *
 * Usage:
 *   prizectl retry-pass
 *   prizectl balance
 *   prizectl send-confirmation <prize-assignment-id>
 */
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quicklifts/prize-service/internal/app"
	"github.com/quicklifts/prize-service/internal/bootstrap"
	"github.com/quicklifts/prize-service/internal/config"
	"github.com/quicklifts/prize-service/internal/domain"
	"github.com/quicklifts/prize-service/pkg/stripeclient"
)

var Version = "dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "prizectl",
		Short:         "Operator tooling for challenge prize distributions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr while running")

	logger := func() *slog.Logger {
		if verbose {
			return slog.New(slog.NewTextHandler(os.Stderr, nil))
		}
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rootCmd.AddCommand(retryPassCmd(logger))
	rootCmd.AddCommand(balanceCmd(logger))
	rootCmd.AddCommand(sendConfirmationCmd(logger))
	return rootCmd
}

func loadConfig() (config.Config, error) {
	_ = godotenv.Load()
	return config.LoadConfig()
}

func retryPassCmd(logger func() *slog.Logger) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "retry-pass",
		Short: "Run one prize distribution retry pass and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			services, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{MaxConns: 4, MinConns: 1})
			if err != nil {
				return err
			}
			defer services.Close()

			result, err := app.NewJobs(services.Retry, log, cfg).RunPrizeDistributionRetry(ctx)
			if err != nil {
				writeJSON(cmd.OutOrStdout(), map[string]interface{}{"success": false, "error": err.Error()})
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Abort the pass after this long")
	return cmd
}

func balanceCmd(logger func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the payout balance available for prize distributions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)
			cents, err := client.AvailableBalance(ctx, cfg.PayoutCurrency)
			if err != nil {
				return fmt.Errorf("failed to fetch balance: %w", err)
			}
			logger().Info("balance fetched", "currency", cfg.PayoutCurrency, "available_cents", cents)

			fmt.Fprintf(cmd.OutOrStdout(), "Available (%s): %s (%d cents)\n", cfg.PayoutCurrency, domain.FormatAmount(cents), cents)
			return nil
		},
	}
}

func sendConfirmationCmd(logger func() *slog.Logger) *cobra.Command {
	var (
		requestedBy string
		retry       bool
	)

	cmd := &cobra.Command{
		Use:   "send-confirmation <prize-assignment-id>",
		Short: "Email the challenge host a fresh confirmation link",
		Long: `Issues a new confirmation token for the assignment and emails the host.
Any previously issued link for the assignment stops working.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			services, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer services.Close()

			assignment, err := services.Repository.GetAssignment(ctx, args[0])
			if err != nil {
				return err
			}

			result, err := services.Notifier.SendHostConfirmation(ctx, app.HostConfirmationRequest{
				PrizeAssignmentID: assignment.ID,
				ChallengeID:       assignment.ChallengeID,
				ChallengeTitle:    assignment.ChallengeTitle,
				PrizeAmount:       assignment.PrizeAmount,
				PrizeStructure:    assignment.PrizeStructure,
				RequestedBy:       requestedBy,
				IsRetryAttempt:    retry,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&requestedBy, "requested-by", "prizectl", "Recorded as the requester of the email")
	cmd.Flags().BoolVar(&retry, "retry", false, "Use the funds-ready retry wording")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
