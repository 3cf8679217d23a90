package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/app/bootstrap"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/application"
)

var Version = "dev"

var operator = application.Actor{SubjectID: "settlectl", Role: "admin"}

func main() {
	rootCmd := &cobra.Command{
		Use:     "settlectl",
		Short:   "Operator tooling for order settlement",
		Version: Version,
	}
	rootCmd.PersistentFlags().String("config", "configs/default.yaml", "Path to the service config file")

	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(balanceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withRuntime boots the service, runs fn and drains in-flight payouts before returning.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, svc *application.Service) (any, error)) error {
	configPath, _ := cmd.Flags().GetString("config")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runtime, err := bootstrap.NewRuntime(ctx, configPath)
	if err != nil {
		return fmt.Errorf("bootstrap runtime: %w", err)
	}
	defer runtime.Close()

	result, err := fn(ctx, runtime.Service())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func confirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Confirm a payment with the gateway and accrue commission",
		RunE: func(cmd *cobra.Command, args []string) error {
			orderRef, _ := cmd.Flags().GetString("order-ref")
			paymentKey, _ := cmd.Flags().GetString("payment-key")
			amount, _ := cmd.Flags().GetInt64("amount")
			return withRuntime(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.ProcessPaymentConfirmation(ctx, application.ConfirmPaymentInput{
					OrderRef:   orderRef,
					PaymentKey: paymentKey,
					Amount:     amount,
				})
			})
		},
	}
	cmd.Flags().String("order-ref", "", "Merchant order reference")
	cmd.Flags().String("payment-key", "", "Gateway payment key")
	cmd.Flags().Int64("amount", 0, "Amount reported by the payment window")
	_ = cmd.MarkFlagRequired("order-ref")
	_ = cmd.MarkFlagRequired("payment-key")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func cancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an order, refund the payment and claw back commission",
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, _ := cmd.Flags().GetString("order-id")
			reason, _ := cmd.Flags().GetString("reason")
			return withRuntime(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.ProcessCancellation(ctx, orderID, reason)
			})
		},
	}
	cmd.Flags().String("order-id", "", "Order identifier")
	cmd.Flags().String("reason", "", "Cancellation reason sent to the gateway")
	_ = cmd.MarkFlagRequired("order-id")
	return cmd
}

func payoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Re-drive the partner payout for a paid order",
		RunE: func(cmd *cobra.Command, args []string) error {
			orderRef, _ := cmd.Flags().GetString("order-ref")
			return withRuntime(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.RedrivePayout(ctx, operator, orderRef)
			})
		},
	}
	cmd.Flags().String("order-ref", "", "Merchant order reference")
	_ = cmd.MarkFlagRequired("order-ref")
	return cmd
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the payout balance held at the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, svc *application.Service) (any, error) {
				return svc.PayoutBalance(ctx, operator)
			})
		},
	}
}
