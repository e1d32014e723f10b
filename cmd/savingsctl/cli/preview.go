package cli

import (
	"fmt"
	"io"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-savings-sdk/calc"
	"github.com/pilacorp/go-savings-sdk/config"
)

// previewFlags are shared by the preview subcommands.
type previewFlags struct {
	amount        string
	rate          int64
	penaltyRate   int64
	lockBlocks    int64
	elapsedBlocks int64
}

// NewPreviewCommand creates the preview command and its subcommands.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview the outcome of a deposit or withdrawal",
		Long: `Preview computes rewards, penalties and reputation points locally with the
same integer arithmetic as the vault contract. Nothing is submitted.`,
	}

	cmd.AddCommand(newPreviewDepositCommand(rootOpts))
	cmd.AddCommand(newPreviewWithdrawalCommand(rootOpts))
	return cmd
}

func newPreviewDepositCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &previewFlags{}
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Preview reward and reputation points of a deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkNonNegative(cmd, "rate", "lock-blocks"); err != nil {
				return err
			}
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			principal, err := parseAmount(flags.amount, cfg.Decimals)
			if err != nil {
				return err
			}

			p := calc.PreviewDeposit(principal, big.NewInt(flags.rate), big.NewInt(flags.lockBlocks))
			f := rootOpts.formatter(cmd)
			return f.Success(p, func(w io.Writer) { writeDepositPreview(w, p, cfg.Decimals) })
		},
	}

	cmd.Flags().StringVar(&flags.amount, "amount", "", "amount to deposit, in token units")
	cmd.Flags().Int64Var(&flags.rate, "rate", 0, "reward rate in percent per period")
	cmd.Flags().Int64Var(&flags.lockBlocks, "lock-blocks", calc.BlocksPerMonth, "lock period in blocks")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("rate")
	return cmd
}

func newPreviewWithdrawalCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &previewFlags{}
	cmd := &cobra.Command{
		Use:   "withdrawal",
		Short: "Preview the payout of a withdrawal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkNonNegative(cmd, "rate", "penalty-rate", "lock-blocks", "elapsed-blocks"); err != nil {
				return err
			}
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			principal, err := parseAmount(flags.amount, cfg.Decimals)
			if err != nil {
				return err
			}

			p := calc.PreviewWithdrawal(
				principal,
				big.NewInt(flags.rate),
				big.NewInt(flags.penaltyRate),
				big.NewInt(flags.lockBlocks),
				big.NewInt(flags.elapsedBlocks),
			)
			f := rootOpts.formatter(cmd)
			return f.Success(p, func(w io.Writer) { writeWithdrawalPreview(w, p, cfg.Decimals) })
		},
	}

	cmd.Flags().StringVar(&flags.amount, "amount", "", "deposited amount, in token units")
	cmd.Flags().Int64Var(&flags.rate, "rate", 0, "reward rate in percent per period")
	cmd.Flags().Int64Var(&flags.penaltyRate, "penalty-rate", 0, "early withdrawal penalty in percent")
	cmd.Flags().Int64Var(&flags.lockBlocks, "lock-blocks", calc.BlocksPerMonth, "lock period in blocks")
	cmd.Flags().Int64Var(&flags.elapsedBlocks, "elapsed-blocks", 0, "blocks elapsed since the deposit")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// checkNonNegative rejects negative values of the named int64 flags. The contract
// works on unsigned integers.
func checkNonNegative(cmd *cobra.Command, names ...string) error {
	for _, name := range names {
		v, err := cmd.Flags().GetInt64(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --"+name, err)
		}
		if v < 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("--%s must not be negative, got %d", name, v))
		}
	}
	return nil
}

func parseAmount(amount string, decimals int32) (*big.Int, error) {
	v, err := calc.ParseUnits(amount, decimals)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --amount", err)
	}
	return v, nil
}

func writeDepositPreview(w io.Writer, p calc.DepositPreview, decimals int32) {
	fmt.Fprintln(w, "Deposit preview")
	fmt.Fprintf(w, "  Principal:          %s\n", calc.FormatUnits(p.Principal, decimals))
	fmt.Fprintf(w, "  Lock period:        %s blocks\n", p.LockBlocks)
	fmt.Fprintf(w, "  Reward:             %s\n", calc.FormatUnits(p.Reward, decimals))
	fmt.Fprintf(w, "  Reputation points:  %s\n", p.ReputationPoints)
	fmt.Fprintf(w, "  Value at maturity:  %s\n", calc.FormatUnits(p.MaturityValue, decimals))
}

func writeWithdrawalPreview(w io.Writer, p calc.WithdrawalPreview, decimals int32) {
	kind := "matured"
	if p.Early {
		kind = "early"
	}
	fmt.Fprintf(w, "Withdrawal preview (%s)\n", kind)
	fmt.Fprintf(w, "  Principal:          %s\n", calc.FormatUnits(p.Principal, decimals))
	fmt.Fprintf(w, "  Elapsed:            %s blocks\n", p.ElapsedBlocks)
	fmt.Fprintf(w, "  Reward:             %s\n", calc.FormatUnits(p.Reward, decimals))
	fmt.Fprintf(w, "  Penalty:            %s\n", calc.FormatUnits(p.Penalty, decimals))
	fmt.Fprintf(w, "  Payout:             %s\n", calc.FormatUnits(p.Payout, decimals))
}
