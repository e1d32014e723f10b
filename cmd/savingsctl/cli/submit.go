package cli

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-savings-sdk/calc"
	"github.com/pilacorp/go-savings-sdk/ledger"
	"github.com/pilacorp/go-savings-sdk/tracker"
)

type submitFlags struct {
	noWait bool
}

func (s *submitFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&s.noWait, "no-wait", false, "return after submission without waiting for confirmation")
}

// NewDepositCommand creates the deposit command.
func NewDepositCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		amount     string
		lockBlocks int64
		flags      submitFlags
	)

	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit into the savings vault and track the transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkNonNegative(cmd, "lock-blocks"); err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := rootOpts.newRuntime(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer rt.close()

			principal, err := parseAmount(amount, rt.cfg.Decimals)
			if err != nil {
				return err
			}

			decorate := func(v *StateView) {
				id, err := rt.vault.DepositID(ctx, v.TxID)
				if err != nil {
					rt.logger.WarnContext(ctx, "failed to read deposit id", "tx_id", v.TxID, "error", err)
					return
				}
				v.DepositID = id.String()
			}
			return rt.submit(ctx, rootOpts.formatter(cmd), rt.vault.Deposit(principal, big.NewInt(lockBlocks)), flags, decorate)
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "amount to deposit, in token units")
	cmd.Flags().Int64Var(&lockBlocks, "lock-blocks", calc.BlocksPerMonth, "lock period in blocks")
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// NewWithdrawCommand creates the withdraw command.
func NewWithdrawCommand(rootOpts *RootOptions) *cobra.Command {
	var flags submitFlags

	cmd := &cobra.Command{
		Use:   "withdraw <deposit-id>",
		Short: "Withdraw a deposit from the savings vault and track the transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			depositID, ok := new(big.Int).SetString(args[0], 10)
			if !ok || depositID.Sign() < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid deposit id %q", args[0]))
			}

			ctx := cmd.Context()
			rt, err := rootOpts.newRuntime(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.submit(ctx, rootOpts.formatter(cmd), rt.vault.Withdraw(depositID), flags, nil)
		},
	}

	flags.register(cmd)
	return cmd
}

func (rt *runtime) submit(ctx context.Context, f *OutputFormatter, op ledger.Operation, flags submitFlags, decorate func(*StateView)) error {
	if flags.noWait {
		return rt.send(ctx, f, op)
	}

	t := rt.newTracker(progress(f))
	res, err := t.Execute(ctx, op)
	if err != nil {
		_ = writeState(f, newStateView(t.State()))
		return WrapExitError(ExitFailure, "submission failed", err)
	}

	f.VerboseLog("submitted %s", res.TransactionID)
	return rt.track(ctx, f, t, decorate)
}

// send submits op without tracking it. The transaction is journaled as pending so a
// later resume picks it up; nothing keeps running after the command returns.
func (rt *runtime) send(ctx context.Context, f *OutputFormatter, op ledger.Operation) error {
	res, err := op(ctx)
	if err != nil {
		_ = writeState(f, StateView{Status: tracker.Error.String(), Detail: err.Error()})
		return WrapExitError(ExitFailure, "submission failed", err)
	}
	if res.TransactionID == "" {
		return writeState(f, StateView{Status: tracker.Success.String()})
	}

	if rt.journal != nil {
		if err := rt.journal.Begin(ctx, res.TransactionID); err != nil {
			rt.logger.ErrorContext(ctx, "failed to journal transaction", "tx_id", res.TransactionID, "error", err)
		}
	}
	return writeState(f, StateView{Status: tracker.Pending.String(), TxID: res.TransactionID})
}
