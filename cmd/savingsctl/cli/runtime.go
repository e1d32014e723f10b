package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-savings-sdk/config"
	"github.com/pilacorp/go-savings-sdk/journal"
	"github.com/pilacorp/go-savings-sdk/ledger"
	"github.com/pilacorp/go-savings-sdk/ledger/evm"
	"github.com/pilacorp/go-savings-sdk/ledger/stacks"
	"github.com/pilacorp/go-savings-sdk/signer"
	"github.com/pilacorp/go-savings-sdk/tracker"
)

var _ tracker.Journal = (*journal.Journal)(nil)

// runtime holds what one command invocation needs: configuration, a status reader
// for the configured backend and, when enabled, the journal.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	reader  ledger.StatusReader
	vault   *evm.Vault
	journal *journal.Journal
}

// loadConfig reads --config and validates the result.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

func (o *RootOptions) newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// newRuntime connects to the configured backend. withSigner requires a transaction
// signer and an EVM backend.
func (o *RootOptions) newRuntime(ctx context.Context, cmd *cobra.Command, withSigner bool) (*runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: o.newLogger(cmd, cfg)}

	switch cfg.Backend {
	case config.BackendStacks:
		if withSigner {
			return nil, NewExitError(ExitCommandError, "submitting transactions is only supported by the evm backend")
		}
		client, err := stacks.NewClient(cfg.StacksAPI, stacks.WithAPIKey(cfg.StacksAPIKey))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create stacks client", err)
		}
		rt.reader = client

	case config.BackendEVM:
		var txSigner signer.Provider
		if withSigner {
			if !cfg.HasSigner() {
				return nil, NewExitError(ExitCommandError, "no signer configured: set signer.privateKey or signer.remoteUrl")
			}
			if txSigner, err = newSigner(cfg.Signer); err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to create signer", err)
			}
		}
		vault, err := evm.Dial(ctx, evm.ClientConfig{
			RPCURL:          cfg.RPC,
			ContractAddress: cfg.VaultAddress,
			ChainID:         cfg.ChainID,
			Logger:          rt.logger,
		}, txSigner)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to vault", err)
		}
		rt.vault = vault
		rt.reader = vault
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		rt.journal = j
	}

	rt.logger.DebugContext(ctx, "runtime ready", "backend", cfg.Backend, "journal", cfg.JournalPath)
	return rt, nil
}

// newSigner prefers a local key over the remote signer.
func newSigner(cfg config.SignerConfig) (signer.Provider, error) {
	if cfg.PrivateKey != "" {
		p, err := signer.NewKeyProvider(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := signer.NewRemoteProvider(cfg.RemoteURL, cfg.RemoteAPIKey, cfg.Address)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newTracker creates a tracker configured from the runtime. Extra options are applied last.
func (rt *runtime) newTracker(opts ...tracker.Option) *tracker.Tracker {
	base := []tracker.Option{
		tracker.WithPollInterval(rt.cfg.PollInterval),
		tracker.WithMaxAttempts(rt.cfg.MaxAttempts),
		tracker.WithDeadline(rt.cfg.Deadline),
		tracker.WithLogger(rt.logger),
	}
	if rt.journal != nil {
		base = append(base, tracker.WithJournal(rt.journal))
	}
	return tracker.New(rt.reader, append(base, opts...)...)
}

// progress returns an observer printing transitions in verbose mode.
func progress(f *OutputFormatter) tracker.Option {
	return tracker.WithObserver(func(st tracker.State) {
		f.VerboseLog("%s %s", st.Status, st.TransactionID)
	})
}

func (rt *runtime) requireJournal() error {
	if rt.journal == nil {
		return NewExitError(ExitCommandError, "journal is disabled: set journalPath in the config")
	}
	return nil
}

func (rt *runtime) close() {
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Error("failed to close journal", "error", err)
		}
	}
}

// track waits for t to leave Pending and prints the outcome.
func (rt *runtime) track(ctx context.Context, f *OutputFormatter, t *tracker.Tracker, decorate func(*StateView)) error {
	st, err := t.Wait(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("stopped waiting for %s", st.TransactionID), err)
	}

	view := newStateView(st)
	if decorate != nil && st.Status == tracker.Success {
		decorate(&view)
	}
	return writeState(f, view)
}
