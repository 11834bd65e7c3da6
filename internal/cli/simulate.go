package cli

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/cobra"

	"rotasave.org/internal/ledger"
	"rotasave.org/internal/rosca"
	"rotasave.org/internal/store/memory"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Members  uint32
	Amount   int64
	Duration uint64
	Start    int64
	Balance  int64
}

// Simulation is the outcome of a simulated rotation.
type Simulation struct {
	GroupID  uint64               `json:"group_id"`
	Status   rosca.Status         `json:"status"`
	Payouts  []rosca.PayoutRecord `json:"payouts"`
	Balances map[string]int64     `json:"balances"`
	Pool     int64                `json:"pool"`
	Events   int64                `json:"events"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a full rotation in memory",
		Long: `Run a complete rotation on an in-memory store with an in-memory ledger.

Every member is funded, contributes each cycle, and receives the pool once in
join order. The command prints the payouts and the final balances.

Example:
  rotasave simulate --members 5 --amount 250`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sim, err := runSimulation(ctx, opts)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(sim, func(w io.Writer) {
				writeSimulationText(w, opts, sim)
			})
		},
	}

	cmd.Flags().Uint32Var(&opts.Members, "members", 4, "number of members and cycles")
	cmd.Flags().Int64Var(&opts.Amount, "amount", 100, "contribution per member per cycle")
	cmd.Flags().Uint64Var(&opts.Duration, "duration", 7*24*3600, "cycle duration in seconds")
	cmd.Flags().Int64Var(&opts.Start, "start", 0, "unix time the group is created (default: now)")
	cmd.Flags().Int64Var(&opts.Balance, "balance", 0, "opening balance per member (default: amount x members)")

	return cmd
}

func memberName(i uint32) string { return fmt.Sprintf("member-%d", i+1) }

func runSimulation(ctx context.Context, opts *SimulateOptions) (Simulation, error) {
	balance := opts.Balance
	if balance == 0 {
		balance = opts.Amount * int64(opts.Members)
	}
	start := opts.timestamp(opts.Start)
	policy, _ := rosca.PolicyByName(opts.Policy)

	led := ledger.NewInMemory()
	var events atomic.Int64
	eng := rosca.NewEngine(memory.New(),
		rosca.WithTransferer(ledger.NewPayments(led)),
		rosca.WithAdvancePolicy(policy),
		rosca.WithEventSink(rosca.SinkFunc(func(context.Context, rosca.Event) error {
			events.Add(1)
			return nil
		})),
	)

	for i := uint32(0); i < opts.Members; i++ {
		if _, err := led.OpenAccount(ctx, memberName(i), ledger.Money{Currency: rosca.DefaultCurrency, Amount: balance}); err != nil {
			return Simulation{}, WrapExitError(ExitCommandError, "fund "+memberName(i), err)
		}
	}

	id, err := eng.CreateGroup(ctx, rosca.Principal(memberName(0)), opts.Amount, opts.Duration, opts.Members, start)
	if err != nil {
		return Simulation{}, engineFailure("create group", err)
	}
	for i := uint32(1); i < opts.Members; i++ {
		if err := eng.JoinGroup(ctx, id, rosca.Principal(memberName(i))); err != nil {
			return Simulation{}, engineFailure("join group", err)
		}
	}

	for cycle := uint32(0); cycle < opts.Members; cycle++ {
		due := start + int64(cycle+1)*int64(opts.Duration)
		for i := uint32(0); i < opts.Members; i++ {
			if _, err := eng.Contribute(ctx, id, rosca.Principal(memberName(i)), opts.Amount, due-1); err != nil {
				return Simulation{}, engineFailure("contribute", err)
			}
		}
		if _, err := eng.AdvanceCycle(ctx, id, due); err != nil {
			return Simulation{}, engineFailure("advance cycle", err)
		}
	}

	g, err := eng.GetGroup(ctx, id)
	if err != nil {
		return Simulation{}, engineFailure("load group", err)
	}
	payouts, err := eng.ListPayouts(ctx, id)
	if err != nil {
		return Simulation{}, engineFailure("list payouts", err)
	}

	sim := Simulation{
		GroupID:  id,
		Status:   g.Status,
		Payouts:  payouts,
		Balances: make(map[string]int64, opts.Members),
		Events:   events.Load(),
	}
	for i := uint32(0); i < opts.Members; i++ {
		bal, err := led.GetBalance(ctx, memberName(i), rosca.DefaultCurrency)
		if err != nil {
			return Simulation{}, WrapExitError(ExitCommandError, "balance "+memberName(i), err)
		}
		sim.Balances[memberName(i)] = bal.Amount
	}
	pool, err := led.GetBalance(ctx, string(rosca.PoolAccount(id)), rosca.DefaultCurrency)
	if err != nil {
		return Simulation{}, WrapExitError(ExitCommandError, "pool balance", err)
	}
	sim.Pool = pool.Amount
	return sim, nil
}

func writeSimulationText(w io.Writer, opts *SimulateOptions, sim Simulation) {
	fmt.Fprintf(w, "group %d: %d members x %d, %s after %d events\n", sim.GroupID, opts.Members, opts.Amount, sim.Status, sim.Events)
	for _, p := range sim.Payouts {
		fmt.Fprintf(w, "  cycle %d -> %s: %d\n", p.Cycle, p.Recipient, p.Amount)
	}
	for i := uint32(0); i < opts.Members; i++ {
		fmt.Fprintf(w, "  %s balance %d\n", memberName(i), sim.Balances[memberName(i)])
	}
	fmt.Fprintf(w, "  pool balance %d\n", sim.Pool)
}
