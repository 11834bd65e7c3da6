package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rotasave.org/internal/rosca"
)

// NewGroupCommand creates the group command tree.
func NewGroupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Create and operate savings groups",
	}
	cmd.AddCommand(
		newGroupCreateCommand(rootOpts),
		newGroupJoinCommand(rootOpts),
		newGroupContributeCommand(rootOpts),
		newGroupAdvanceCommand(rootOpts),
		newGroupCancelCommand(rootOpts),
		newGroupShowCommand(rootOpts),
	)
	return cmd
}

func newGroupCreateCommand(opts *RootOptions) *cobra.Command {
	var (
		id        uint64
		creator   string
		amount    int64
		duration  uint64
		members   uint32
		createdAt int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a group; the creator takes the first rotation slot",
		Example: `  rotasave group create --creator alice --amount 100 --members 4 --duration 604800
  rotasave group create --id 42 --creator alice --amount 100 --members 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd, func(ctx context.Context, eng *rosca.Engine) error {
				ts := opts.timestamp(createdAt)
				var err error
				if cmd.Flags().Changed("id") {
					err = eng.CreateGroupWithID(ctx, id, rosca.Principal(creator), amount, duration, members, ts)
				} else {
					id, err = eng.CreateGroup(ctx, rosca.Principal(creator), amount, duration, members, ts)
				}
				if err != nil {
					return engineFailure("create group", err)
				}
				return showGroup(ctx, cmd, opts, eng, id)
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "explicit group id (default: next in sequence)")
	cmd.Flags().StringVar(&creator, "creator", "", "creating principal (required)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "contribution per member per cycle (required)")
	cmd.Flags().Uint64Var(&duration, "duration", 7*24*3600, "cycle duration in seconds")
	cmd.Flags().Uint32Var(&members, "members", 0, "maximum members, which is also the number of cycles (required)")
	cmd.Flags().Int64Var(&createdAt, "created-at", 0, "creation unix time (default: now)")
	_ = cmd.MarkFlagRequired("creator")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("members")
	return cmd
}

func newGroupJoinCommand(opts *RootOptions) *cobra.Command {
	var member string
	cmd := &cobra.Command{
		Use:   "join <group-id>",
		Short: "Join a forming group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, eng *rosca.Engine) error {
				if err := eng.JoinGroup(ctx, id, rosca.Principal(member)); err != nil {
					return engineFailure("join group", err)
				}
				return showGroup(ctx, cmd, opts, eng, id)
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "joining principal (required)")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func newGroupContributeCommand(opts *RootOptions) *cobra.Command {
	var (
		member    string
		amount    int64
		timestamp int64
	)
	cmd := &cobra.Command{
		Use:   "contribute <group-id>",
		Short: "Record a member's contribution for the current cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, eng *rosca.Engine) error {
				rec, err := eng.Contribute(ctx, id, rosca.Principal(member), amount, opts.timestamp(timestamp))
				if err != nil {
					return engineFailure("contribute", err)
				}
				return opts.formatter(cmd).Success(rec, func(w io.Writer) {
					fmt.Fprintf(w, "recorded %d from %s for cycle %d of group %d\n", rec.Amount, rec.Member, rec.Cycle, rec.GroupID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "contributing principal (required)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount, must equal the group's contribution (required)")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix time of the contribution (default: now)")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newGroupAdvanceCommand(opts *RootOptions) *cobra.Command {
	var timestamp int64
	cmd := &cobra.Command{
		Use:   "advance <group-id>",
		Short: "Close the current cycle and pay out its recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, eng *rosca.Engine) error {
				payout, err := eng.AdvanceCycle(ctx, id, opts.timestamp(timestamp))
				if err != nil {
					return engineFailure("advance cycle", err)
				}
				return opts.formatter(cmd).Success(payout, func(w io.Writer) {
					fmt.Fprintf(w, "cycle %d of group %d paid %d to %s\n", payout.Cycle, payout.GroupID, payout.Amount, payout.Recipient)
				})
			})
		},
	}
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix time of the payout (default: now)")
	return cmd
}

func newGroupCancelCommand(opts *RootOptions) *cobra.Command {
	var (
		by        string
		timestamp int64
	)
	cmd := &cobra.Command{
		Use:   "cancel <group-id>",
		Short: "Cancel a group (creator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, eng *rosca.Engine) error {
				if err := eng.CancelGroup(ctx, id, rosca.Principal(by), opts.timestamp(timestamp)); err != nil {
					return engineFailure("cancel group", err)
				}
				return showGroup(ctx, cmd, opts, eng, id)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "cancelling principal, must be the creator (required)")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "unix time of the cancellation (default: now)")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newGroupShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <group-id>",
		Short: "Print a group and its payout history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseGroupID(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd, func(ctx context.Context, eng *rosca.Engine) error {
				return showGroup(ctx, cmd, opts, eng, id)
			})
		},
	}
}

// groupReport is what show and the mutating group commands print.
type groupReport struct {
	Group        rosca.Group          `json:"group"`
	PayoutAmount int64                `json:"payout_amount"`
	NextCycleDue int64                `json:"next_cycle_due"`
	Payouts      []rosca.PayoutRecord `json:"payouts"`
}

func showGroup(ctx context.Context, cmd *cobra.Command, opts *RootOptions, eng *rosca.Engine, id uint64) error {
	g, err := eng.GetGroup(ctx, id)
	if err != nil {
		return engineFailure("load group", err)
	}
	payouts, err := eng.ListPayouts(ctx, id)
	if err != nil {
		return engineFailure("list payouts", err)
	}
	report := groupReport{
		Group:        g,
		PayoutAmount: g.PayoutAmount(),
		NextCycleDue: g.NextCycleDue(),
		Payouts:      payouts,
	}
	return opts.formatter(cmd).Success(report, func(w io.Writer) {
		writeGroupText(w, report)
	})
}

func writeGroupText(w io.Writer, r groupReport) {
	g := r.Group
	members := make([]string, len(g.Members))
	for i, m := range g.Members {
		members[i] = string(m)
	}
	fmt.Fprintf(w, "group %d (%s)\n", g.ID, g.Status)
	fmt.Fprintf(w, "  creator:      %s\n", g.Creator)
	fmt.Fprintf(w, "  contribution: %d every %ds\n", g.ContributionAmount, g.CycleDurationSeconds)
	fmt.Fprintf(w, "  members:      %d/%d [%s]\n", len(g.Members), g.MaxMembers, strings.Join(members, ", "))
	fmt.Fprintf(w, "  cycle:        %d/%d\n", g.CurrentCycleNumber(), g.MaxMembers)
	fmt.Fprintf(w, "  payout:       %d\n", r.PayoutAmount)
	for _, p := range r.Payouts {
		fmt.Fprintf(w, "  cycle %d -> %s: %d at %d\n", p.Cycle, p.Recipient, p.Amount, p.Timestamp)
	}
}

func parseGroupID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid group id %q", raw), err)
	}
	return id, nil
}
