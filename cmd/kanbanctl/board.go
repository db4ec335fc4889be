package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/kiwari-pos/kanban/internal/app"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/kanban"
	"github.com/kiwari-pos/kanban/internal/lock"
	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/spf13/cobra"
)

func groupsCmd() *cobra.Command {
	var mode, tab, query string
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List the board's groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := openApp(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Board.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh board: %w", err)
			}
			groups, err := a.Board.Groups(ctx, mode, tab, query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, groups)
			}
			printGroups(out, groups)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", enum.GroupModeSupplier, "Grouping: supplier, orderMethod or none")
	cmd.Flags().StringVarP(&tab, "tab", "t", enum.TabAll, "View tab: ready, recent or all")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search group and item names")
	return cmd
}

func orderCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "order <mode> <group-key>",
		Short: "Order every requesting card in a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupAction(cmd, args[0], args[1], func(ctx context.Context, a *app.App, g kanban.Group) *service.BatchOutcome {
				return a.Processor.Order(ctx, g, service.OrderOptions{Confirmed: confirm})
			})
		},
	}
	cmd.Flags().BoolVarP(&confirm, "confirm", "y", false, "Proceed when some items lack order information")
	return cmd
}

func completeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <mode> <group-key>",
		Short: "Mark every requested card in a group as in process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGroupAction(cmd, args[0], args[1], func(ctx context.Context, a *app.App, g kanban.Group) *service.BatchOutcome {
				return a.Processor.Complete(ctx, g)
			})
		},
	}
}

func cardCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:       "card <card-id> <request|order|complete|fulfill>",
		Short:     "Run an action on a single card",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{enum.CardActionRequest, enum.CardActionOrder, enum.CardActionComplete, enum.CardActionFulfill},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, action := kanban.CardID(args[0]), args[1]

			ctx, a, err := openApp(cmd, app.Options{Opener: printOpener(cmd.OutOrStdout())})
			if err != nil {
				return err
			}
			defer a.Close()

			release, err := a.Guard.Acquire(ctx, lock.Key(lock.TenantKey(a.Config.TenantID), "card", string(id)))
			if err != nil {
				return err
			}
			defer release()

			if err := a.Board.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh board: %w", err)
			}
			item, err := a.Board.Item(ctx, id)
			if err != nil {
				return err
			}

			var out *service.BatchOutcome
			switch action {
			case enum.CardActionRequest:
				out = a.Processor.Request(ctx, item)
			case enum.CardActionOrder:
				out = a.Processor.OrderOne(ctx, item, service.OrderOptions{Confirmed: confirm})
			case enum.CardActionComplete:
				out = a.Processor.CompleteOne(ctx, item)
			case enum.CardActionFulfill:
				out = a.Processor.Fulfill(ctx, item)
			default:
				return fmt.Errorf("unknown action %q", action)
			}
			return reportOutcome(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVarP(&confirm, "confirm", "y", false, "Order even without order information")
	return cmd
}

func runGroupAction(cmd *cobra.Command, mode, key string, run func(context.Context, *app.App, kanban.Group) *service.BatchOutcome) error {
	ctx, a, err := openApp(cmd, app.Options{Opener: printOpener(cmd.OutOrStdout())})
	if err != nil {
		return err
	}
	defer a.Close()

	release, err := a.Guard.Acquire(ctx, lock.Key(lock.TenantKey(a.Config.TenantID), mode, key))
	if err != nil {
		return err
	}
	defer release()

	if err := a.Board.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh board: %w", err)
	}
	group, err := a.Board.Group(ctx, mode, key)
	if err != nil {
		return err
	}
	return reportOutcome(cmd.OutOrStdout(), run(ctx, a, group))
}

// printOpener lists links for the operator to open; there is no browser here.
func printOpener(w io.Writer) service.LinkOpener {
	return service.LinkOpenerFunc(func(_ context.Context, url string) error {
		_, err := fmt.Fprintf(w, "open: %s\n", url)
		return err
	})
}

// --- Output ---

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printGroups(w io.Writer, groups []kanban.Group) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No groups.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tMECHANISM\tITEMS\tORDERABLE\tCOST\tSTATUSES")
	for _, g := range groups {
		s := g.Summary()
		statuses := make([]string, 0, len(s.ByStatus))
		for _, label := range []string{enum.DerivedRequesting, enum.DerivedRequested, enum.DerivedInProgress, enum.DerivedReadyToOrder, enum.DerivedFulfilled} {
			if n := s.ByStatus[label]; n > 0 {
				statuses = append(statuses, fmt.Sprintf("%s=%d", label, n))
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			g.Key, g.Name, kanban.MechanismLabel(g.RepresentativeMechanism),
			s.Total, s.Orderable, s.TotalCost.StringFixed(2), strings.Join(statuses, ", "))
	}
	tw.Flush()
}

func reportOutcome(w io.Writer, out *service.BatchOutcome) error {
	if jsonOutput {
		return writeJSON(w, out)
	}

	switch out.Kind {
	case service.OutcomeNothingToDo:
		fmt.Fprintln(w, "Nothing to do.")
		return nil
	case service.OutcomeNeedsConfirmation:
		fmt.Fprintf(w, "%d items have no order information: %s\n", len(out.Skipped), joinIDs(out.Skipped))
		fmt.Fprintln(w, "Re-run with --confirm to order the rest.")
		return nil
	}

	if len(out.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped without order information: %s\n", joinIDs(out.Skipped))
	}
	for _, e := range out.Email {
		if e == nil {
			continue
		}
		if e.Err != nil {
			fmt.Fprintf(w, "Email to %s failed: %v\n", e.Supplier, e.Err)
			continue
		}
		if e.Email != nil {
			fmt.Fprintf(w, "Email to %s: %s\n", e.Supplier, e.Email.Subject)
		}
	}

	totals := out.Totals()
	fmt.Fprintf(w, "Successful: %d  Failed: %d\n", totals.Successful, totals.Failed)
	for _, f := range totals.Failures {
		fmt.Fprintf(w, "  %s [%s] %s\n", f.CardID, f.Class, f.Reason)
	}
	if out.RefreshErr != nil {
		fmt.Fprintf(w, "Board refresh failed: %v\n", out.RefreshErr)
	}
	return nil
}

func joinIDs(ids []kanban.CardID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
