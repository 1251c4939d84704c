package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/entcache"
)

var errNotFound = errors.New("not found")

type entryJSON struct {
	ID        string          `json:"id"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
}

func printEntry(w io.Writer, e entcache.Entry[json.RawMessage]) error {
	return json.NewEncoder(w).Encode(entryJSON{ID: e.ID, Value: e.Value, Timestamp: e.Timestamp})
}

// parseValue takes JSON as is and quotes anything else as a string.
func parseValue(s string) (json.RawMessage, error) {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	b, err := json.Marshal(s)
	return json.RawMessage(b), err
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ctx := cmd.Context()
			st, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			e, err := st.GetEntry(ctx, args[0])
			if err != nil {
				return err
			}
			if e.Timestamp == 0 && e.Value == nil {
				return fmt.Errorf("%s/%s: %w", a.entity, args[0], errNotFound)
			}
			return printEntry(cmd.OutOrStdout(), e)
		},
	}
}

func setCmd(a *app) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "set <id> <value>",
		Short: "Store a value; JSON is kept as is, anything else is stored as a string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ctx := cmd.Context()
			v, err := parseValue(args[1])
			if err != nil {
				return err
			}
			st, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			var opts []entcache.WriteOption
			if local {
				opts = append(opts, entcache.NoBroadcast())
			}
			if err := st.Set(ctx, args[0], v, opts...); err != nil {
				return err
			}
			return st.Flush(ctx)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "do not tell other processes")
	return cmd
}

func rmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Remove entries",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ctx := cmd.Context()
			st, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := st.Remove(ctx, id); err != nil {
					return err
				}
			}
			return st.Flush(ctx)
		},
	}
}

func lsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "Print every loaded entry, one JSON object per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			ctx := cmd.Context()
			st, err := a.open(ctx, nil)
			if err != nil {
				return err
			}
			for _, e := range st.GetAll(ctx) {
				if err := printEntry(cmd.OutOrStdout(), e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type watchEvent struct{ kind, id string }

// watchHooks forwards to the wrapped hooks and reports applied sibling
// updates. Events are dropped if the printer falls behind.
type watchHooks struct {
	entcache.Hooks
	events chan watchEvent
}

func (w watchHooks) RemoteApplied(entity, kind, id string) {
	w.Hooks.RemoteApplied(entity, kind, id)
	select {
	case w.events <- watchEvent{kind: kind, id: id}:
	default:
	}
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow updates made by other processes (needs --redis)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()
			if a.redisAddr == "" {
				return errors.New("watch needs --redis")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events := make(chan watchEvent, 64)
			st, err := a.open(ctx, func(o *entcache.Options[json.RawMessage]) {
				o.Hooks = watchHooks{Hooks: o.Hooks, events: events}
			})
			if err != nil {
				return err
			}
			return watch(ctx, cmd.OutOrStdout(), st, events)
		},
	}
}

func watch(ctx context.Context, w io.Writer, st entcache.Store[json.RawMessage], events <-chan watchEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if ev.kind == "remove" {
				fmt.Fprintf(w, "- %s\n", ev.id)
				continue
			}
			e, err := st.GetEntry(ctx, ev.id)
			if err != nil {
				return err
			}
			fmt.Fprint(w, "+ ")
			if err := printEntry(w, e); err != nil {
				return err
			}
		}
	}
}
