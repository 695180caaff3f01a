package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/brojonat/memoboard/client"
	"github.com/urfave/cli/v2"
)

func newClient(c *cli.Context) *client.Client {
	// Only errors to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "Show the form, the last write and the feed",
		Action: func(c *cli.Context) error {
			view, err := newClient(c).GetView(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get view: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, view)
			}
			printView(c.App.Writer, view)
			return nil
		},
	}
}

func formCommand() *cli.Command {
	return &cli.Command{
		Name:  "form",
		Usage: "Edit the memo form; omitted fields are left unchanged",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Display name",
			},
			&cli.StringFlag{
				Name:    "text",
				Aliases: []string{"t"},
				Usage:   "Memo text",
			},
		},
		Action: func(c *cli.Context) error {
			var name, text *string
			if c.IsSet("name") {
				v := c.String("name")
				name = &v
			}
			if c.IsSet("text") {
				v := c.String("text")
				text = &v
			}
			if name == nil && text == nil {
				return fmt.Errorf("at least one of --name or --text is required")
			}

			view, err := newClient(c).UpdateForm(c.Context, name, text)
			if err != nil {
				return fmt.Errorf("failed to update form: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, view)
			}
			printForm(c.App.Writer, view)
			return nil
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Pay for and write the current form to the ledger",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Block until the write is confirmed or fails",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long --wait blocks",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			handle, view, err := cl.Submit(c.Context)
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(c.App.Writer, view.Lifecycle)
				}
				fmt.Fprintf(c.App.Writer, "✓ Submitted %s (%s)\n", handle, view.Lifecycle.State)
				return nil
			}

			if !c.Bool("json") {
				fmt.Fprintf(os.Stderr, "Submitted %s, waiting for confirmation...\n", handle)
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			lc, err := cl.Await(ctx, handle)
			if err != nil {
				return fmt.Errorf("failed to await write %s: %w", handle, err)
			}

			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, lc); err != nil {
					return err
				}
			} else {
				printLifecycle(c.App.Writer, lc)
			}

			if lc.State == client.StateFailed {
				return fmt.Errorf("write failed: %s", lc.Reason)
			}
			return nil
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Reload the feed from the ledger now",
		Action: func(c *cli.Context) error {
			if err := newClient(c).Refresh(c.Context); err != nil {
				return fmt.Errorf("failed to refresh: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Refresh requested")
			return nil
		},
	}
}

func memosCommand() *cli.Command {
	return &cli.Command{
		Name:  "memos",
		Usage: "List indexed memos, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum number of memos",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of memos to skip",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter each memo must satisfy (repeatable, all must be truthy)",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			page, err := newClient(c).ListMemos(c.Context, c.String("backend"), client.ListOptions{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list memos: %w", err)
			}

			memos := make([]client.Memo, 0, len(page.Memos))
			for _, m := range page.Memos {
				ok, err := matchesJQ(codes, m)
				if err != nil {
					return fmt.Errorf("jq filter failed: %w", err)
				}
				if ok {
					memos = append(memos, m)
				}
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, memos)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "POSITION\tSUBMITTED\tNAME\tTEXT")
			for _, m := range memos {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					m.Position,
					m.SubmittedAt.Format(time.RFC3339),
					m.DisplayName,
					m.Text,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nShowing %d of %d memos\n", len(memos), page.Total)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream view changes via SSE",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter each message must satisfy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			jsonOutput := c.Bool("json")
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming view changes... (Ctrl+C to stop)\n\n")
			}

			err = newClient(c).Stream(ctx, func(msg client.StreamMessage) error {
				ok, err := matchesJQ(codes, msg)
				if err != nil || !ok {
					return nil
				}
				if jsonOutput {
					data, err := json.Marshal(msg)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, string(data))
					return nil
				}
				printStreamMessage(c.App.Writer, msg)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}

func printView(w io.Writer, v *client.View) {
	printForm(w, v)
	fmt.Fprintln(w)
	printLifecycle(w, &v.Lifecycle)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Feed (%d memos", len(v.Feed))
	if !v.FeedRefreshedAt.IsZero() {
		fmt.Fprintf(w, ", refreshed %s", v.FeedRefreshedAt.Format(time.RFC3339))
	}
	if v.RefreshPending {
		fmt.Fprint(w, ", refresh pending")
	}
	if v.Refreshing {
		fmt.Fprint(w, ", refreshing")
	}
	if v.FeedStale {
		fmt.Fprint(w, ", stale")
	}
	fmt.Fprintln(w, ")")
	if v.FeedError != "" {
		fmt.Fprintf(w, "  ⚠ %s\n", v.FeedError)
	}
	for _, r := range v.Feed {
		fmt.Fprintf(w, "  %s  %s: %s\n", r.SubmittedAt.Format(time.RFC3339), r.DisplayName, r.Text)
	}
}

func printForm(w io.Writer, v *client.View) {
	fmt.Fprintf(w, "Name:        %s\n", v.Form.DisplayName)
	fmt.Fprintf(w, "Text:        %s\n", v.Form.Text)
	fmt.Fprintf(w, "Submittable: %v\n", v.Submittable)
}

func printLifecycle(w io.Writer, lc *client.Lifecycle) {
	fmt.Fprintf(w, "State:       %s\n", lc.State)
	if lc.Handle != "" {
		fmt.Fprintf(w, "Handle:      %s\n", lc.Handle)
	}
	if lc.TxRef != "" {
		fmt.Fprintf(w, "Tx:          %s\n", lc.TxRef)
	}
	if lc.Reason != "" {
		fmt.Fprintf(w, "Reason:      %s\n", lc.Reason)
	}
	if lc.Message != "" {
		fmt.Fprintf(w, "Message:     %s\n", lc.Message)
	}
}

func printStreamMessage(w io.Writer, msg client.StreamMessage) {
	v := msg.View
	switch msg.Kind {
	case "initial":
		fmt.Fprintf(w, "[initial] state=%s feed=%d submittable=%v\n", v.Lifecycle.State, len(v.Feed), v.Submittable)
	case "lifecycle":
		fmt.Fprintf(w, "[lifecycle] %s", v.Lifecycle.State)
		if v.Lifecycle.Reason != "" {
			fmt.Fprintf(w, " (%s)", v.Lifecycle.Reason)
		}
		if v.Lifecycle.TxRef != "" {
			fmt.Fprintf(w, " tx=%s", v.Lifecycle.TxRef)
		}
		fmt.Fprintln(w)
	case "feed_refreshed":
		fmt.Fprintf(w, "[feed] %d memos\n", len(v.Feed))
	case "feed_error":
		fmt.Fprintf(w, "[feed] error: %s\n", v.FeedError)
	case "form":
		fmt.Fprintf(w, "[form] name=%q text=%q submittable=%v\n", v.Form.DisplayName, v.Form.Text, v.Submittable)
	default:
		fmt.Fprintf(w, "[%s]\n", msg.Kind)
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
