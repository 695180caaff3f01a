package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/memoboard/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "submissions",
		Usage:   "List audited writes, newest first",
		Aliases: []string{"subs"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "state",
				Aliases: []string{"s"},
				Usage:   "Filter by state (awaiting_approval, broadcast, confirmed, failed)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum number of submissions",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of submissions to skip",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			subs, err := store.ListSubmissions(context.Background(), db.ListSubmissionsParams{
				State:  c.String("state"),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, toSubmissionOutputs(subs))
			}

			printSubmissionTable(c.App.Writer, subs)
			fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(subs))
			return nil
		},
	}
}

func getSubmissionCommand() *cli.Command {
	return &cli.Command{
		Name:      "submission",
		Usage:     "Get one audited write",
		Aliases:   []string{"sub"},
		ArgsUsage: "<handle>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: submission handle")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			sub, err := store.GetSubmission(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get submission: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, toSubmissionOutput(sub))
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Handle:   %s\n", sub.Handle)
			fmt.Fprintf(w, "Backend:  %s\n", sub.Backend)
			fmt.Fprintf(w, "Name:     %s\n", sub.DisplayName)
			fmt.Fprintf(w, "Text:     %s\n", sub.Text)
			fmt.Fprintf(w, "Value:    %s\n", sub.Value)
			fmt.Fprintf(w, "State:    %s\n", sub.State)
			fmt.Fprintf(w, "Reason:   %s\n", formatOptional(sub.Reason))
			fmt.Fprintf(w, "Message:  %s\n", formatOptional(sub.Message))
			fmt.Fprintf(w, "Tx:       %s\n", formatOptional(sub.TxRef))
			fmt.Fprintf(w, "Created:  %s\n", sub.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Updated:  %s\n", sub.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Count submissions by state and indexed memos",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			byState, err := store.CountSubmissionsByState(ctx)
			if err != nil {
				return fmt.Errorf("failed to count submissions: %w", err)
			}

			backend := c.String("backend")
			memos, err := store.CountMemos(ctx, backend)
			if err != nil {
				return fmt.Errorf("failed to count memos: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"submissions": byState,
					"memos":       map[string]int64{backend: memos},
				})
			}

			printStats(c.App.Writer, byState, backend, memos)
			return nil
		},
	}
}

// submissionOutput is the JSON shape of a submission; Value is a decimal string.
type submissionOutput struct {
	Handle      string    `json:"handle"`
	Backend     string    `json:"backend"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	Value       string    `json:"value"`
	State       string    `json:"state"`
	Reason      *string   `json:"reason,omitempty"`
	Message     *string   `json:"message,omitempty"`
	TxRef       *string   `json:"tx_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toSubmissionOutput(s *db.Submission) submissionOutput {
	out := submissionOutput{
		Handle:      s.Handle,
		Backend:     s.Backend,
		DisplayName: s.DisplayName,
		Text:        s.Text,
		State:       s.State,
		Reason:      s.Reason,
		Message:     s.Message,
		TxRef:       s.TxRef,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.Value != nil {
		out.Value = s.Value.String()
	}
	return out
}

func toSubmissionOutputs(subs []*db.Submission) []submissionOutput {
	out := make([]submissionOutput, len(subs))
	for i, s := range subs {
		out[i] = toSubmissionOutput(s)
	}
	return out
}

func printSubmissionTable(out io.Writer, subs []*db.Submission) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tSTATE\tREASON\tNAME\tTX\tCREATED")
	for _, s := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Handle,
			s.State,
			formatOptional(s.Reason),
			s.DisplayName,
			formatOptional(s.TxRef),
			s.CreatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

func printStats(out io.Writer, byState map[string]int64, backend string, memos int64) {
	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tSUBMISSIONS")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%d\n", s, byState[s])
	}
	w.Flush()
	fmt.Fprintf(out, "\nIndexed memos (%s): %d\n", backend, memos)
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// formatOptional renders a nullable column.
func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
