package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/memoboard/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

// indexScheduler is a temporal.Scheduler that holds a connection.
type indexScheduler interface {
	temporal.Scheduler
	Close()
}

// openScheduler connects to Temporal. Tests replace it.
var openScheduler = func(c *cli.Context) (indexScheduler, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		logger,
	)
	if err != nil {
		return nil, err
	}
	return tc, nil
}

func getTemporalClient(c *cli.Context) (client.Client, error) {
	temporalClient, err := client.Dial(client.Options{
		HostPort:  c.String("temporal-host"),
		Namespace: c.String("temporal-namespace"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}
	return temporalClient, nil
}

// scheduleArg returns the schedule ID argument, defaulting to the index
// schedule of the selected backend.
func scheduleArg(c *cli.Context) string {
	if c.NArg() > 0 {
		return c.Args().First()
	}
	return temporal.ScheduleID(c.String("backend"))
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List all Temporal schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			iter, err := temporalClient.ScheduleClient().List(ctx, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE ID\tPAUSED\tNEXT RUN")
			count := 0
			for iter.HasNext() {
				schedule, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				next := "-"
				if len(schedule.NextActionTimes) > 0 {
					next = schedule.NextActionTimes[0].Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%v\t%s\n", schedule.ID, schedule.Paused, next)
				count++
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", count)
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe a Temporal schedule (default: the backend's index schedule)",
		Aliases:   []string{"desc"},
		ArgsUsage: "[schedule-id]",
		Action: func(c *cli.Context) error {
			scheduleID := scheduleArg(c)
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Schedule ID:    %s\n", scheduleID)
			fmt.Fprintf(w, "State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Fprintf(w, "Paused:         %v\n", desc.Schedule.State.Paused)

			if action := desc.Schedule.Action; action != nil {
				if wa, ok := action.(*client.ScheduleWorkflowAction); ok {
					fmt.Fprintf(w, "\nWorkflow:\n")
					fmt.Fprintf(w, "  Workflow:     %s\n", wa.Workflow)
					fmt.Fprintf(w, "  Task Queue:   %s\n", wa.TaskQueue)
				}
			}

			if len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Fprintf(w, "\nSchedule Spec:\n")
				for i, interval := range desc.Schedule.Spec.Intervals {
					fmt.Fprintf(w, "  Interval %d:   Every %v\n", i+1, interval.Every)
				}
			}

			fmt.Fprintf(w, "\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if len(desc.Info.RecentActions) > 0 {
				lastAction := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Fprintf(w, "Last Action:  %s\n", lastAction.ActualTime.Format(time.RFC3339))
			}

			return nil
		},
	}
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create or update the index schedule for the backend",
		Aliases:   []string{"upsert"},
		ArgsUsage: "<interval>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: interval (e.g. 1m)")
			}

			interval, err := time.ParseDuration(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid interval: %w", err)
			}
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s, got %v", interval)
			}

			scheduler, err := openScheduler(c)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			backend := c.String("backend")
			if err := scheduler.UpsertIndexSchedule(c.Context, backend, interval); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule ready: %s\n", temporal.ScheduleID(backend))
			fmt.Fprintf(c.App.Writer, "  Backend:  %s\n", backend)
			fmt.Fprintf(c.App.Writer, "  Interval: %v\n", interval)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the index schedule for the backend",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			backend := c.String("backend")
			scheduleID := temporal.ScheduleID(backend)

			// Confirm deletion unless --force
			if !c.Bool("force") {
				fmt.Fprintf(c.App.Writer, "Are you sure you want to delete schedule %s? (yes/no): ", scheduleID)
				var response string
				fmt.Fscanln(c.App.Reader, &response)
				if response != "yes" {
					fmt.Fprintln(c.App.Writer, "Cancelled")
					return nil
				}
			}

			scheduler, err := openScheduler(c)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			if err := scheduler.DeleteIndexSchedule(c.Context, backend); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule deleted: %s\n", scheduleID)
			return nil
		},
	}
}

func triggerIndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger",
		Usage: "Run the indexer for the backend now",
		Action: func(c *cli.Context) error {
			scheduler, err := openScheduler(c)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			workflowID, err := scheduler.TriggerIndex(c.Context, c.String("backend"))
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "✓ Index run started: %s\n", workflowID)
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause",
		Usage:     "Pause a Temporal schedule (default: the backend's index schedule)",
		ArgsUsage: "[schedule-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via memoboard CLI",
			},
		},
		Action: func(c *cli.Context) error {
			scheduleID := scheduleArg(c)
			note := c.String("note")

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: note}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule paused: %s\n", scheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume a paused Temporal schedule (default: the backend's index schedule)",
		ArgsUsage: "[schedule-id]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via memoboard CLI",
			},
		},
		Action: func(c *cli.Context) error {
			scheduleID := scheduleArg(c)
			note := c.String("note")

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, scheduleID)
			if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: note}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "✓ Schedule resumed: %s\n", scheduleID)
			return nil
		},
	}
}
