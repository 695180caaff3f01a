package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/memoboard/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subjectForTopic maps a topic name to its JetStream subject filter.
func subjectForTopic(topic, handle string) (string, error) {
	switch topic {
	case "indexed":
		return natspkg.SubjectIndexed, nil
	case "feed":
		return natspkg.SubjectFeed, nil
	case "lifecycle":
		if handle != "" {
			return natspkg.LifecycleSubject(handle), nil
		}
		return natspkg.LifecycleSubject("*"), nil
	case "all":
		return natspkg.StreamSubjects, nil
	default:
		return "", fmt.Errorf("unknown topic %q (want indexed, feed, lifecycle or all)", topic)
	}
}

// subscribeCommand subscribes to memo events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to memo events",
		ArgsUsage: "[indexed|feed|lifecycle|all]",
		Description: `Subscribe to real-time memo events published to NATS JetStream.

Topics:
  indexed    memos.indexed, one event per memo the indexer stores
  feed       memos.feed, feed refresh outcomes
  lifecycle  memos.lifecycle.{handle}, write state transitions

Example:
  memoboard nats subscribe lifecycle --handle 6f1c... --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "handle",
				Usage: "Narrow the lifecycle topic to one submission",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "memoboard-cli",
			},
		},
		Action: func(c *cli.Context) error {
			topic := c.Args().First()
			if topic == "" {
				topic = "all"
			}
			subject, err := subjectForTopic(topic, c.String("handle"))
			if err != nil {
				return err
			}
			return streamEvents(c.App.Writer, c.String("nats-url"), subject, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// streamEvents connects to NATS and prints events until interrupted.
func streamEvents(out io.Writer, natsURL, subject string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := natspkg.Connect(natsURL, "memoboard-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		if durable {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if jsonOutput {
				fmt.Fprintln(out, string(msg.Data()))
			} else if err := printEvent(out, msg.Subject(), msg.Data()); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

// printEvent renders one event by subject.
func printEvent(out io.Writer, subject string, data []byte) error {
	switch {
	case subject == natspkg.SubjectIndexed:
		var ev natspkg.MemoEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		fmt.Fprintf(out, "[memo #%d] %s  %s: %s\n", ev.Position, ev.SubmittedAt.Format(time.RFC3339), ev.DisplayName, ev.Text)

	case subject == natspkg.SubjectFeed:
		var ev natspkg.FeedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		if ev.Error != "" {
			fmt.Fprintf(out, "[feed] %s: %s\n", ev.Status, ev.Error)
		} else {
			fmt.Fprintf(out, "[feed] %s, %d memos\n", ev.Status, ev.FeedSize)
		}

	default:
		var ev natspkg.LifecycleEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		fmt.Fprintf(out, "[lifecycle %s] %s -> %s", ev.Handle, ev.From, ev.State)
		if ev.Reason != "" {
			fmt.Fprintf(out, " (%s: %s)", ev.Reason, ev.Message)
		}
		if ev.TxRef != "" {
			fmt.Fprintf(out, " tx=%s", ev.TxRef)
		}
		fmt.Fprintln(out)
	}
	return nil
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the MEMOS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "memoboard-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
