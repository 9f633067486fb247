// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/adiadia/activity-relay/internal/config"
	"github.com/adiadia/activity-relay/internal/discord"
	"github.com/adiadia/activity-relay/internal/domain"
	"github.com/adiadia/activity-relay/internal/queue"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type connectivityTester interface {
	TestConnectivity(ctx context.Context, env string) discord.ConnectivityResult
}

type testEventRecorder interface {
	TestEvent(ctx context.Context) domain.EventRecord
}

type queueStatser interface {
	Stats(ctx context.Context, connection, queue string) (queue.Stats, error)
}

func runTestWebhookCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("test-webhook", flag.ContinueOnError)
	fs.SetOutput(stderr)
	detailed := fs.Bool("detailed", false, "show detailed configuration information")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	factory, err := loadFactory()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitFailure
	}
	defer factory.Close()

	cfg := factory.Config()
	fmt.Fprintln(stdout, "🧪 Testing Discord Webhook Integration...")
	fmt.Fprintln(stdout)
	if *detailed {
		writeConfiguration(stdout, cfg)
	}

	return testWebhook(ctx, stdout, cfg.Env, factory.Webhook(), func(ctx context.Context) (testEventRecorder, error) {
		return factory.Activity(ctx)
	})
}

// testWebhook checks the webhook directly, then sends system.test through
// the regular pipeline. The recorder is built lazily so a broken webhook is
// reported without touching the database.
func testWebhook(
	ctx context.Context,
	out io.Writer,
	env string,
	tester connectivityTester,
	recorder func(ctx context.Context) (testEventRecorder, error),
) int {
	fmt.Fprintln(out, "Step 1: Testing webhook connection...")
	res := tester.TestConnectivity(ctx, env)
	if !res.Success {
		fmt.Fprintf(out, "❌ %s\n   %s\n", res.Message, res.Detail)
		return exitFailure
	}
	fmt.Fprintf(out, "✅ %s\n   %s\n\n", res.Message, res.Detail)

	fmt.Fprintln(out, "Step 2: Testing through activity logger...")
	svc, err := recorder(ctx)
	if err != nil {
		fmt.Fprintln(out, "❌ Activity logger test threw an exception!")
		fmt.Fprintf(out, "   Error: %v\n", err)
		return exitFailure
	}
	if rec := svc.TestEvent(ctx); !rec.Persisted() {
		fmt.Fprintln(out, "❌ Activity logger test failed!")
		fmt.Fprintln(out, "   Check the logs for more details.")
		return exitFailure
	}
	fmt.Fprintln(out, "✅ Activity logger test completed successfully!")
	fmt.Fprintln(out, "   Check your Discord channel for the test message.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "🎉 All tests passed! Your Discord integration is working correctly.")
	return exitOK
}

func writeConfiguration(out io.Writer, cfg config.Config) {
	fmt.Fprintln(out, "📋 Current Configuration:")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Setting\tValue\tStatus")
	webhook := cfg.Discord.WebhookURL != ""
	fmt.Fprintf(tw, "Webhook URL\t%s\t%s\n", pick(webhook, discord.MaskURL(cfg.Discord.WebhookURL), "Not set"), mark(webhook))
	fmt.Fprintf(tw, "Bot Name\t%s\t✅\n", cfg.Discord.BotName)
	fmt.Fprintf(tw, "Discord Enabled\t%s\t%s\n", pick(cfg.Notifications.Enabled, "Yes", "No"), mark(cfg.Notifications.Enabled))
	fmt.Fprintf(tw, "Queue Enabled\t%s\t📊\n", pick(cfg.Notifications.Queue, "Yes", "No"))
	fmt.Fprintf(tw, "Queue Connection\t%s\t📊\n", cfg.Notifications.QueueConnection)
	fmt.Fprintf(tw, "Queue Name\t%s\t📊\n", cfg.Notifications.QueueName)
	fmt.Fprintf(tw, "Environment\t%s\t📊\n", cfg.Env)
	fmt.Fprintf(tw, "Bootup Messages\t%s\t%s\n", pick(cfg.Notifications.SendBootup, "Enabled", "Disabled"), mark(cfg.Notifications.SendBootup))
	_ = tw.Flush()
	fmt.Fprintln(out)

	fmt.Fprintln(out, "🎯 Enabled Events:")
	names := make([]string, 0, len(cfg.Notifications.Events))
	for name, ev := range cfg.Notifications.Events {
		if ev.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		fmt.Fprintln(out, "No events are currently enabled!")
		fmt.Fprintln(out)
		return
	}

	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Event Type\tIcon\tColor")
	for _, name := range names {
		ev := cfg.Notifications.Events[name]
		icon := ev.Icon
		if icon == "" {
			icon = "📝"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, icon, colorName(ev.Color))
	}
	_ = tw.Flush()
	fmt.Fprintln(out)
}

var colorNames = map[int]string{
	0x00ff00: "Green",
	0xff0000: "Red",
	0xffff00: "Yellow",
	0x0099ff: "Blue",
	0xff9900: "Orange",
	0x9900ff: "Purple",
	0x00ffff: "Cyan",
}

func colorName(color int) string {
	if color == 0 {
		color = 0x9900ff
	}
	if name, ok := colorNames[color]; ok {
		return name
	}
	return fmt.Sprintf("#%06X", color)
}

func pick(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func mark(ok bool) string {
	return pick(ok, "✅", "❌")
}

func runQueueStatsCommand(ctx context.Context, stdout, stderr io.Writer) int {
	factory, err := loadFactory()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitFailure
	}
	defer factory.Close()

	broker, err := factory.Queue(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "queue: %v\n", err)
		return exitFailure
	}

	cfg := factory.Config()
	if err := writeQueueStats(ctx, stdout, broker, cfg.Notifications.QueueConnection, cfg.Notifications.QueueName); err != nil {
		fmt.Fprintf(stderr, "queue stats: %v\n", err)
		return exitFailure
	}
	return exitOK
}

func writeQueueStats(ctx context.Context, out io.Writer, q queueStatser, connection, name string) error {
	stats, err := q.Stats(ctx, connection, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s/%s: %s ready, %s in flight\n",
		connection, name,
		humanize.Comma(stats.Ready),
		humanize.Comma(stats.InFlight),
	)
	return nil
}
