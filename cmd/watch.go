package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"anchorlink/events"
	"anchorlink/program"
)

var flagWatchEvents []string

var watchCmd = &cobra.Command{
	Use:   "watch <idl.json>",
	Short: "Stream decoded program events live.",
	Long: `Subscribes to the program's log stream and prints each decoded event
as a JSON line. Ctrl-C stops the stream and prints the feed counters.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := loadSchema(args[0])
		if err != nil {
			return err
		}
		client, cfg, err := buildClient()
		if err != nil {
			return err
		}
		defer client.Close()

		prog, err := program.New(schema, client)
		if err != nil {
			return err
		}

		var matcher events.Matcher
		if len(flagWatchEvents) > 0 {
			matcher = events.Filter{Names: flagWatchEvents}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		feed := prog.Events(cfg.SubscribeConfig())
		defer feed.Close()
		sub := feed.Subscribe(matcher, 0)

		errCh := make(chan error, 1)
		go func() { errCh <- feed.Run(ctx) }()

		fmt.Println(headerStyle.Render("watching " + prog.ID().String()))
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return nil
				}
				if err := printEvent(ev); err != nil {
					return err
				}
			case err := <-errCh:
				stats := feed.Stats()
				fmt.Printf("%s delivered=%d dropped=%d discarded=%d\n",
					labelStyle.Render("stats:"), stats.Delivered, stats.Dropped, stats.Discarded)
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	},
}

func printEvent(ev *events.ParsedEvent) error {
	return printJSON(map[string]interface{}{
		"name":      ev.Name,
		"slot":      ev.Context.Slot,
		"signature": ev.Context.Signature.String(),
		"data":      ev.Data,
	})
}

func init() {
	watchCmd.Flags().StringSliceVar(&flagWatchEvents, "event", nil, "event names to keep (repeatable; default all)")
	rootCmd.AddCommand(watchCmd)
}
