package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/conductor/internal/config"
)

type ordersOptions struct {
	ConfigPath string
	Event      string
	JSON       bool
}

var ordersCmdRunner = runOrders

func newOrdersCmd(root *rootFlags) *cobra.Command {
	opts := ordersOptions{}

	cmd := &cobra.Command{
		Use:     "orders <config-file>",
		Aliases: []string{"order"},
		Short:   "Show the deterministic execution order for each event",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = args[0]

			if err := validateConfigPath(opts.ConfigPath); err != nil {
				return err
			}

			return ordersCmdRunner(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Event, "event", "", "Only show the order for one event")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output in JSON format")

	return cmd
}

func runOrders(cmd *cobra.Command, opts ordersOptions) error {
	cfg, err := config.ParseConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	// Scripts run during load; keep their log noise down for listing.
	log, err := newRoomLogger(config.Settings{LogLevel: "error"}, false, opts.JSON)
	if err != nil {
		return err
	}

	host, _, err := loadRoom(cfg, opts.ConfigPath, log)
	if err != nil {
		return err
	}
	defer host.Close()

	orders, err := host.Session().ExecutionOrders()
	if err != nil {
		return err
	}

	if opts.Event != "" {
		order, ok := orders[opts.Event]
		if !ok {
			return fmt.Errorf("no handlers registered for event %q", opts.Event)
		}
		orders = map[string][]string{opts.Event: order}
	}

	if opts.JSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(orders)
	}

	if len(orders) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No handlers registered.")
		return nil
	}

	events := make([]string, 0, len(orders))
	for event := range orders {
		events = append(events, event)
	}
	sort.Strings(events)

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "EVENT\tEXECUTION ORDER")
	for _, event := range events {
		fmt.Fprintf(writer, "%s\t%s\n", event, strings.Join(orders[event], " -> "))
	}
	return writer.Flush()
}
