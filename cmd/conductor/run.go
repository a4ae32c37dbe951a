package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/conductor/internal/config"
	"github.com/alexisbeaulieu97/conductor/internal/logger"
	"github.com/alexisbeaulieu97/conductor/internal/luahost"
	"github.com/alexisbeaulieu97/conductor/internal/session"
)

type runOptions struct {
	ConfigPath string
	Watch      bool
	JSON       bool
	Verbose    bool
}

var runCmdRunner = runRoom

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Load a room's plugins and fire its scenario events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = args[0]
			opts.Verbose = root.verbose

			if err := validateConfigPath(opts.ConfigPath); err != nil {
				return err
			}

			return runCmdRunner(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Reload plugin scripts when their files change")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output the firing summary in JSON format")

	return cmd
}

func runRoom(cmd *cobra.Command, opts runOptions) error {
	cfg, err := config.ParseConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	log, err := newRoomLogger(cfg.Settings, opts.Verbose, opts.JSON)
	if err != nil {
		return err
	}

	for _, warning := range config.OrderWarnings(cfg) {
		log.Warn(warning)
	}

	host, paths, err := loadRoom(cfg, opts.ConfigPath, log)
	if err != nil {
		return err
	}
	defer host.Close()
	sess := host.Session()

	firings := make([]firingResult, 0, len(cfg.Scenario))
	failures := 0
	for _, ev := range cfg.Scenario {
		started := time.Now()
		result, err := sess.Trigger(ev.Event, ev.Args...)
		if err != nil {
			failures++
		}
		firings = append(firings, firingResult{
			Event:    ev.Event,
			Result:   result,
			Err:      err,
			Duration: time.Since(started),
		})
	}

	if opts.JSON {
		if err := renderRunJSON(cmd, sess, firings); err != nil {
			return err
		}
	} else {
		renderRunSummary(cmd, sess, firings)
	}

	if opts.Watch || cfg.Settings.Watch {
		if err := watchPlugins(host, paths, log); err != nil {
			return err
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d scenario events failed", failures, len(firings))
	}

	return nil
}

// newRoomLogger builds the CLI logger. Logs go to stderr so the summary
// output on stdout stays machine readable.
func newRoomLogger(settings config.Settings, verbose, jsonOutput bool) (*logger.Logger, error) {
	level := settings.LogLevel
	if level == "" {
		level = "info"
	}
	if verbose {
		level = "debug"
	}

	human := settings.HumanLogs || term.IsTerminal(int(os.Stderr.Fd()))
	if jsonOutput {
		human = false
	}

	return logger.New(logger.Options{Level: level, HumanReadable: human, Writer: os.Stderr})
}

// loadRoom builds a session from the config and loads every plugin script.
// Returns the host and the resolved script paths for watching.
func loadRoom(cfg *config.Config, configPath string, log *logger.Logger) (*luahost.Host, []string, error) {
	sess := session.New(session.Options{
		Name:   cfg.Name,
		Logger: log,
		Shared: cfg.Shared,
	})
	host := luahost.New(sess, log)

	base := filepath.Dir(configPath)
	paths := make([]string, 0, len(cfg.Plugins))
	for _, pc := range cfg.Plugins {
		path := pc.ResolvePath(base)
		id, err := host.LoadFile(path, pc.Config)
		if err != nil {
			host.Close()
			return nil, nil, fmt.Errorf("load plugin %s: %w", pc.DisplayName(), err)
		}
		if len(pc.Order) > 0 {
			sess.OverrideOrder(id, pc.Order)
		}
		if !pc.Enabled {
			sess.DisablePlugin(id)
		}
		paths = append(paths, path)
	}

	return host, paths, nil
}

func watchPlugins(host *luahost.Host, paths []string, log *logger.Logger) error {
	watcher, err := luahost.NewWatcher(host, log)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			watcher.Stop()
			return err
		}
	}
	watcher.Start()
	defer watcher.Stop()

	log.Info("watching plugin files; press ctrl-c to stop")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return nil
}

type firingResult struct {
	Event    string
	Result   bool
	Err      error
	Duration time.Duration
}

func renderRunSummary(cmd *cobra.Command, sess *session.Session, firings []firingResult) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Room: %s\n\n", sess.Name())
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "PLUGIN\tVERSION\tENABLED\tHANDLERS")
	for _, info := range sess.Plugins() {
		fmt.Fprintf(writer, "%s\t%s\t%t\t%s\n",
			info.Name,
			valueOrDash(info.Version),
			info.Enabled,
			strings.Join(info.Handlers, ", "),
		)
	}
	writer.Flush()

	if len(firings) == 0 {
		return
	}

	fmt.Fprintln(out)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "EVENT\tRESULT\tDURATION\tERROR")
	for _, fr := range firings {
		fmt.Fprintf(writer, "%s\t%s\t%.3fs\t%s\n",
			fr.Event,
			formatFiringResult(fr),
			fr.Duration.Seconds(),
			errString(fr.Err),
		)
	}
	writer.Flush()
}

func renderRunJSON(cmd *cobra.Command, sess *session.Session, firings []firingResult) error {
	type jsonPlugin struct {
		Name     string   `json:"name"`
		Version  string   `json:"version,omitempty"`
		Enabled  bool     `json:"enabled"`
		Handlers []string `json:"handlers,omitempty"`
	}

	type jsonFiring struct {
		Event    string  `json:"event"`
		Result   bool    `json:"result"`
		Error    string  `json:"error,omitempty"`
		Duration float64 `json:"duration_seconds"`
	}

	type jsonOutput struct {
		Room    string       `json:"room"`
		Plugins []jsonPlugin `json:"plugins"`
		Firings []jsonFiring `json:"firings,omitempty"`
	}

	output := jsonOutput{Room: sess.Name()}
	for _, info := range sess.Plugins() {
		output.Plugins = append(output.Plugins, jsonPlugin{
			Name:     info.Name,
			Version:  info.Version,
			Enabled:  info.Enabled,
			Handlers: info.Handlers,
		})
	}
	for _, fr := range firings {
		output.Firings = append(output.Firings, jsonFiring{
			Event:    fr.Event,
			Result:   fr.Result,
			Error:    errString(fr.Err),
			Duration: fr.Duration.Seconds(),
		})
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func formatFiringResult(fr firingResult) string {
	switch {
	case fr.Err != nil:
		return "error"
	case !fr.Result:
		return "vetoed"
	default:
		return "ok"
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
