// Package main is the entrypoint for the editor-gateway.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/morezero/editor-gateway/internal/config"
	"github.com/morezero/editor-gateway/internal/server"
)

const usage = `Usage: gateway [flags] [command]
       gateway serve                      Start the gateway (editor link, NATS, HTTP admin).
       gateway migrate up                 Run database migrations.
       gateway migrate status             Show migration status.
       gateway ensure-db [name]           Create the database if missing (default: name in GATEWAY_STORAGE_DATABASE_URL).
       gateway clear-errors               Delete every persisted error record.
       gateway docs [markdown|json]       Print the command reference.
       gateway call <method> [json]       Send one request to a running gateway over NATS.

Commands:
  serve           (default) Start the editor gateway.
  migrate up      Run database migrations only.
  migrate status  Show current migration status.
  ensure-db       Create the database on the same host as GATEWAY_STORAGE_DATABASE_URL.
  clear-errors    Delete persisted error records; schema preserved.
  docs            Render the command reference from the catalog without starting the gateway.
  call            Methods: execute, batch_execute, async_execute, get_async_status, cancel_async_operation,
                  list_async_operations, get_tool_metrics, health. Any other name is sent as
                  execute{"type": <name>, "parameters": <json>}.

Flags:
  -c, --config string     Config file (.yaml, .yml, .json or .jsonc); default GATEWAY_CONFIG_FILE.
      --timeout duration  Request timeout for call (default 30s).
      --json              Print call replies as raw JSON instead of tables.

Environment: GATEWAY_* overrides every config key, e.g. GATEWAY_CONNECTION_HOST, GATEWAY_COMMS_URL,
GATEWAY_STORAGE_DATABASE_URL. See config.example.yaml.
`

// options are the global command-line flags.
type options struct {
	configPath string
	timeout    time.Duration
	rawJSON    bool
	help       bool
}

func parseArgs(args []string) (*options, []string, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("gateway", pflag.ContinueOnError)
	fs.Usage = func() {}
	fs.StringVarP(&opts.configPath, "config", "c", "", "config file")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout for call")
	fs.BoolVar(&opts.rawJSON, "json", false, "print raw JSON replies")
	fs.BoolVarP(&opts.help, "help", "h", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

func main() {
	opts, args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n%s", err, usage)
		os.Exit(2)
	}
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}
	if opts.help {
		cmd = "help"
	}

	switch cmd {
	case "help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	case "migrate", "ensure-db", "clear-errors", "docs", "call":
		if err := runCommand(cmd, args[1:], opts); err != nil {
			log.Fatalf("gateway %s: %v", cmd, err)
		}
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	if err := server.Run(cfg); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func runCommand(cmd string, args []string, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch cmd {
	case "migrate":
		if len(args) < 1 {
			return fmt.Errorf("require subcommand (up, status)")
		}
		switch args[0] {
		case "up":
			return runMigrateUp(cfg)
		case "status":
			return runMigrateStatus(cfg, os.Stdout)
		default:
			return fmt.Errorf("unknown subcommand %q (use up, status)", args[0])
		}
	case "ensure-db":
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return runEnsureDB(cfg, name, os.Stdout)
	case "clear-errors":
		return runClearErrors(cfg, os.Stdout)
	case "docs":
		format := "markdown"
		if len(args) > 0 {
			format = args[0]
		}
		return runDocs(cfg, format, os.Stdout)
	case "call":
		if len(args) < 1 {
			return fmt.Errorf("require a method")
		}
		params := ""
		if len(args) > 1 {
			params = args[1]
		}
		return runCall(cfg, args[0], params, opts, os.Stdout)
	}
	return fmt.Errorf("unknown command %q", cmd)
}
