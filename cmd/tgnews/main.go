package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// baseOpts are the options shared by every command.
var baseOpts = new(struct {
	Config  string `long:"config" env:"CONFIG_PATH" default:"config/config.yaml" description:"Base configuration file"`
	Profile string `long:"profile" env:"PROFILE" description:"Deployment profile overlay (default: default)"`
})

func main() {
	var parser = flags.NewParser(baseOpts, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "listener", "Run the ingestion listener", `
Connect to Telegram and persist incoming channel messages until signaled
to exit (via SIGTERM or SIGINT).
`, &cmdListener{})

	addCmd(parser, "processor", "Run one digest pass", `
Fetch the unprocessed backlog, filter duplicates, select and moderate
posts, publish the digest and mark the batch processed.
`, &cmdProcessor{})

	addCmd(parser, "all", "Run the listener and the scheduler together", `
Run the ingestion listener alongside the scheduled jobs: the daily
processor pass, the periodic status report and the weekly cleanup.
This is the default command.
`, &cmdAll{})

	addCmd(parser, "auth", "Authorize the Telegram session", `
Run the interactive login-code flow and store the MTProto session file
for the active profile.
`, &cmdAuth{})

	addCmd(parser, "send-status", "Send one status report", `
Compose the pipeline statistics message and deliver it through the
status bot.
`, &cmdSendStatus{})

	addCmd(parser, "check-health", "Check process health and exit", `
Inspect the listener heartbeat and the database, print a report and
exit 0 when healthy, 1 when degraded, 2 when unhealthy.
`, &cmdCheckHealth{})

	addCmd(parser, "run-healthcheck-server", "Serve /healthz and /metrics", `
Run the HTTP healthcheck endpoint for external probes, until signaled
to exit.
`, &cmdHealthServer{})

	addCmd(parser, "migrate-embeddings", "Migrate stored embeddings in place", `
Re-encode legacy embedding blobs in the published table to the current
storage format. Safe to re-run; rows already in the current format are
left untouched.
`, &cmdMigrate{})

	var args = os.Args[1:]
	if len(args) == 0 {
		args = []string{"all"}
	}
	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Stdout.WriteString(flagsErr.Message + "\n")
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	if err != nil {
		log.WithFields(log.Fields{"command": a, "error": err}).Fatal("failed to add command")
	}
	return cmd
}
