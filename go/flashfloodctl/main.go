package main

import (
	"github.com/jessevdk/go-flags"
	mbp "go.gazette.dev/core/mainboilerplate"
)

const iniFilename = "flashflood.ini"

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "put", "Journal an event", `
Journal a single event, read from --data or from stdin.
An omitted --id is assigned a fresh UUID, and an omitted --date takes the
current time. The event id is printed on success.
`, &cmdPut{})

	addCmd(parser, "get", "Fetch an event", `
Fetch an event by id and write its data to stdout.
`, &cmdGet{})

	addCmd(parser, "update", "Stage new data for an event", `
Stage an update marker carrying replacement data for an event, read from
--data or from stdin. The marker takes effect once applied by "apply" or
by a compaction which consumes the event's journal; until then reads and
replays serve the original data.
`, &cmdUpdate{})

	addCmd(parser, "delete", "Stage deletion of an event", `
Stage a delete marker for an event. The event immediately stops resolving
by id, and leaves replays once the marker is applied.
`, &cmdDelete{})

	addCmd(parser, "compact", "Combine new journals", `
Combine all new one-event journals into a single larger journal, folding
in any update or delete markers staged against them. Compaction is
refused unless the new journals jointly reach --min-events and --min-size.
`, &cmdCompact{})

	addCmd(parser, "apply", "Apply staged update markers", `
Apply staged update and delete markers by rewriting each affected
journal. Markers are consumed journal by journal until --budget is
reached; a journal's markers are always applied together.
`, &cmdApply{})

	addCmd(parser, "replay", "Stream events to stdout", `
Replay journaled events in timestamp order, bounded by --from (exclusive)
and --to (inclusive). Events are printed as JSON lines, or as raw
concatenated data with --output data.
`, &cmdReplay{})

	addCmd(parser, "streams", "List presigned event streams", `
List journals overlapping the given range as JSON lines, each pairing a
journal manifest with a presigned URL of its data blob. Clients can
replay from the URLs directly, without store credentials.
`, &cmdStreams{})

	addCmd(parser, "ls", "List live journals", `
List the live journal of each version group overlapping the given range.
`, &cmdList{})

	addCmd(parser, "destroy", "Delete every object of the instance", `
Delete all journals, blobs, markers, and index entries beneath the
configured root prefix. Requires --yes.
`, &cmdDestroy{})

	serve, err := parser.Command.AddCommand("serve", "Serve a flashflood component", "", &struct{}{})
	mbp.Must(err, "failed to add command")

	addCmd(serve, "compactor", "Serve the compaction loop", `
Periodically combine new journals and apply staged markers, until
signaled to exit (via SIGTERM or SIGINT). Transient store failures are
retried with exponential backoff.
`, &cmdCompactor{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	mbp.Must(err, "failed to add flags parser command")
	return cmd
}
