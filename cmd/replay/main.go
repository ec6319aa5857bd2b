package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"wordware-roast-be/pkg/wordware/stream"

	"github.com/fatih/color"
)

// stdoutSink prints forwarded text as it arrives.
type stdoutSink struct {
	w *bufio.Writer
}

func (s stdoutSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s stdoutSink) Flush() error                { return s.w.Flush() }

func prettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(b))
}

func main() {
	file := flag.String("file", "", "captured NDJSON stream (defaults to stdin)")
	threshold := flag.Int("threshold", stream.DefaultFallbackThreshold, "records before the output scope is forced open")
	chunkSize := flag.Int("chunk", 4096, "read size, small values simulate split records")
	flag.Parse()

	var in io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			color.Red("Failed to open %s: %v", *file, err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	if *chunkSize <= 0 {
		*chunkSize = 1
	}

	var outputs []map[string]interface{}
	pipeline := stream.NewPipeline(
		stream.NewRelay(stdoutSink{w: bufio.NewWriter(os.Stdout)}),
		*threshold,
		stream.Hooks{
			OnMalformed: func(line string, err error) {
				color.Red("\n[malformed] %v: %.120s", err, line)
			},
			OnTransition: func(rec stream.Record, tr stream.Transition) {
				switch {
				case tr == stream.TransitionForcedOpen:
					color.Yellow("\n[scope] forced open after %d records", *threshold)
				case rec.Kind == stream.KindGeneration && rec.State == stream.StateStart:
					color.Cyan("\n[generation] start %s", rec.Label)
				case rec.Kind == stream.KindGeneration:
					color.Cyan("\n[generation] end %s", rec.Label)
				}
			},
			OnOutputs: func(rec stream.Record) {
				outputs = append(outputs, rec.Output())
			},
		},
	)

	color.Cyan("🚀 Replaying stream\n")
	buf := make([]byte, *chunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if ferr := pipeline.Feed(buf[:n]); ferr != nil {
				color.Red("\nRelay closed: %v", ferr)
				os.Exit(1)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			color.Red("\nRead failed: %v", err)
			os.Exit(1)
		}
	}
	if err := pipeline.Finish(); err != nil {
		color.Red("\nRelay closed: %v", err)
		os.Exit(1)
	}

	stats := pipeline.Stats()
	color.Green("\n\nRecords: %d, malformed: %d, forwarded: %d, dropped: %d, forced open: %v",
		stats.Classified, stats.Malformed, stats.Forwarded, stats.Dropped, stats.ForcedOpen)
	color.Green("Generations:")
	prettyPrint(stats.Generations)

	if len(outputs) == 0 {
		color.Yellow("No outputs record in stream")
		return
	}
	color.Green("Outputs (last wins):")
	prettyPrint(outputs[len(outputs)-1])
}
