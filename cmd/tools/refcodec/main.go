// cmd/tools/refcodec/main.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"maps-workers/internal/common/errors"
	"maps-workers/internal/maps/references"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type result struct {
	Attributes references.Attributes  `json:"attributes"`
	References []references.Reference `json:"references,omitempty"`
}

// run executes one refcodec command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || (args[0] != "extract" && args[0] != "inject") {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	command := args[0]

	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "map attributes document (JSON object)")
	refsPath := fs.String("refs", "", "references document (JSON array)")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(stderr, "refcodec: --in is required")
		return 2
	}

	var attrs references.Attributes
	if err := readJSON(*in, &attrs); err != nil {
		fmt.Fprintf(stderr, "refcodec: %v\n", err)
		return 1
	}
	var refs []references.Reference
	if *refsPath != "" {
		if err := readJSON(*refsPath, &refs); err != nil {
			fmt.Fprintf(stderr, "refcodec: %v\n", err)
			return 1
		}
	}

	var res result
	var err error
	switch command {
	case "extract":
		res.Attributes, res.References, err = references.Extract(attrs, refs)
	case "inject":
		res.Attributes, err = references.Inject(attrs, refs)
	}
	if err != nil {
		stdErr := errors.FromError(err)
		fmt.Fprintf(stderr, "refcodec: %s: %v\n", stdErr.Code, err)
		return 1
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(stderr, "refcodec: %v\n", err)
		return 1
	}

	if *out == "" {
		stdout.Write(buf.Bytes())
		return 0
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(stderr, "refcodec: %v\n", err)
		return 1
	}
	return 0
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

const usage = `Usage: refcodec <extract|inject> --in attributes.json [--refs references.json] [--out file]

  extract  replace index-pattern ids in layerListJSON with references
  inject   resolve references in layerListJSON back to index-pattern ids`
