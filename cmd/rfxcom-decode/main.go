// Command rfxcom-decode decodes RFXtrx packets given as hex, one JSON object
// per packet. Packets come from the arguments or, when there are none, from
// stdin one per line.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agalera/rfxcom/internal/protocol"
	"github.com/agalera/rfxcom/internal/units"
	"github.com/agalera/rfxcom/internal/version"
)

type output struct {
	Input  string          `json:"input"`
	Family string          `json:"family,omitempty"`
	Device string          `json:"device,omitempty"`
	Fields protocol.Result `json:"fields,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func decodeLine(registry *protocol.Registry, line string, display units.Display) output {
	out := output{Input: line}
	buf, err := protocol.ParseHex(line)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	h, result, err := registry.Decode(buf)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	id, _ := result.Text("id")
	out.Family = h.Family()
	out.Device = protocol.DeviceTag(h.Family(), id)
	out.Fields = units.ConvertResult(result, display)
	return out
}

// run returns the process exit code: 0 when every packet decoded, 1 when
// any failed, 2 on usage errors.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rfxcom-decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	system := fs.String("units", units.Metric, "Display units: metric or imperial")
	speed := fs.String("speed-units", "", "Wind speed units: "+units.GetValidUnitsString()+" (default follows -units)")
	pretty := fs.Bool("pretty", false, "Indent JSON output")
	showVersion := fs.Bool("version", false, "Print version information and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.String("rfxcom-decode"))
		return 0
	}
	display, err := units.NewDisplay(*system, *speed)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	lines := fs.Args()
	if len(lines) == 0 {
		scan := bufio.NewScanner(stdin)
		for scan.Scan() {
			line := strings.TrimSpace(scan.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}
		if err := scan.Err(); err != nil {
			fmt.Fprintf(stderr, "failed to read stdin: %v\n", err)
			return 2
		}
	}

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	registry := protocol.DefaultRegistry()
	code := 0
	for _, line := range lines {
		out := decodeLine(registry, line, display)
		if out.Error != "" {
			code = 1
		}
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "failed to write output: %v\n", err)
			return 2
		}
	}
	return code
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
