package main

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"flowops/internal/render"
	"flowops/internal/types"
)

const (
	version      = "dev"
	defaultWidth = 120
)

// output is where list and detail commands print.
type output struct {
	stdout io.Writer
	now    func() time.Time
	width  int
}

func (o output) table(t *render.Table) error {
	return t.Write(o.stdout, o.width)
}

func (o output) markdown(md string) {
	fmt.Fprintln(o.stdout, render.Markdown(md, o.width))
}

func (o output) json(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o output) clock() time.Time {
	if o.now == nil {
		return time.Now()
	}
	return o.now()
}

type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// parseArgs parses flags that may appear before or after positional
// arguments and returns the positionals in order.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func requireID(positional []string, what string) (string, error) {
	if len(positional) < 1 || strings.TrimSpace(positional[0]) == "" {
		return "", fmt.Errorf("%s id is required", what)
	}
	return strings.TrimSpace(positional[0]), nil
}

// parseKeyValues turns key=value pairs into a record. Values that parse as
// JSON keep their type; anything else is a string.
func parseKeyValues(pairs []string) (types.Record, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	raw := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var decoded any
		dec := json.NewDecoder(strings.NewReader(value))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil || dec.More() {
			decoded = value
		}
		raw[key] = decoded
	}
	return types.RecordFromAny(raw)
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	path = strings.TrimSpace(path)
	switch path {
	case "":
		return nil, errors.New("--file is required")
	case "-":
		return io.ReadAll(stdin)
	default:
		return os.ReadFile(path)
	}
}

func terminalWidth() int {
	if cols, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && cols > 20 {
		return cols
	}
	return defaultWidth
}

func exitOnErr(label string, err error, stderr io.Writer) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "%s error: %v\n", label, err)
	os.Exit(1)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified string
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value
			}
		}
		if revision != "" {
			if modified == "true" {
				return revision + "-dirty"
			}
			return revision
		}
	}

	exe, err := os.Executable()
	if err == nil {
		file, err := os.Open(exe)
		if err == nil {
			defer file.Close()
			hasher := sha256.New()
			if _, err := io.Copy(hasher, file); err == nil {
				sum := hasher.Sum(nil)
				return fmt.Sprintf("bin-%x", sum[:6])
			}
		}
	}

	return version
}
