package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeRealtime = "realtime-service"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeRealtime, "realtime", "rt":
		return ModeRealtime, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `realtime-service --port=3003`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--mode=") {
			mode = strings.TrimPrefix(arg, "--mode=")
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, nil
	}

	if m, ok := isKnownMode(mode); ok {
		mode = m
	}

	return mode, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // switch the color to cyan

	fmt.Fprintln(w, `Usage:
  ./qr-dine --mode=<service> [flags]

Services (modes):
  realtime-service    WebSocket fanout server for live order updates and vendor notifications

Examples:
  ./qr-dine --mode=realtime-service --port=3003
  ./qr-dine --mode=realtime-service --port=3003 --config=config/config.yaml`)

	fmt.Fprint(w, "\033[0m") // switch back to normal
}

func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./qr-dine --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
