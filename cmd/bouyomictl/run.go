package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRunCmd(a *app) *cobra.Command {
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run bouyomictl commands from a file, one per line (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			script, err := parseScript(r)
			if err != nil {
				return err
			}

			var failed int
			for _, line := range script {
				sub := newRootCmd(a)
				sub.SetArgs(line.args)
				sub.SetOut(cmd.OutOrStdout())
				sub.SetErr(cmd.ErrOrStderr())
				if err := sub.ExecuteContext(cmd.Context()); err != nil {
					err = fmt.Errorf("line %d: %w", line.number, err)
					if !keepGoing {
						return err
					}
					a.logger.Error(err.Error())
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d commands failed", failed, len(script))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "continue after a failing line")
	return cmd
}

type scriptLine struct {
	number int
	args   []string
}

// parseScript splits a script into shell-quoted argument lists. Blank lines
// and lines starting with # are skipped. Nested run lines are rejected, and
// so are global flags: every line shares the client set up for the run.
func parseScript(r io.Reader) ([]scriptLine, error) {
	globals := globalFlags()
	parser := shellwords.NewParser()
	var lines []scriptLine
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		args, err := parser.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "run" {
			return nil, fmt.Errorf("line %d: run cannot be nested", n)
		}
		if flag := findGlobalFlag(args, globals); flag != "" {
			return nil, fmt.Errorf("line %d: global flag %s must be given to run, not to a script line", n, flag)
		}
		lines = append(lines, scriptLine{number: n, args: args})
	}
	return lines, scanner.Err()
}

// globalFlags lists the root's persistent flags in every spelling accepted
// on the command line.
func globalFlags() map[string]bool {
	names := map[string]bool{}
	newRootCmd(newApp(io.Discard)).PersistentFlags().VisitAll(func(f *pflag.Flag) {
		names["--"+f.Name] = true
		if f.Shorthand != "" {
			names["-"+f.Shorthand] = true
		}
	})
	return names
}

func findGlobalFlag(args []string, globals map[string]bool) string {
	for _, arg := range args {
		if arg == "--" {
			return ""
		}
		name, _, _ := strings.Cut(arg, "=")
		if globals[name] {
			return name
		}
	}
	return ""
}
