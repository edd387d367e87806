// Package cli runs delegated command-line agents as supervised subprocesses.
package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/corvid-labs/rook/internal/config"
)

// AdapterName selects one of the two configured adapters.
type AdapterName string

const (
	AdapterPrimary   AdapterName = "primary"
	AdapterSecondary AdapterName = "secondary"
)

// Adapter resolves a delegation request into a final argument vector. The
// two conventions differ in how the working directory and output travel:
// the primary writes its answer to stdout and inherits cwd from the process;
// the secondary takes cwd as a flag and writes its final message to a file
// named at invocation time, preferred over stdout when present.
type Adapter struct {
	Name    AdapterName
	Command string
	Args    []string

	// CwdFlag, when set, passes the working directory as a flag instead of
	// via the process working directory.
	CwdFlag string

	// OutputFileFlag, when set, appends this flag plus a capture path at
	// invocation time; the file's content is preferred over stdout.
	OutputFileFlag string
}

// PrimaryAdapter builds the stdout-convention adapter from config.
func PrimaryAdapter(cfg *config.CLIAdapterConfig) *Adapter {
	return &Adapter{Name: AdapterPrimary, Command: cfg.Command, Args: cfg.Args}
}

// SecondaryAdapter builds the flag-convention adapter from config.
func SecondaryAdapter(cfg *config.CLIAdapterConfig) *Adapter {
	return &Adapter{
		Name:           AdapterSecondary,
		Command:        cfg.Command,
		Args:           cfg.Args,
		CwdFlag:        "-C",
		OutputFileFlag: "--output-last-message",
	}
}

// invocation is a fully resolved subprocess launch plan.
type invocation struct {
	command    string
	args       []string
	dir        string
	outputFile string
}

// resolve builds the final argument vector. Runtime flags are appended here,
// never baked into configuration: the cwd flag, the output-capture path, and
// the task text last.
func (a *Adapter) resolve(task, cwd, artifactDir string, now time.Time) invocation {
	inv := invocation{command: a.Command, args: append([]string(nil), a.Args...)}
	if cwd != "" {
		if a.CwdFlag != "" {
			inv.args = append(inv.args, a.CwdFlag, cwd)
		} else {
			inv.dir = cwd
		}
	}
	if a.OutputFileFlag != "" {
		inv.outputFile = filepath.Join(artifactDir,
			fmt.Sprintf("%s-last-%s.txt", a.Name, now.UTC().Format("20060102-150405.000")))
		inv.args = append(inv.args, a.OutputFileFlag, inv.outputFile)
	}
	inv.args = append(inv.args, task)
	return inv
}
