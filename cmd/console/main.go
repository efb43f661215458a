// Command console is an interactive shell for the OmniVM language. Lines
// are collected until a blank line, then the snippet is compiled and run.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lmorg/readline"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"omnivm/pkg/config"
	"omnivm/pkg/journal"
	"omnivm/pkg/runner"
)

const (
	prompt         = "omni> "
	continuePrompt = "....> "
	historySize    = 10
)

// history is the read side of the run journal.
type history interface {
	Recent(n int) ([]journal.Entry, error)
	Get(id string) (journal.Entry, error)
}

// session buffers snippet lines between runs.
type session struct {
	runner  *runner.Runner
	history history // nil without a journal
	lines   []string
}

// feed takes one input line. It returns the text to show, if any, and
// whether the user asked to leave.
func (s *session) feed(ctx context.Context, line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		if len(s.lines) == 0 {
			return "", false
		}
		src := strings.Join(s.lines, "\n")
		s.lines = s.lines[:0]
		return s.runner.Execute(ctx, src), false
	}
	switch fields[0] {
	case ":quit", ":q":
		return "", true
	case ":reset":
		s.lines = s.lines[:0]
		return "buffer cleared", false
	case ":history":
		return s.recent(), false
	case ":show":
		if len(fields) != 2 {
			return "usage: :show <id>", false
		}
		return s.show(fields[1]), false
	}
	s.lines = append(s.lines, line)
	return "", false
}

// recent lists the latest journaled runs, newest first.
func (s *session) recent() string {
	if s.history == nil {
		return "no journal configured"
	}
	entries, err := s.history.Recent(historySize)
	if err != nil {
		return runner.DiagnosticPrefix + err.Error()
	}
	if len(entries) == 0 {
		return "no runs recorded"
	}
	var sb strings.Builder
	for i, e := range entries {
		status := e.Fault
		if status == "" {
			status = "ok"
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s  %s  %d cycles  %s", e.ID, e.Started.Format("15:04:05"), e.Cycles, status)
	}
	return sb.String()
}

// show prints the recorded output of one run.
func (s *session) show(id string) string {
	if s.history == nil {
		return "no journal configured"
	}
	e, err := s.history.Get(id)
	if errors.Is(err, journal.ErrEntryNotFound) {
		return fmt.Sprintf("no run %q", id)
	}
	if err != nil {
		return runner.DiagnosticPrefix + err.Error()
	}
	return e.Output
}

func (s *session) prompt() string {
	if len(s.lines) > 0 {
		return continuePrompt
	}
	return prompt
}

func main() {
	wd, _ := os.Getwd()
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	var (
		rec  runner.Recorder
		hist history
	)
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer j.Close()
		rec, hist = j, j
	}
	r, err := runner.FromConfig(cfg, rec)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("OmniVM console. Finish a snippet with an empty line, :history lists past runs, :quit leaves.")
	s := &session{runner: r, history: hist}
	rl := readline.NewInstance()
	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if err != nil {
			fmt.Println(runner.DiagnosticPrefix + err.Error())
			return
		}
		out, quit := s.feed(context.Background(), line)
		if out != "" {
			fmt.Println(out)
		}
		if quit {
			return
		}
	}
}
