package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"omnivm/pkg/asm"
	"omnivm/pkg/compiler"
	"omnivm/pkg/config"
	"omnivm/pkg/isa"
	"omnivm/pkg/journal"
	"omnivm/pkg/runner"
	"omnivm/pkg/vm"
)

// ProgramExt is the extension of serialized programs.
const ProgramExt = ".omvm"

func main() {
	inPath := flag.String("in", "", "input source (.c) or assembly file path")
	outPath := flag.String("out", "", "output program file path (default: input with "+ProgramExt+" extension)")
	runProgram := flag.Bool("run", false, "run the program built from -in")
	runBinPath := flag.String("run-bin", "", "run an existing program file")
	showAsm := flag.Bool("show-asm", false, "print the disassembly of the program")
	configPath := flag.String("config", "", "config file (default: nearest "+config.FileName+")")
	journalPath := flag.String("journal", "", "record runs in this SQLite file")
	verbosity := flag.Int("v", -1, "log verbosity, overrides the config")
	flag.Parse()

	if *runProgram && *runBinPath != "" {
		fmt.Fprintln(os.Stderr, "use either -run or -run-bin, not both")
		os.Exit(2)
	}
	if *inPath == "" && *runBinPath == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in to build, -run to run the built program, or -run-bin <file> to run an existing program")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *journalPath != "" {
		cfg.Journal.Path = *journalPath
	}
	commonlog.Configure(cfg.Log.Verbosity, cfg.LogFile())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *inPath, *outPath, *runProgram, *runBinPath, *showAsm); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

func run(ctx context.Context, cfg *config.Config, inPath, outPath string, runProgram bool, runBinPath string, showAsm bool) error {
	if inPath != "" {
		source, err := os.ReadFile(inPath)
		if err != nil {
			return fmt.Errorf("failed to read input file %q: %w", inPath, err)
		}

		prog, err := build(inPath, string(source))
		if err != nil {
			return err
		}
		if showAsm {
			fmt.Print(asm.Disassemble(prog))
		}

		if outPath != "" || !runProgram {
			if outPath == "" {
				outPath = defaultOutputPath(inPath)
			}
			if err := writeProgram(outPath, prog); err != nil {
				return fmt.Errorf("failed to write program file %q: %w", outPath, err)
			}
			fmt.Printf("built %d instructions, %d data bytes -> %s\n", prog.Len(), prog.DataLen(), outPath)
		}

		if runProgram {
			if isSource(inPath) {
				return runSource(ctx, cfg, string(source))
			}
			fmt.Println(runLoaded(ctx, cfg, prog))
		}
		return nil
	}

	prog, err := readProgram(runBinPath)
	if err != nil {
		return fmt.Errorf("failed to load %q: %w", runBinPath, err)
	}
	if showAsm {
		fmt.Print(asm.Disassemble(prog))
	}
	fmt.Println(runLoaded(ctx, cfg, prog))
	return nil
}

func isSource(path string) bool {
	return strings.HasSuffix(path, ".c")
}

func build(path, source string) (*isa.Program, error) {
	if isSource(path) {
		prog, err := compiler.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("compilation failed: %w", err)
		}
		return prog, nil
	}
	prog, _, err := asm.Assemble(source)
	if err != nil {
		return nil, fmt.Errorf("assembly failed: %w", err)
	}
	return prog, nil
}

// runSource goes through the runner so the run is journaled.
func runSource(ctx context.Context, cfg *config.Config, source string) error {
	var rec runner.Recorder
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		rec = j
	}

	r, err := runner.FromConfig(cfg, rec)
	if err != nil {
		return err
	}
	fmt.Println(r.Execute(ctx, source))
	return nil
}

func runLoaded(ctx context.Context, cfg *config.Config, prog *isa.Program) string {
	m := vm.New(cfg.Limits)
	if err := m.Load(prog); err != nil {
		return runner.Result{Err: err}.Text()
	}
	out, err := m.Run(ctx)
	return runner.Result{Output: out, Err: err, Cycles: m.Cycles()}.Text()
}

func defaultOutputPath(inPath string) string {
	ext := filepath.Ext(inPath)
	if ext == "" {
		return inPath + ProgramExt
	}
	return strings.TrimSuffix(inPath, ext) + ProgramExt
}

func writeProgram(path string, prog *isa.Program) error {
	data, err := isa.MarshalProgram(prog)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readProgram(path string) (*isa.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return isa.UnmarshalProgram(data)
}
