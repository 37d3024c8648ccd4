// Command helix archives arbitrary binary files as synthetic DNA/FASTA
// sequences and restores them losslessly, via compile/restore/search/
// simulate subcommands.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"helix.dev/codec/archiveerr"
	"helix.dev/codec/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: helix <compile|restore|search|simulate> [flags]")
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))

	switch args[0] {
	case "compile", "enc":
		return runCompile(args[1:], stdout, stderr, logger)
	case "restore", "dec":
		return runRestore(args[1:], stdout, stderr, logger)
	case "search", "filter":
		return runSearch(args[1:], stdout, stderr, logger)
	case "simulate", "sim":
		return runSimulate(args[1:], stdout, stderr, logger)
	case "-h", "--help", "help":
		fmt.Fprintln(stdout, "usage: helix <compile|restore|search|simulate> [flags]")
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		return 2
	}
}

func reportErr(stderr io.Writer, context string, err error) int {
	if code, ok := archiveerr.CodeOf(err); ok {
		fmt.Fprintf(stderr, "%s: [%s] %v\n", context, code, err)
	} else {
		fmt.Fprintf(stderr, "%s: %v\n", context, err)
	}
	return 1
}

func runCompile(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("helix compile", flag.ContinueOnError)
	fs.SetOutput(stderr)

	output := fs.String("output", "output.fasta", "output DNA FASTA file")
	fs.StringVar(output, "o", "output.fasta", "output DNA FASTA file (shorthand)")
	tag := fs.String("tag", "default", "molecular identifier tag used for PCR addressing")
	primerFwd := fs.String("primer-fwd", "", "custom forward primer (overrides tag derivation)")
	primerRev := fs.String("primer-rev", "", "custom reverse primer (overrides tag derivation)")
	password := fs.String("password", "", "encryption password (AES-256-GCM)")
	data := fs.Int("data", 10, "number of Reed-Solomon data shards (N)")
	parity := fs.Int("parity", 5, "number of Reed-Solomon parity shards (K)")
	force := fs.Bool("force", false, "ignore synthesis safety warnings and force compilation")
	jobs := fs.Int("jobs", 0, "worker count for parallel shard processing (0 = auto)")
	fs.IntVar(jobs, "j", 0, "worker count (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: helix compile [flags] INPUT_FILE")
		return 2
	}
	input := fs.Arg(0)

	in, err := os.Open(input)
	if err != nil {
		return reportErr(stderr, "open input", err)
	}
	defer in.Close()

	out, err := os.Create(*output)
	if err != nil {
		return reportErr(stderr, "create output", err)
	}
	defer out.Close()

	cfg := pipeline.CompileConfig{
		Tag:          *tag,
		PrimerFwd:    *primerFwd,
		PrimerRev:    *primerRev,
		Password:     *password,
		DataShards:   *data,
		ParityShards: *parity,
		Force:        *force,
		Jobs:         *jobs,
		Progress: func(ev pipeline.ProgressEvent) {
			fmt.Fprintf(stdout, "\r    -> Processing Block %d (%d bytes) [GC: %.1f%% | Tm: %.1f°C] [Try %d]... ",
				ev.BlockID, ev.Bytes, ev.GCPercent, ev.MeltingC, ev.Attempt)
			if ev.Unstable == 0 {
				fmt.Fprintln(stdout)
			}
		},
	}

	stats, err := pipeline.Compile(in, out, cfg, logger)
	if err != nil {
		return reportErr(stderr, "compile", err)
	}

	fmt.Fprintf(stdout, "compiled %d bytes into %d blocks (%d bytes encoded, before redundancy) -> %s\n",
		stats.TotalBytes, stats.Blocks, stats.EncodedBytes, *output)
	return 0
}

func runRestore(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("helix restore", flag.ContinueOnError)
	fs.SetOutput(stderr)

	tag := fs.String("tag", "default", "molecular identifier tag to target in the soup")
	primerFwd := fs.String("primer-fwd", "", "custom forward primer (overrides tag derivation)")
	primerRev := fs.String("primer-rev", "", "custom reverse primer (overrides tag derivation)")
	password := fs.String("password", "", "decryption password (must match the compile password)")
	data := fs.Int("data", 10, "number of data shards (N) used during compile")
	parity := fs.Int("parity", 5, "number of parity shards (K) used during compile")
	jobs := fs.Int("jobs", 0, "worker count for parallel shard processing (0 = auto)")
	fs.IntVar(jobs, "j", 0, "worker count (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(stderr, "usage: helix restore [flags] DNA_FILE OUTPUT_FILE")
		return 2
	}
	input, output := fs.Arg(0), fs.Arg(1)

	in, err := os.Open(input)
	if err != nil {
		return reportErr(stderr, "open input", err)
	}
	defer in.Close()

	out, err := os.Create(output)
	if err != nil {
		return reportErr(stderr, "create output", err)
	}
	defer out.Close()

	cfg := pipeline.RestoreConfig{
		Tag:          *tag,
		PrimerFwd:    *primerFwd,
		PrimerRev:    *primerRev,
		Password:     *password,
		DataShards:   *data,
		ParityShards: *parity,
		Jobs:         *jobs,
		Progress: func(ev pipeline.ProgressEvent) {
			fmt.Fprintf(stdout, "\r    -> Recovered Block %d (%d bytes)... ", ev.BlockID, ev.Bytes)
		},
	}

	stats, err := pipeline.Restore(in, out, cfg, logger)
	if err != nil {
		return reportErr(stderr, "restore", err)
	}

	fmt.Fprintf(stdout, "restored %d blocks (%d bytes) -> %s\n", stats.Blocks, stats.TotalBytes, output)
	return 0
}

func runSearch(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("helix search", flag.ContinueOnError)
	fs.SetOutput(stderr)

	output := fs.String("output", "filtered.fasta", "output file for the isolated strands")
	fs.StringVar(output, "o", "filtered.fasta", "output file for the isolated strands (shorthand)")
	primerFwd := fs.String("primer-fwd", "", "custom forward primer (overrides tag derivation)")
	primerRev := fs.String("primer-rev", "", "custom reverse primer (overrides tag derivation)")
	jobs := fs.Int("jobs", 0, "worker count (0 = auto)")
	fs.IntVar(jobs, "j", 0, "worker count (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(stderr, "usage: helix search [flags] SOUP_FILE TAG_ID")
		return 2
	}
	input, tag := fs.Arg(0), fs.Arg(1)

	in, err := os.Open(input)
	if err != nil {
		return reportErr(stderr, "open input", err)
	}
	defer in.Close()

	out, err := os.Create(*output)
	if err != nil {
		return reportErr(stderr, "create output", err)
	}
	defer out.Close()

	total, err := pipeline.Search(in, out, tag, *primerFwd, *primerRev, *jobs)
	if err != nil {
		return reportErr(stderr, "search", err)
	}

	logger.Info("search complete", "matches", total, "output", *output)
	fmt.Fprintf(stdout, "amplified %d matching strands -> %s\n", total, *output)
	return 0
}

func runSimulate(args []string, stdout, stderr io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("helix simulate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	output := fs.String("output", "decayed.fasta", "output decayed FASTA file")
	fs.StringVar(output, "o", "decayed.fasta", "output decayed FASTA file (shorthand)")
	dropout := fs.Int("dropout", 30, "percentage of strands to drop (0-100)")
	mutation := fs.Float64("mutation", 0.0, "probability of substitution mutation per base (0.0-1.0)")
	fs.Float64Var(mutation, "m", 0.0, "mutation rate (shorthand)")
	jobs := fs.Int("jobs", 0, "worker count (0 = auto)")
	fs.IntVar(jobs, "j", 0, "worker count (shorthand)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: helix simulate [flags] DNA_FILE")
		return 2
	}
	if *dropout < 0 || *dropout > 100 {
		fmt.Fprintln(stderr, "dropout must be between 0 and 100")
		return 2
	}
	input := fs.Arg(0)

	in, err := os.Open(input)
	if err != nil {
		return reportErr(stderr, "open input", err)
	}
	defer in.Close()

	out, err := os.Create(*output)
	if err != nil {
		return reportErr(stderr, "create output", err)
	}
	defer out.Close()

	total, kept, err := pipeline.Simulate(in, out, *dropout, *mutation, *jobs)
	if err != nil {
		return reportErr(stderr, "simulate", err)
	}

	logger.Info("simulate complete", "total", total, "kept", kept)
	fmt.Fprintf(stdout, "processed %d strands, %d survived -> %s\n", total, kept, *output)
	return 0
}
