// Command wasmide is a CLI stand-in for the out-of-scope browser editor
// UI (spec.md §1): "run" issues CompileAndRun (the -input file is its
// stdin) and "ls" issues StartLS then LSMessage, against an
// orchestrator.Session; neither sends StdinChunk or Cancel. It prints
// the worker's responses, so the runtime can be exercised end-to-end
// without a browser, per SPEC_FULL §1.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/archive"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/instrument"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/obslog"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/orchestrator"
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/protocol"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr, os.Stdin))
}

// doMain is separated out for the purpose of unit testing, the same
// shape cmd/wazero/wazero.go's doMain(stdOut, stdErr) takes.
func doMain(args []string, stdout, stderr io.Writer, stdin io.Reader) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "run":
		return doRun(args[1:], stdout, stderr)
	case "ls":
		return doLS(args[1:], stdout, stderr, stdin)
	case "-h", "--help", "help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "wasmide drives the WASI-hosting runtime the way the browser editor UI does.")
	fmt.Fprintln(w, "usage:")
	fmt.Fprintln(w, "  wasmide run -lang={c,cpp,python} -source=FILE [-input=FILE] [-base-url=URL]")
	fmt.Fprintln(w, "  wasmide ls  -lang={c,cpp,python} [-base-url=URL]   (reads LSP frames from stdin)")
}

func parseLanguage(s string) (protocol.Language, error) {
	switch strings.ToLower(s) {
	case "c":
		return protocol.C, nil
	case "cpp", "c++":
		return protocol.CPP, nil
	case "python", "py":
		return protocol.Python, nil
	default:
		return 0, fmt.Errorf("unknown language %q (want c, cpp, or python)", s)
	}
}

func newSession(baseURL string, log *zap.Logger, emit func(protocol.WorkerMessage)) (*orchestrator.Session, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	cache := archive.NewCache(archive.NewLoader(u, nil, log))
	return orchestrator.NewSession(cache, instrument.NewCache(), log, emit), nil
}

// doRun drives one CompileAndRun session to completion, the CLI
// analogue of the editor issuing CompileAndRun then watching for Done
// or Error (spec.md §6).
func doRun(args []string, stdout, stderr io.Writer) int {
	fset := flag.NewFlagSet("run", flag.ContinueOnError)
	fset.SetOutput(stderr)
	lang := fset.String("lang", "", "source language: c, cpp, or python")
	sourcePath := fset.String("source", "", "path to the source file")
	inputPath := fset.String("input", "", "path to a file fed to the program's stdin")
	baseURL := fset.String("base-url", "http://localhost:8080/", "base URL the toolchain archives are fetched relative to")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	language, err := parseLanguage(*lang)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *sourcePath == "" {
		fmt.Fprintln(stderr, "-source is required")
		return 1
	}
	source, err := os.ReadFile(*sourcePath)
	if err != nil {
		fmt.Fprintf(stderr, "reading source: %v\n", err)
		return 1
	}
	var input []byte
	if *inputPath != "" {
		input, err = os.ReadFile(*inputPath)
		if err != nil {
			fmt.Fprintf(stderr, "reading input: %v\n", err)
			return 1
		}
	}

	log := obslog.New("cmd/wasmide")
	defer log.Sync()

	done := make(chan int, 1)
	emit := func(m protocol.WorkerMessage) {
		switch v := m.(type) {
		case protocol.Started:
			fmt.Fprintln(stderr, "started")
		case protocol.CompilerFetched:
			fmt.Fprintln(stderr, "compiler fetched")
		case protocol.CompilationMessageChunk:
			stderr.Write(v.Data)
		case protocol.CompilationDone:
			fmt.Fprintln(stderr, "compilation done, running")
		case protocol.StdoutChunk:
			stdout.Write(v.Data)
		case protocol.StderrChunk:
			stderr.Write(v.Data)
		case protocol.Done:
			done <- 0
		case protocol.Error:
			fmt.Fprintln(stderr, "error:", v.Message)
			done <- 1
		}
	}

	session, err := newSession(*baseURL, log, emit)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	session.Handle(context.Background(), protocol.CompileAndRun{
		Source:   string(source),
		Language: language,
		Input:    input,
	})
	return <-done
}

// doLS starts a language-server session and relays LSP frames between
// stdin/stdout, the CLI analogue of StartLS/LSMessage (spec.md §6). It
// reads one Content-Length-framed request at a time from stdin and
// writes every LSMessageOut response back out the same way.
func doLS(args []string, stdout, stderr io.Writer, stdin io.Reader) int {
	fset := flag.NewFlagSet("ls", flag.ContinueOnError)
	fset.SetOutput(stderr)
	lang := fset.String("lang", "", "language server language: c, cpp, or python")
	baseURL := fset.String("base-url", "http://localhost:8080/", "base URL the toolchain archives are fetched relative to")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	language, err := parseLanguage(*lang)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	log := obslog.New("cmd/wasmide")
	defer log.Sync()

	ready := make(chan struct{}, 1)
	emit := func(m protocol.WorkerMessage) {
		switch v := m.(type) {
		case protocol.LSStopping:
			fmt.Fprintln(stderr, "stopping previous language server session")
		case protocol.LSReady:
			select {
			case ready <- struct{}{}:
			default:
			}
		case protocol.LSMessageOut:
			fmt.Fprintf(stdout, "Content-Length: %d\r\n\r\n%s", len(v.Payload), v.Payload)
		case protocol.Error:
			fmt.Fprintln(stderr, "error:", v.Message)
		}
	}

	session, err := newSession(*baseURL, log, emit)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	ctx := context.Background()
	session.Handle(ctx, protocol.StartLS{Language: language})
	<-ready

	r := bufio.NewReader(stdin)
	for {
		payload, err := readLSPFrame(r)
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(stderr, "reading LSP frame: %v\n", err)
			}
			return 0
		}
		session.Handle(ctx, protocol.LSMessage{Payload: payload})
	}
}

// readLSPFrame reads one Content-Length-framed LSP message from r,
// the same header-then-body shape orchestrator's lspFrameReader decodes
// from a language server's stdout (spec.md §4.7).
func readLSPFrame(r *bufio.Reader) (string, error) {
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if strings.HasPrefix(trimmed, "Content-Length: ") {
			n, err := strconv.Atoi(strings.TrimPrefix(trimmed, "Content-Length: "))
			if err != nil {
				return "", fmt.Errorf("invalid Content-Length: %w", err)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return "", fmt.Errorf("missing Content-Length header")
	}
	buf := make([]byte, contentLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
