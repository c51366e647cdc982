package orchestrator

import (
	"github.com/olimpiadi-informatica/wasm-ide-runtime/internal/protocol"
)

// compileArgs returns the clang++ -cc1 argv that compiles one source file
// of lang to an object file on stdout, restored byte-for-byte from
// original_source/worker/src/lang/cpp.rs's compile() (the newer of the
// two argv variants in the original source, targeting wasm32-wasip1
// rather than compiler.rs's older wasm32-wasi paths).
func compileArgs(lang protocol.Language) []string {
	srcLang, std := "c", "-std=c17"
	if lang == protocol.CPP {
		srcLang, std = "c++", "-std=c++20"
	}
	return []string{
		"clang++", "-cc1",
		"-isysroot", "/",
		"-I/include/c++/15.0.0/wasm32-wasip1/",
		"-I/include/c++/15.0.0/",
		"-stdlib=libstdc++",
		"-internal-isystem", "/lib/clang/20/include",
		"-internal-isystem", "/include/wasm32-wasip1-threads",
		"-I/include/",
		"-resource-dir", "lib/clang/20",
		"-target-feature", "+atomics",
		"-target-feature", "+bulk-memory",
		"-target-feature", "+mutable-globals",
		"-I.",
		"-fcolor-diagnostics",
		"-x", srcLang,
		"-O2", "-Wall",
		std,
		"-emit-obj", "-", "-o", "-",
	}
}

// sourceObjectName is the path the compiled object is added at in the
// link stage's private FS, mirroring cpp.rs's "source{i}.o" naming
// collapsed to a single file since CompileAndRun carries one source.
const sourceObjectName = "source0.o"

// linkArgs returns the wasm-ld argv that links sourceObjectName into the
// final WASM binary on stdout, restored from cpp.rs's link().
func linkArgs() []string {
	return []string{
		"wasm-ld",
		"-L/lib/wasm32-wasip1-threads/",
		"-lc",
		"/lib/clang/20/lib/wasm32-unknown-wasip1-threads/libclang_rt.builtins.a",
		"/lib/wasm32-wasip1-threads/crt1.o",
		"-L/lib",
		"-lstdc++", "-lsupc++",
		"-z", "stack-size=16777216",
		"--stack-first",
		"--shared-memory",
		"--import-memory",
		"--export-memory",
		"--max-memory=4294967296",
		"-o", "-",
		sourceObjectName,
	}
}

// pythonSourcePath is where CompileAndRun's source is written before
// python3.13.wasm runs it, matching compiler.rs's single-file variant
// (python.rs's multi-file "/tmp/<name>" layout has no equivalent here
// since CompileAndRun carries one anonymous source string).
const pythonSourcePath = "/solution.py"

// pythonArgs returns the argv that runs a Python solution, restored from
// lang/python.rs's run(), using the 3.13 interpreter lang/python.rs
// upgraded to (compiler.rs's run() still names 3.12).
func pythonArgs() []string {
	return []string{"/bin/python3.13.wasm", pythonSourcePath}
}

const pythonInterpreterPath = "bin/python3.13.wasm"

// clangdArgs is clangd's invocation, restored from lang/cpp.rs's run_ls.
func clangdArgs() []string {
	return []string{"clangd", "--pch-storage=memory"}
}

// clangdCompileFlags synthesizes compile_flags.txt for clangd, restored
// verbatim from lang/cpp.rs's run_ls (the clang 20 / wasm32-wasip1 paths,
// not compiler.rs's older clang 19 / wasm32-wasi variant, for consistency
// with compileArgs above).
func clangdCompileFlags(lang protocol.Language) []byte {
	std := "-std=c17"
	if lang == protocol.CPP {
		std = "-std=c++20"
	}
	return []byte("\n-Wall\n-O2\n-I/include/c++/15.0.0/\n-I/include/c++/15.0.0/wasm32-wasip1/\n-resource-dir=/lib/clang/20\n" + std + "\n")
}

// ruffArgs is ruff's language-server invocation, restored from
// lang/python.rs's run_ls.
func ruffArgs() []string {
	return []string{"ruff", "server"}
}

// ruffConfig is written to /ruff.toml before starting ruff, restored
// verbatim from lang/python.rs's run_ls.
const ruffConfig = "indent-width = 2"
