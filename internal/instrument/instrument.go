// Package instrument rewrites a compiled WASM module so that every
// function entry and loop header decrements a shared counter and calls
// back into the host once it reaches zero, per spec.md §4.4. This is
// how the Process Supervisor bounds a run without relying on the guest
// program cooperating: the host's tick_fn import can raise a trap to
// unwind the whole call stack the moment a budget is exhausted.
//
// Scope is deliberately bounded to the instruction shapes clang/wasm-ld
// emit for the wasm32-wasi target built with
// "-target-feature +atomics +bulk-memory +mutable-globals" (see
// internal/orchestrator's compiler invocation): MVP opcodes,
// sign-extension, bulk-memory, and threads/atomics are fully decoded;
// SIMD instructions are decoded for length only (see operandLengthSIMD).
// Any other opcode, and any element section shape other than an active
// segment of direct function indices, is a hard decode error rather
// than a silent corruption of the module.
package instrument

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

const (
	importModuleName = "wasmide"
	tickFuncName     = "tick_fn"
	counterGlobalName = "wasmide_tick_counter"
)

// Result is a successfully instrumented module plus the names the host
// module must expose to satisfy its new import.
type Result struct {
	Wasm           []byte
	ImportModule   string
	ImportFunc     string
	CounterExport  string
}

// Instrument rewrites wasmBytes, inserting a tick check at the start of
// every function and after every loop header, and returns the modified
// module along with the host import it now requires.
func Instrument(wasmBytes []byte) (*Result, error) {
	sections, err := parseModule(wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing module: %w", err)
	}

	var typeSec, importSec, globalSec, exportSec, startSec, elemSec, codeSec *section
	for i := range sections {
		s := &sections[i]
		switch s.id {
		case secType:
			typeSec = s
		case secImport:
			importSec = s
		case secGlobal:
			globalSec = s
		case secExport:
			exportSec = s
		case secStart:
			startSec = s
		case secElement:
			elemSec = s
		case secCode:
			codeSec = s
		}
	}
	if importSec == nil || codeSec == nil {
		return nil, fmt.Errorf("instrument: module has no import or code section")
	}

	imports, err := parseImportSection(importSec.data)
	if err != nil {
		return nil, fmt.Errorf("parsing import section: %w", err)
	}
	threshold := countFuncImports(imports)

	var types [][]byte
	if typeSec != nil {
		types, err = parseTypeSection(typeSec.data)
		if err != nil {
			return nil, fmt.Errorf("parsing type section: %w", err)
		}
	}
	tickTypeIdx, types := findOrAppendEmptyFuncType(types)

	imports = append(imports, importEntry{
		module: importModuleName,
		field:  tickFuncName,
		kind:   0x00,
		rest:   EncodeUint32(tickTypeIdx),
	})
	tickFuncIdx := threshold

	var globals [][]byte
	if globalSec != nil {
		globals, err = parseGlobalSection(globalSec.data)
		if err != nil {
			return nil, fmt.Errorf("parsing global section: %w", err)
		}
	}
	counterGlobalIdx := uint32(len(globals))
	globals = append(globals, newI32Global)

	exports, err := parseExportSectionOrEmpty(exportSec)
	if err != nil {
		return nil, fmt.Errorf("parsing export section: %w", err)
	}
	for i := range exports {
		if exports[i].kind == 0x00 && exports[i].index >= threshold {
			exports[i].index++
		}
	}
	exports = append(exports, exportEntry{name: counterGlobalName, kind: 0x03, index: counterGlobalIdx})

	if startSec != nil {
		idx, _, err := DecodeUint32(startSec.data)
		if err != nil {
			return nil, fmt.Errorf("parsing start section: %w", err)
		}
		if idx >= threshold {
			idx++
		}
		startSec.data = EncodeUint32(idx)
	}

	if elemSec != nil {
		elems, err := parseElementSection(elemSec.data)
		if err != nil {
			return nil, fmt.Errorf("parsing element section: %w", err)
		}
		for i := range elems {
			for j, idx := range elems[i].funcIdx {
				if idx >= threshold {
					elems[i].funcIdx[j] = idx + 1
				}
			}
		}
		elemSec.data = encodeElementSection(elems)
	}

	newCode, err := rewriteCodeSection(codeSec.data, threshold, tickFuncIdx, counterGlobalIdx)
	if err != nil {
		return nil, fmt.Errorf("rewriting code section: %w", err)
	}

	// Pass 1: update every section that already exists in place. This
	// must run to completion before any structural insertion below,
	// since inserting reallocates the slice and would strand these
	// pointers against the old backing array.
	importSec.data = encodeImportSection(imports)
	codeSec.data = newCode
	if typeSec != nil {
		typeSec.data = encodeTypeSection(types)
	}
	if globalSec != nil {
		globalSec.data = encodeGlobalSection(globals)
	}
	if exportSec != nil {
		exportSec.data = encodeExportSection(exports)
	}

	// Pass 2: splice in sections the module didn't already have, each
	// positioned ahead of the first existing section that must follow
	// it in the canonical section order.
	sections = insertMissing(sections, typeSec == nil, secType, encodeTypeSection(types))
	sections = insertMissing(sections, globalSec == nil, secGlobal, encodeGlobalSection(globals))
	sections = insertMissing(sections, exportSec == nil, secExport, encodeExportSection(exports))

	return &Result{
		Wasm:          encodeModule(sections),
		ImportModule:  importModuleName,
		ImportFunc:    tickFuncName,
		CounterExport: counterGlobalName,
	}, nil
}

// Cache memoizes Instrument by the sha256 of the input module, the way
// the Archive Loader's Cache memoizes toolchain fetches: a given
// compiler's own runtime object files get instrumented once, not once
// per session that links against them.
type Cache struct {
	mu  sync.Mutex
	byHash map[string]*Result
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{byHash: map[string]*Result{}}
}

// Get returns the instrumented form of wasmBytes, instrumenting and
// caching it on first use.
func (c *Cache) Get(wasmBytes []byte) (*Result, error) {
	sum := sha256.Sum256(wasmBytes)
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	if r, ok := c.byHash[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := Instrument(wasmBytes)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byHash[key]; ok {
		return existing, nil
	}
	c.byHash[key] = r
	return r, nil
}

// Warm instruments wasmBytes in the background and discards errors,
// populating the cache ahead of time. This is how compiler.rs's
// start_language_server hides clang++'s ~7-8s instrumentation latency:
// it kicks this off the moment a C/C++ language-server session starts,
// so the first compile-and-run's own Cache.Get call is a hit.
func (c *Cache) Warm(wasmBytes []byte) {
	go func() {
		_, _ = c.Get(wasmBytes)
	}()
}

func parseExportSectionOrEmpty(s *section) ([]exportEntry, error) {
	if s == nil {
		return nil, nil
	}
	return parseExportSection(s.data)
}

// insertMissing inserts a new section with the given id and payload
// immediately before the first existing section whose id sorts after
// it in the canonical WASM section order, or at the end if none do.
// It is a no-op when the module already had that section (wanted is
// false), since that section's data was already updated in place.
func insertMissing(sections []section, wanted bool, id byte, data []byte) []section {
	if !wanted {
		return sections
	}
	at := len(sections)
	for i, s := range sections {
		if s.id > id {
			at = i
			break
		}
	}
	out := make([]section, 0, len(sections)+1)
	out = append(out, sections[:at]...)
	out = append(out, section{id: id, data: data})
	out = append(out, sections[at:]...)
	return out
}

// tickSnippet encodes spec.md §4.4's sequence verbatim:
//
//	global.get $counter
//	i32.const 0
//	i32.eq
//	if
//	  call $tick_fn
//	else
//	  global.get $counter ; i32.const 1 ; i32.sub ; global.set $counter
//	end
//
// The check must run before the decrement: the counter starts at 0
// (module.go's newI32Global), so a decrement-then-check order would
// wrap 0 to -1 on the very first tick point visited and never hit zero
// again until it wrapped all the way back around, silently defeating
// cancellation at the point it matters most (process start).
func tickSnippet(counterGlobalIdx, tickFuncIdx uint32) []byte {
	var out []byte
	out = append(out, 0x23)
	out = append(out, EncodeUint32(counterGlobalIdx)...)
	out = append(out, 0x41, 0x00)
	out = append(out, 0x46)
	out = append(out, 0x04, 0x40)
	out = append(out, 0x10)
	out = append(out, EncodeUint32(tickFuncIdx)...)
	out = append(out, 0x05)
	out = append(out, 0x23)
	out = append(out, EncodeUint32(counterGlobalIdx)...)
	out = append(out, 0x41, 0x01)
	out = append(out, 0x6b)
	out = append(out, 0x24)
	out = append(out, EncodeUint32(counterGlobalIdx)...)
	out = append(out, 0x0b)
	return out
}

func rewriteCodeSection(data []byte, threshold, tickFuncIdx, counterGlobalIdx uint32) ([]byte, error) {
	count, n, err := DecodeUint32(data)
	if err != nil {
		return nil, err
	}
	off := n
	out := EncodeUint32(count)
	for i := uint32(0); i < count; i++ {
		size, consumed, err := DecodeUint32(data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		body := data[off : off+int(size)]
		off += int(size)

		newBody, err := instrumentFunctionBody(body, threshold, tickFuncIdx, counterGlobalIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, EncodeUint32(uint32(len(newBody)))...)
		out = append(out, newBody...)
	}
	return out, nil
}

func instrumentFunctionBody(body []byte, threshold, tickFuncIdx, counterGlobalIdx uint32) ([]byte, error) {
	off := 0
	localCount, n, err := DecodeUint32(body)
	if err != nil {
		return nil, err
	}
	off = n
	for i := uint32(0); i < localCount; i++ {
		_, consumed, err := DecodeUint32(body[off:])
		if err != nil {
			return nil, err
		}
		off += consumed + 1 // valtype byte
	}

	locals := body[:off]
	instrs := body[off:]

	rewritten, err := rewriteInstructions(instrs, threshold, tickFuncIdx, counterGlobalIdx)
	if err != nil {
		return nil, err
	}

	snippet := tickSnippet(counterGlobalIdx, tickFuncIdx)
	out := append([]byte{}, locals...)
	out = append(out, snippet...)
	out = append(out, rewritten...)
	return out, nil
}

// rewriteInstructions walks instrs linearly (valid encoded instruction
// sequences never require a nesting stack to be skipped correctly),
// shifting call/ref.func operands referring to a defined function by
// +1 and splicing a tick snippet in immediately after every loop
// opcode's blocktype immediate.
func rewriteInstructions(instrs []byte, threshold, tickFuncIdx, counterGlobalIdx uint32) ([]byte, error) {
	var out []byte
	off := 0
	for off < len(instrs) {
		start := off
		op := instrs[off]
		off++

		switch {
		case op == 0x02 || op == 0x03 || op == 0x04: // block, loop, if
			n, err := skipSignedLEB(instrs[off:])
			if err != nil {
				return nil, err
			}
			off += n
			out = append(out, instrs[start:off]...)
			if op == 0x03 {
				out = append(out, tickSnippet(counterGlobalIdx, tickFuncIdx)...)
			}
			continue

		case op == 0x10: // call
			idx, n, err := DecodeUint32(instrs[off:])
			if err != nil {
				return nil, err
			}
			off += n
			if idx >= threshold {
				idx++
			}
			out = append(out, 0x10)
			out = append(out, EncodeUint32(idx)...)
			continue

		case op == 0xd2: // ref.func
			idx, n, err := DecodeUint32(instrs[off:])
			if err != nil {
				return nil, err
			}
			off += n
			if idx >= threshold {
				idx++
			}
			out = append(out, 0xd2)
			out = append(out, EncodeUint32(idx)...)
			continue
		}

		length, err := operandLength(op, instrs[off:])
		if err != nil {
			return nil, fmt.Errorf("at offset %d, opcode 0x%02x: %w", start, op, err)
		}
		off += length
		out = append(out, instrs[start:off]...)
	}
	return out, nil
}
