// Package extract chops raw MIR, LLVM IR, and assembly text into per-symbol
// blocks and picks the unique block belonging to a requested symbol using a
// priority ladder (mangled name -> mangled prefix -> def-path -> item name),
// failing explicitly on ambiguity or a missing match.
package extract

import (
	"fmt"
	"strings"

	"github.com/example/rust-mcp/internal/inspecterr"
	"github.com/example/rust-mcp/internal/symbol"
)

// TargetedAssembly is assembly text tagged with the target triple it was
// produced for.
type TargetedAssembly struct {
	Target  string
	Content string
}

type candidate struct {
	header  string
	content string
}

// MIR extracts the unique MIR block for symbol from one or more raw MIR
// outputs (one per compiler invocation, typically just one). Tier 1 matches
// on def_name, tier 2 falls back to item_name; tier 1 wins outright whenever
// it has any candidates.
func MIR(outputs []string, sym symbol.Normalized) (string, error) {
	var defMatches, nameMatches []candidate

	for _, output := range outputs {
		for _, block := range splitMIRBlocks(output) {
			header := blockHeader(block)
			switch {
			case strings.Contains(block, sym.DefName):
				defMatches = append(defMatches, candidate{header, block})
			case strings.Contains(block, sym.ItemName):
				nameMatches = append(nameMatches, candidate{header, block})
			}
		}
	}

	matches := defMatches
	if len(matches) == 0 {
		matches = nameMatches
	}
	return selectUnique(matches, "MIR", sym)
}

// LLVMIR extracts the unique LLVM IR block for symbol, preferring an exact
// mangled match, then the mangled-prefix, then a def-name match inside the
// block body.
func LLVMIR(outputs []string, sym symbol.Normalized) (string, error) {
	var exact, prefix, defName []candidate

	for _, output := range outputs {
		for _, blk := range splitLLVMBlocks(output) {
			name, block := blk.name, blk.content
			if sym.Mangled != "" && strings.Contains(name, sym.Mangled) {
				exact = append(exact, candidate{name, block})
				continue
			}
			if sym.MangledPrefix != "" && strings.Contains(name, sym.MangledPrefix) {
				prefix = append(prefix, candidate{name, block})
				continue
			}
			if strings.Contains(block, sym.DefName) {
				defName = append(defName, candidate{name, block})
			}
		}
	}

	if len(exact) > 0 {
		return selectUnique(exact, "LLVM IR", sym)
	}
	if len(prefix) > 0 {
		return selectUnique(prefix, "LLVM IR (prefix)", sym)
	}
	return selectUnique(defName, "LLVM IR", sym)
}

// Asm extracts the unique assembly block for symbol within targetTriple.
// Fails with ExtractionNoMatch if no TargetedAssembly carries that triple at
// all, distinct from "zero blocks matched within the triple".
func Asm(assemblies []TargetedAssembly, sym symbol.Normalized, targetTriple string) (string, error) {
	var exact, prefix, name []candidate
	foundTarget := false

	for _, asm := range assemblies {
		if asm.Target != targetTriple {
			continue
		}
		foundTarget = true
		for _, blk := range splitAsmBlocks(asm.Content) {
			label, block := blk.name, blk.content
			if sym.Mangled != "" && strings.Contains(label, sym.Mangled) {
				exact = append(exact, candidate{label, block})
				continue
			}
			if sym.MangledPrefix != "" && strings.Contains(label, sym.MangledPrefix) {
				prefix = append(prefix, candidate{label, block})
				continue
			}
			if strings.Contains(block, sym.DefName) || strings.Contains(block, sym.ItemName) {
				name = append(name, candidate{label, block})
			}
		}
	}

	if !foundTarget {
		return "", inspecterr.New(inspecterr.ExtractionNoMatch,
			fmt.Sprintf("No assembly artifacts available for target `%s` while searching for `%s`", targetTriple, sym.DefName),
			map[string]any{"target": targetTriple, "def_name": sym.DefName})
	}

	if len(exact) > 0 {
		return selectUnique(exact, "assembly", sym)
	}
	if len(prefix) > 0 {
		return selectUnique(prefix, "assembly (prefix)", sym)
	}
	return selectUnique(name, "assembly", sym)
}

func selectUnique(matches []candidate, what string, sym symbol.Normalized) (string, error) {
	if len(matches) == 0 {
		lookedFor := []string{
			fmt.Sprintf("def-name `%s`", sym.DefName),
			fmt.Sprintf("item name `%s`", sym.ItemName),
		}
		switch {
		case sym.Mangled != "":
			lookedFor = append(lookedFor, fmt.Sprintf("mangled `%s`", sym.Mangled))
		case sym.MangledPrefix != "":
			lookedFor = append(lookedFor, fmt.Sprintf("mangled prefix `%s`", sym.MangledPrefix))
		}
		return "", inspecterr.New(inspecterr.ExtractionNoMatch,
			fmt.Sprintf("No %s match found for `%s` (looked for %s)", what, sym.DefName, strings.Join(lookedFor, ", ")),
			map[string]any{"def_name": sym.DefName})
	}

	if len(matches) > 1 {
		headers := make([]string, len(matches))
		for i, m := range matches {
			headers[i] = m.header
		}
		return "", inspecterr.New(inspecterr.ExtractionAmbiguous,
			fmt.Sprintf("Multiple %s candidates matched `%s`: %s", what, sym.DefName, strings.Join(headers, ", ")),
			map[string]any{"def_name": sym.DefName, "candidates": headers})
	}

	return matches[0].content, nil
}

type namedBlock struct {
	name    string
	content string
}

func splitMIRBlocks(output string) []string {
	var blocks []string
	var current []string
	capturing := false

	for _, line := range strings.Split(output, "\n") {
		if isMIRHeader(line) {
			if capturing && len(current) > 0 {
				blocks = append(blocks, strings.TrimSpace(strings.Join(current, "\n")))
				current = current[:0]
			}
			capturing = true
		}
		if capturing {
			current = append(current, line)
		}
	}
	if capturing && len(current) > 0 {
		blocks = append(blocks, strings.TrimSpace(strings.Join(current, "\n")))
	}
	return blocks
}

func isMIRHeader(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "fn ") ||
		strings.HasPrefix(trimmed, "const ") ||
		strings.HasPrefix(trimmed, "static ") ||
		strings.HasPrefix(trimmed, "promoted[")
}

func blockHeader(block string) string {
	if idx := strings.IndexByte(block, '\n'); idx >= 0 {
		return strings.TrimSpace(block[:idx])
	}
	return strings.TrimSpace(block)
}

func splitLLVMBlocks(output string) []namedBlock {
	var blocks []namedBlock
	var currentName *string
	var currentLines []string

	flush := func() {
		if currentName != nil {
			blocks = append(blocks, namedBlock{*currentName, strings.Join(currentLines, "\n")})
			currentLines = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "define") {
			flush()
			currentName = extractLLVMSymbolName(line)
		}
		if currentName != nil {
			currentLines = append(currentLines, line)
		}
	}
	flush()
	return blocks
}

func extractLLVMSymbolName(line string) *string {
	idx := strings.IndexByte(line, '@')
	if idx < 0 {
		return nil
	}
	after := line[idx+1:]
	if paren := strings.IndexByte(after, '('); paren >= 0 {
		after = after[:paren]
	}
	name := strings.Trim(after, "\"")
	return &name
}

func splitAsmBlocks(output string) []namedBlock {
	var blocks []namedBlock
	var currentLabel string
	have := false
	var currentLines []string

	flush := func() {
		if have {
			blocks = append(blocks, namedBlock{currentLabel, strings.Join(currentLines, "\n")})
			currentLines = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ":") && !strings.HasPrefix(trimmed, "#") {
			flush()
			currentLabel = strings.Trim(strings.TrimSuffix(trimmed, ":"), "\"")
			have = true
		}
		if have {
			currentLines = append(currentLines, line)
		}
	}
	flush()
	return blocks
}
