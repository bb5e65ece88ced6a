// Program symdump dumps an ELF program's symbol table and disassembles
// its .text section, the debug companion to sched's ELF loader (§4.8):
// a fault in a running process reports a raw instruction pointer, and
// this tool turns that back into a demangled symbol plus the
// instruction it pointed at.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/x86/x86asm"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: symdump <elf-file>\n")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := elf.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "symdump: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil && len(syms) == 0 {
		fmt.Fprintf(os.Stderr, "symdump: no symbol table: %v\n", err)
	}
	fmt.Println("SYMBOLS")
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		fmt.Printf("  %016x %8d %s\n", s.Value, s.Size, demangle.Filter(s.Name))
	}

	text := f.Section(".text")
	if text == nil {
		fmt.Fprintln(os.Stderr, "symdump: no .text section")
		return
	}
	code, err := text.Data()
	if err != nil {
		fmt.Fprintf(os.Stderr, "symdump: reading .text: %v\n", err)
		return
	}

	mode := 64
	if f.Class != elf.ELFCLASS64 {
		mode = 32
	}
	symname := symLookupFor(syms)

	fmt.Println("\nDISASSEMBLY .text")
	pc := text.Addr
	for off := 0; off < len(code); {
		inst, derr := x86asm.Decode(code[off:], mode)
		if derr != nil || inst.Len == 0 {
			fmt.Printf("  %016x  (bad instruction)\n", pc)
			off++
			pc++
			continue
		}
		fmt.Printf("  %016x  %s\n", pc, x86asm.GNUSyntax(inst, pc, symname))
		off += inst.Len
		pc += uint64(inst.Len)
	}
}

// symLookupFor adapts the ELF symbol table to x86asm.SymLookup, resolving
// an address to its containing symbol's demangled name plus the byte
// offset into it, matching how sched would annotate a fault address.
func symLookupFor(syms []elf.Symbol) x86asm.SymLookup {
	return func(addr uint64) (string, uint64) {
		for _, s := range syms {
			if s.Name == "" || s.Size == 0 {
				continue
			}
			if addr >= s.Value && addr < s.Value+s.Size {
				return demangle.Filter(s.Name), addr - s.Value
			}
		}
		return "", 0
	}
}
