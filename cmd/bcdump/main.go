// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command bcdump prints the contents of a cooked bclang image: its
// class table, global-variable vector, dispatch table and, on request,
// the disassembled bytecode of every method.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/bclang/backend/disasm"
	"github.com/bclang/backend/imagesink"
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: bcdump [options] image1.bc [image2.bc [...]]

ex:
 $> bcdump -d ./hello.bc

options:
`,
		)
		flag.PrintDefaults()
		os.Exit(1)
	}
}

var (
	flagHeaders = flag.Bool("h", false, "print class table, global vector and dispatch table")
	flagDis     = flag.Bool("d", false, "disassemble method bodies")
	flagDetails = flag.Bool("x", false, "show per-method details (arity, max stack height, dispatch offset)")
)

func main() {
	log.SetPrefix("bcdump: ")
	log.SetFlags(0)

	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
	}
	if !*flagHeaders && !*flagDis && !*flagDetails {
		flag.Usage()
	}

	for i, fname := range flag.Args() {
		if i > 0 {
			fmt.Println()
		}
		if err := process(fname); err != nil {
			log.Fatalf("%s: %v", fname, err)
		}
	}
}

func process(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("could not stat: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("image file is empty")
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return fmt.Errorf("could not mmap: %w", err)
	}
	defer m.Unmap()

	image, err := imagesink.ReadMemory(bytes.NewReader(m))
	if err != nil {
		return fmt.Errorf("could not decode image: %w", err)
	}
	if !image.Cooked {
		return fmt.Errorf("image was never cooked")
	}

	fmt.Printf("%s: %d classes, %d methods, %d globals, %d dispatch-table slots\n",
		fname, len(image.Classes), len(image.Methods), len(image.Globals), len(image.DispatchTable))

	if *flagHeaders {
		printHeaders(image)
	}
	if *flagDis || *flagDetails {
		printMethods(image, *flagDis, *flagDetails)
	}
	return nil
}

func printHeaders(m *imagesink.Memory) {
	fmt.Println("\nclasses:")
	for _, c := range m.Classes {
		fmt.Printf("  %4d  %-24s size=%d runtime=%v\n", c.ID, c.Name, c.InstanceSizeBytes, c.IsRuntime)
	}

	fmt.Println("\nglobals:")
	for i, g := range m.Globals {
		fmt.Printf("  %4d  %s\n", i, describeGlobal(g))
	}

	fmt.Println("\ndispatch table:")
	for i, id := range m.DispatchTable {
		if id < 0 {
			fmt.Printf("  %4d  <hole>\n", i)
			continue
		}
		fmt.Printf("  %4d  -> method %d\n", i, id)
	}

	fmt.Println("\nentry points:")
	for slot, idx := range m.EntryPoints {
		fmt.Printf("  %4d  -> dispatch slot %d\n", slot, idx)
	}
}

func describeGlobal(g imagesink.GlobalEntry) string {
	switch g.Kind {
	case imagesink.GlobalNull:
		return "null"
	case imagesink.GlobalBoolean:
		return fmt.Sprintf("boolean %v", g.Bool)
	case imagesink.GlobalSmi:
		return fmt.Sprintf("smi %d", g.Smi)
	case imagesink.GlobalLargeInteger:
		return fmt.Sprintf("large-integer %d", g.Large)
	case imagesink.GlobalString:
		return fmt.Sprintf("string %q", g.Str)
	case imagesink.GlobalDouble:
		return fmt.Sprintf("double %g", g.Dbl)
	case imagesink.GlobalLazyInitializer:
		return fmt.Sprintf("lazy-initializer method %d", g.Lazy)
	default:
		return fmt.Sprintf("unknown kind %d", g.Kind)
	}
}

func printMethods(m *imagesink.Memory, dis, details bool) {
	fmt.Println("\nmethods:")
	for id, e := range m.Methods {
		if details {
			fmt.Printf("method %d: arity=%d dispatch_offset=%d field_accessor=%v captured=%d max_height=%d bytes=%d\n",
				id, e.Arity, e.DispatchOffset, e.IsFieldAccessor, e.CapturedCount, e.MaxHeight, len(e.Bytecodes))
		} else {
			fmt.Printf("method %d:\n", id)
		}
		if !dis {
			continue
		}
		d, err := disasm.Disassemble(e.Bytecodes)
		if err != nil {
			fmt.Printf("  <disassembly failed: %v>\n", err)
			continue
		}
		for _, instr := range d.Code {
			fmt.Printf("  %s\n", instr)
		}
	}
}
