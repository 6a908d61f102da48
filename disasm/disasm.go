// Copyright 2026 The bclang Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package disasm decodes a compiled method's bytecode stream back into
// a sequence of instructions, each carrying its decoded operand fields,
// for bcdump and for tests that want to assert on emitted shape without
// hand-counting bytes.
//
// Grounded on disasm's original shape (a flat []Instr plus a running
// high-water stack mark), adapted from a WebAssembly operator/encoding
// table to emitter's own Opcode/Format table.
package disasm

import (
	"encoding/binary"
	"fmt"

	"github.com/bclang/backend/emitter"
	"github.com/bclang/backend/internal/stack"
)

// Instr is a single decoded instruction: an opcode at a byte position,
// together with its operand fields in encoding order. The meaning of
// each field depends on Op; see fieldWidths for the shape of every
// format.
type Instr struct {
	Position int
	Op       emitter.Opcode
	Operands []uint32
	Raw      []byte
}

// String renders an instruction the way bcdump prints it: position,
// mnemonic, then operands in hex.
func (i Instr) String() string {
	if len(i.Operands) == 0 {
		return fmt.Sprintf("%6d  %s", i.Position, i.Op.Name())
	}
	s := fmt.Sprintf("%6d  %-26s", i.Position, i.Op.Name())
	for n, v := range i.Operands {
		if n > 0 {
			s += ","
		}
		s += fmt.Sprintf(" %#x", v)
	}
	return s
}

// Disassembly is the result of decoding one method's bytecode.
type Disassembly struct {
	Code     []Instr
	MaxDepth int
}

// Disassemble decodes the full instruction stream of code, the
// compiled form of a single function body (see emitter.Emitter.Bytecodes).
func Disassemble(code []byte) (*Disassembly, error) {
	d := &Disassembly{}
	depth := &stack.Stack{}
	depth.Push(0)

	pos := 0
	for pos < len(code) {
		op := emitter.Opcode(code[pos])
		length := op.Length()
		if pos+length > len(code) {
			return nil, fmt.Errorf("disasm: truncated instruction %s at position %d (need %d bytes, have %d)", op.Name(), pos, length, len(code)-pos)
		}
		raw := code[pos : pos+length]
		operands, err := decodeOperands(op, raw[1:])
		if err != nil {
			return nil, fmt.Errorf("disasm: at position %d: %w", pos, err)
		}
		d.Code = append(d.Code, Instr{Position: pos, Op: op, Operands: operands, Raw: raw})

		pop, push := netStackEffect(op, operands)
		depth.SetTop(depth.Top() - int64(pop) + int64(push))
		if int(depth.Top()) > d.MaxDepth {
			d.MaxDepth = int(depth.Top())
		}

		pos += length
	}
	return d, nil
}

// fieldWidths returns the byte width of every operand field op's
// format encodes, in encoding order. A width-1 field is an unsigned
// byte, width-2 an unsigned little-endian ushort (emitter.emitUint16),
// width-4 an unsigned little-endian word (emitter.emitUint32).
func fieldWidths(f emitter.Format) []int {
	switch f {
	case emitter.FormatOP:
		return nil
	case emitter.FormatOP_BU, emitter.FormatOP_BS, emitter.FormatOP_BL,
		emitter.FormatOP_BC, emitter.FormatOP_BG, emitter.FormatOP_BF,
		emitter.FormatOP_BB, emitter.FormatOP_BCI, emitter.FormatOP_BII,
		emitter.FormatOP_BLC:
		return []int{1}
	case emitter.FormatOP_SU, emitter.FormatOP_SF, emitter.FormatOP_SD,
		emitter.FormatOP_SO, emitter.FormatOP_SS, emitter.FormatOP_SL,
		emitter.FormatOP_SG, emitter.FormatOP_SC, emitter.FormatOP_SCI,
		emitter.FormatOP_SII, emitter.FormatOP_SB:
		return []int{2}
	case emitter.FormatOP_WU:
		return []int{4}
	case emitter.FormatOP_BS_BU:
		return []int{1, 1}
	case emitter.FormatOP_BS_SO, emitter.FormatOP_BU_SO, emitter.FormatOP_BU_SU:
		return []int{1, 2}
	case emitter.FormatOP_SS_SO:
		return []int{2, 2}
	case emitter.FormatOP_SU_SU:
		return []int{2, 2}
	case emitter.FormatOP_SD_BS_BU:
		return []int{2, 1, 1}
	case emitter.FormatOP_BU_WU:
		return []int{1, 4}
	default:
		return nil
	}
}

func decodeOperands(op emitter.Opcode, operandBytes []byte) ([]uint32, error) {
	widths := fieldWidths(op.Format())
	operands := make([]uint32, 0, len(widths))
	pos := 0
	for _, w := range widths {
		if pos+w > len(operandBytes) {
			return nil, fmt.Errorf("%s: operand field truncated", op.Name())
		}
		switch w {
		case 1:
			operands = append(operands, uint32(operandBytes[pos]))
		case 2:
			operands = append(operands, uint32(binary.LittleEndian.Uint16(operandBytes[pos:])))
		case 4:
			operands = append(operands, binary.LittleEndian.Uint32(operandBytes[pos:]))
		}
		pos += w
	}
	return operands, nil
}

// netStackEffect returns the (pop, push) counts an instruction applies
// to the abstract expression stack, mirroring the push/pop calls made
// by the corresponding emitter.Emitter method. Peephole-fused opcodes
// (STORE_LOCAL_POP, POP_LOAD_LOCAL, RETURN_NULL, ...) are accounted
// for directly, with the same net effect as the unfused sequence they
// replace.
func netStackEffect(op emitter.Opcode, operands []uint32) (pop, push int) {
	switch op {
	case emitter.LOAD_LOCAL, emitter.LOAD_LOCAL_WIDE,
		emitter.LOAD_LOCAL_0, emitter.LOAD_LOCAL_1, emitter.LOAD_LOCAL_2,
		emitter.LOAD_LOCAL_3, emitter.LOAD_LOCAL_4, emitter.LOAD_LOCAL_5,
		emitter.LOAD_OUTER, emitter.LOAD_FIELD, emitter.LOAD_FIELD_WIDE,
		emitter.LOAD_FIELD_LOCAL,
		emitter.LOAD_LITERAL, emitter.LOAD_LITERAL_WIDE, emitter.LOAD_NULL,
		emitter.LOAD_SMI_0, emitter.LOAD_SMI_1, emitter.LOAD_SMI_U8,
		emitter.LOAD_SMI_U16, emitter.LOAD_SMI_U32,
		emitter.LOAD_GLOBAL_VAR, emitter.LOAD_GLOBAL_VAR_WIDE,
		emitter.LOAD_GLOBAL_VAR_LAZY, emitter.LOAD_GLOBAL_VAR_LAZY_WIDE,
		emitter.LOAD_BLOCK, emitter.LOAD_OUTER_BLOCK:
		return 0, 1

	case emitter.LOAD_SMIS_0:
		n := 1
		if len(operands) > 0 {
			n = int(operands[0])
		}
		return 0, n

	case emitter.POP_LOAD_LOCAL, emitter.POP_LOAD_FIELD_LOCAL:
		return 1, 1

	case emitter.LOAD_GLOBAL_VAR_DYNAMIC:
		return 1, 1

	case emitter.STORE_LOCAL, emitter.STORE_OUTER,
		emitter.STORE_GLOBAL_VAR, emitter.STORE_GLOBAL_VAR_WIDE:
		return 0, 0

	case emitter.STORE_LOCAL_POP:
		return 1, 0

	case emitter.STORE_FIELD, emitter.STORE_FIELD_WIDE:
		return 2, 1
	case emitter.STORE_FIELD_POP:
		return 2, 0

	case emitter.STORE_GLOBAL_VAR_DYNAMIC:
		return 2, 0

	case emitter.POP_1:
		return 1, 0
	case emitter.POP:
		n := 0
		if len(operands) > 0 {
			n = int(operands[0])
		}
		return n, 0

	case emitter.ALLOCATE, emitter.ALLOCATE_WIDE:
		return 0, 1

	case emitter.IS_CLASS, emitter.IS_CLASS_WIDE,
		emitter.IS_INTERFACE, emitter.IS_INTERFACE_WIDE,
		emitter.AS_CLASS, emitter.AS_CLASS_WIDE,
		emitter.AS_INTERFACE, emitter.AS_INTERFACE_WIDE:
		return 1, 1
	case emitter.AS_LOCAL:
		return 0, 0

	case emitter.INVOKE_STATIC, emitter.INVOKE_STATIC_TAIL,
		emitter.INVOKE_LAMBDA_TAIL, emitter.INVOKE_INITIALIZER_TAIL:
		return 0, 1
	case emitter.INVOKE_BLOCK:
		arity := 0
		if len(operands) > 0 {
			arity = int(operands[0])
		}
		return arity, 1

	case emitter.INVOKE_VIRTUAL_GET:
		return 1, 1
	case emitter.INVOKE_VIRTUAL_SET:
		return 2, 1
	case emitter.INVOKE_VIRTUAL, emitter.INVOKE_VIRTUAL_WIDE:
		arity := 1
		if len(operands) > 0 {
			arity = int(operands[0]) + 1
		}
		return arity, 1

	case emitter.INVOKE_EQ, emitter.INVOKE_LT, emitter.INVOKE_GT,
		emitter.INVOKE_LTE, emitter.INVOKE_GTE, emitter.INVOKE_BIT_OR,
		emitter.INVOKE_BIT_XOR, emitter.INVOKE_BIT_AND, emitter.INVOKE_BIT_SHL,
		emitter.INVOKE_BIT_SHR, emitter.INVOKE_BIT_USHR, emitter.INVOKE_ADD,
		emitter.INVOKE_SUB, emitter.INVOKE_MUL, emitter.INVOKE_DIV,
		emitter.INVOKE_MOD, emitter.INVOKE_AT:
		return 2, 1
	case emitter.INVOKE_AT_PUT:
		return 3, 1

	case emitter.BRANCH, emitter.BRANCH_BACK, emitter.BRANCH_BACK_WIDE:
		return 0, 0
	case emitter.BRANCH_IF_TRUE, emitter.BRANCH_IF_FALSE,
		emitter.BRANCH_BACK_IF_TRUE, emitter.BRANCH_BACK_IF_TRUE_WIDE,
		emitter.BRANCH_BACK_IF_FALSE, emitter.BRANCH_BACK_IF_FALSE_WIDE:
		return 1, 0

	case emitter.PRIMITIVE:
		return 0, 1
	case emitter.THROW:
		return 1, 0
	case emitter.RETURN, emitter.RETURN_NULL:
		return 0, 0
	case emitter.NON_LOCAL_RETURN, emitter.NON_LOCAL_RETURN_WIDE:
		return 1, 0
	case emitter.NON_LOCAL_BRANCH:
		return 0, 0
	case emitter.LINK, emitter.UNLINK, emitter.UNWIND, emitter.HALT:
		return 0, 0

	case emitter.INTRINSIC_SMI_REPEAT, emitter.INTRINSIC_ARRAY_DO,
		emitter.INTRINSIC_HASH_FIND, emitter.INTRINSIC_HASH_DO,
		emitter.INTRINSIC_MONITOR_ENTER, emitter.INTRINSIC_MONITOR_EXIT:
		return 0, 0

	default:
		return 0, 0
	}
}
