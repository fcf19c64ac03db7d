package cpu

import (
	"rvemu/internal/isa"
	"rvemu/internal/mmu"
)

// execFunc implements one instruction's semantics. word is the raw
// instruction word (for argument extraction); pc is the address the
// instruction was fetched from; nextPC is pre-set to pc+size and may be
// overwritten by control-flow instructions (spec §4.C "PC-writes static
// analysis" is what lets the decoder know, ahead of time, which
// declarations are even candidates for doing so).
type execFunc func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap

// execTable is the teacher's dispatch-table idiom (internal/vm/disp.go)
// generalized from a fixed 16-entry opcode array to a name-keyed map, since
// the RISC-V schema's declarations are identified by name rather than a
// small dense opcode space.
var execTable = map[string]execFunc{
	"addi":  execALUImm(func(a, imm int64) int64 { return a + imm }),
	"slti":  execALUImm(func(a, imm int64) int64 { return boolToInt64(a < imm) }),
	"sltiu": execALUImmU(func(a, imm uint64) uint64 { return boolToUint64(a < imm) }),
	"xori":  execALUImm(func(a, imm int64) int64 { return a ^ imm }),
	"ori":   execALUImm(func(a, imm int64) int64 { return a | imm }),
	"andi":  execALUImm(func(a, imm int64) int64 { return a & imm }),
	"slli":  execShiftImm(func(a uint64, sh uint) uint64 { return a << sh }),
	"srli":  execShiftImm(func(a uint64, sh uint) uint64 { return a >> sh }),
	"srai":  execShiftImmArith,

	"add":  execALUReg(func(a, b int64) int64 { return a + b }),
	"sub":  execALUReg(func(a, b int64) int64 { return a - b }),
	"sll":  execShiftReg(func(a uint64, sh uint) uint64 { return a << sh }),
	"slt":  execALUReg(func(a, b int64) int64 { return boolToInt64(a < b) }),
	"sltu": execALURegU(func(a, b uint64) uint64 { return boolToUint64(a < b) }),
	"xor":  execALUReg(func(a, b int64) int64 { return a ^ b }),
	"srl":  execShiftReg(func(a uint64, sh uint) uint64 { return a >> sh }),
	"sra":  execShiftRegArith,
	"or":   execALUReg(func(a, b int64) int64 { return a | b }),
	"and":  execALUReg(func(a, b int64) int64 { return a & b }),

	"mul":    execALUReg(func(a, b int64) int64 { return a * b }),
	"mulh":   execMulh,
	"mulhsu": execMulhsu,
	"mulhu":  execMulhu,
	"div":    execDiv,
	"divu":   execDivu,
	"rem":    execRem,
	"remu":   execRemu,

	"lui":   execLUI,
	"auipc": execAUIPC,

	"jal":  execJAL,
	"jalr": execJALR,

	"beq":  execBranch(func(a, b int64) bool { return a == b }),
	"bne":  execBranch(func(a, b int64) bool { return a != b }),
	"blt":  execBranch(func(a, b int64) bool { return a < b }),
	"bge":  execBranch(func(a, b int64) bool { return a >= b }),
	"bltu": execBranchU(func(a, b uint64) bool { return a < b }),
	"bgeu": execBranchU(func(a, b uint64) bool { return a >= b }),

	"lb":  execLoad(1, true),
	"lh":  execLoad(2, true),
	"lw":  execLoad(4, true),
	"lbu": execLoad(1, false),
	"lhu": execLoad(2, false),
	"lwu": execLoad(4, false),
	"ld":  execLoad(8, true),

	"sb": execStore(1),
	"sh": execStore(2),
	"sw": execStore(4),
	"sd": execStore(8),

	"fence":   execNop,
	"fence.i": execNop,

	"ecall":  execECall,
	"ebreak": execEBreak,

	"csrrw":  execCSRRW,
	"csrrs":  execCSRRS,
	"csrrc":  execCSRRC,
	"csrrwi": execCSRRWI,
	"csrrsi": execCSRRSI,
	"csrrci": execCSRRCI,

	"mret":       execMret,
	"sret":       execSret,
	"wfi":        execWfi,
	"sfence.vma": execSfenceVMA,

	"lr.w": execLR(4),
	"lr.d": execLR(8),
	"sc.w": execSC(4),
	"sc.d": execSC(8),

	"amoswap.w": execAMO(4, func(a, b int64) int64 { return b }),
	"amoadd.w":  execAMO(4, func(a, b int64) int64 { return a + b }),
	"amoxor.w":  execAMO(4, func(a, b int64) int64 { return a ^ b }),
	"amoor.w":   execAMO(4, func(a, b int64) int64 { return a | b }),
	"amoand.w":  execAMO(4, func(a, b int64) int64 { return a & b }),
	"amoswap.d": execAMO(8, func(a, b int64) int64 { return b }),
	"amoadd.d":  execAMO(8, func(a, b int64) int64 { return a + b }),
	"amoxor.d":  execAMO(8, func(a, b int64) int64 { return a ^ b }),
	"amoor.d":   execAMO(8, func(a, b int64) int64 { return a | b }),
	"amoand.d":  execAMO(8, func(a, b int64) int64 { return a & b }),
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}

	return 0
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}

	return 0
}

// execute looks up and runs the declaration's handler; nop/hint
// declarations and unmapped regular declarations (schema entries this
// emulator doesn't model, e.g. a floating-point opcode — spec §1 Non-goals
// exclude FP arithmetic) execute as a no-op advance.
func (h *Hart) execute(d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	if d.Kind == isa.NopHint {
		return nil
	}

	fn, ok := execTable[d.Name]
	if !ok {
		return nil
	}

	return fn(h, d, word, pc, nextPC)
}

// arg extracts a named argument's value, preferring a value the decoder
// already hoisted for this instruction (spec §4.C field hoisting) over
// re-extracting it from word: the two are required to agree (spec §8
// "field-extraction law"), so either source is correct, but consulting the
// hoisted value first is the point of hoisting it in the first place.
func arg(h *Hart, d *isa.Declaration, word uint32, name string) int64 {
	if h.hoisted != nil {
		if v, ok := h.hoisted[name]; ok {
			return v
		}
	}

	for _, a := range d.Args {
		if a.Name == name {
			return int64(a.Extract(word))
		}
	}

	return 0
}

func argU(h *Hart, d *isa.Declaration, word uint32, name string) uint64 {
	return uint64(arg(h, d, word, name))
}

func execALUImm(op func(a, imm int64) int64) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		imm := arg(h, d, word, "imm12")

		h.writeReg(int(rd), uint64(op(int64(h.X[rs1]), imm)))

		return nil
	}
}

func execALUImmU(op func(a, imm uint64) uint64) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		imm := argU(h, d, word, "imm12")

		h.writeReg(int(rd), op(h.X[rs1], imm))

		return nil
	}
}

func execALUReg(op func(a, b int64) int64) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")

		h.writeReg(int(rd), uint64(op(int64(h.X[rs1]), int64(h.X[rs2]))))

		return nil
	}
}

func execALURegU(op func(a, b uint64) uint64) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")

		h.writeReg(int(rd), op(h.X[rs1], h.X[rs2]))

		return nil
	}
}

func shiftAmount(h *Hart, v int64) uint {
	if h.XLEN == 32 {
		return uint(v) & 0x1f
	}

	return uint(v) & 0x3f
}

func execShiftImm(op func(a uint64, sh uint) uint64) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		sh := arg(h, d, word, "shamt")

		h.writeReg(int(rd), op(h.X[rs1], shiftAmount(h, sh)))

		return nil
	}
}

func execShiftImmArith(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	sh := arg(h, d, word, "shamt")

	h.writeReg(int(rd), uint64(int64(h.X[rs1])>>shiftAmount(h, sh)))

	return nil
}

func execShiftReg(op func(a uint64, sh uint) uint64) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")

		h.writeReg(int(rd), op(h.X[rs1], shiftAmount(h, int64(h.X[rs2]))))

		return nil
	}
}

func execShiftRegArith(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	h.writeReg(int(rd), uint64(int64(h.X[rs1])>>shiftAmount(h, int64(h.X[rs2]))))

	return nil
}

func execMulh(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	a, b := int64(h.X[rs1]), int64(h.X[rs2])
	hi, _ := mulHiLo64(a, b)
	h.writeReg(int(rd), uint64(hi))

	return nil
}

func execMulhu(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	a, b := h.X[rs1], h.X[rs2]
	hi, _ := mulHiLoU64(a, b)
	h.writeReg(int(rd), hi)

	return nil
}

func execMulhsu(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	a := int64(h.X[rs1])
	b := h.X[rs2]

	neg := a < 0

	ua := uint64(a)
	if neg {
		ua = uint64(-a)
	}

	hi, _ := mulHiLoU64(ua, b)

	if neg {
		hi = ^hi
		if lo, _ := mulHiLoU64(ua, b); lo == 0 {
			hi++
		}
	}

	h.writeReg(int(rd), hi)

	return nil
}

func mulHiLo64(a, b int64) (hi, lo int64) {
	h, l := mulHiLoU64(uint64(a), uint64(b))
	return int64(h), int64(l)
}

func mulHiLoU64(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff

	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	lo = t & mask32
	carry := t >> 32

	t = aHi*bLo + carry
	midLo := t & mask32
	midHi := t >> 32

	t = aLo*bHi + midLo
	lo |= (t & mask32) << 32
	carry = t >> 32

	hi = aHi*bHi + midHi + carry

	return hi, lo
}

func execDiv(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	a, b := int64(h.X[rs1]), int64(h.X[rs2])

	var result int64

	switch {
	case b == 0:
		result = -1
	case a == minInt64(h.XLEN) && b == -1:
		result = a
	default:
		result = a / b
	}

	h.writeReg(int(rd), uint64(result))

	return nil
}

func minInt64(xlen int) int64 {
	if xlen == 32 {
		return int64(-1) << 31
	}

	return int64(-1) << 63
}

func execDivu(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	a, b := h.X[rs1], h.X[rs2]

	var result uint64 = ^uint64(0)
	if b != 0 {
		result = a / b
	}

	h.writeReg(int(rd), result)

	return nil
}

func execRem(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	a, b := int64(h.X[rs1]), int64(h.X[rs2])

	var result int64

	switch {
	case b == 0:
		result = a
	case a == minInt64(h.XLEN) && b == -1:
		result = 0
	default:
		result = a % b
	}

	h.writeReg(int(rd), uint64(result))

	return nil
}

func execRemu(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	rs2 := arg(h, d, word, "rs2")

	a, b := h.X[rs1], h.X[rs2]

	result := a
	if b != 0 {
		result = a % b
	}

	h.writeReg(int(rd), result)

	return nil
}

func execLUI(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	imm := argU(h, d, word, "imm20")

	h.writeReg(int(rd), imm<<12)

	return nil
}

func execAUIPC(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	imm := argU(h, d, word, "imm20")

	h.writeReg(int(rd), pc+(imm<<12))

	return nil
}

func execJAL(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	imm := arg(h, d, word, "jimm20")

	h.writeReg(int(rd), *nextPC)

	target := uint64(int64(pc) + imm)
	if target&0b1 != 0 {
		return misalignedFault(CauseInstructionMisaligned, target)
	}

	*nextPC = target

	return nil
}

func execJALR(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	imm := arg(h, d, word, "imm12")

	ret := *nextPC
	target := (uint64(int64(h.X[rs1])+imm)) &^ 1

	h.writeReg(int(rd), ret)

	if target&0b1 != 0 {
		return misalignedFault(CauseInstructionMisaligned, target)
	}

	*nextPC = target

	return nil
}

func execBranch(cmp func(a, b int64) bool) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")
		imm := arg(h, d, word, "bimm12")

		if cmp(int64(h.X[rs1]), int64(h.X[rs2])) {
			target := uint64(int64(pc) + imm)
			if target&0b1 != 0 {
				return misalignedFault(CauseInstructionMisaligned, target)
			}

			*nextPC = target
		}

		return nil
	}
}

func execBranchU(cmp func(a, b uint64) bool) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")
		imm := arg(h, d, word, "bimm12")

		if cmp(h.X[rs1], h.X[rs2]) {
			target := uint64(int64(pc) + imm)
			if target&0b1 != 0 {
				return misalignedFault(CauseInstructionMisaligned, target)
			}

			*nextPC = target
		}

		return nil
	}
}

func (h *Hart) loadMem(addr uint64, size int, signed bool) (uint64, *Trap) {
	pa, dev, off, err := h.MMU.Translate(h, addr, mmu.Load)
	if err != nil {
		return 0, translateFault(err, addr, CauseLoadPageFault, CauseLoadFault)
	}

	_ = pa

	v, err := dev.Load(off, size)
	if err != nil {
		return 0, accessFault(CauseLoadFault, addr)
	}

	if signed {
		v = signExtendLoad(v, size)
	}

	return v, nil
}

func signExtendLoad(v uint64, size int) uint64 {
	switch size {
	case 1:
		return uint64(int64(int8(v)))
	case 2:
		return uint64(int64(int16(v)))
	case 4:
		return uint64(int64(int32(v)))
	default:
		return v
	}
}

func (h *Hart) storeMem(addr uint64, size int, value uint64) *Trap {
	pa, dev, off, err := h.MMU.Translate(h, addr, mmu.Store)
	if err != nil {
		return translateFault(err, addr, CauseStorePageFault, CauseStoreFault)
	}

	_ = pa

	if err := dev.Store(off, size, value); err != nil {
		return accessFault(CauseStoreFault, addr)
	}

	return nil
}

func execLoad(size int, signed bool) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		imm := arg(h, d, word, "imm12")

		addr := uint64(int64(h.X[rs1]) + imm)

		v, trap := h.loadMem(addr, size, signed)
		if trap != nil {
			return trap
		}

		h.writeReg(int(rd), v)

		return nil
	}
}

func execStore(size int) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")
		imm := arg(h, d, word, "simm12")

		addr := uint64(int64(h.X[rs1]) + imm)

		return h.storeMem(addr, size, h.X[rs2])
	}
}

func execNop(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return nil
}

func execECall(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return environmentCall(h.Priv)
}

func execEBreak(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return breakpoint(pc)
}

func execCSRRW(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	csr := uint32(argU(h, d, word, "csr12"))

	var old uint64

	var trap *Trap

	if rd != 0 {
		old, trap = h.readCSR(csr)
		if trap != nil {
			return trap
		}
	}

	if trap := h.writeCSR(csr, h.X[rs1]); trap != nil {
		return trap
	}

	h.writeReg(int(rd), old)

	return nil
}

func execCSRRS(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return csrSetClear(h, d, word, true)
}

func execCSRRC(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return csrSetClear(h, d, word, false)
}

func csrSetClear(h *Hart, d *isa.Declaration, word uint32, set bool) *Trap {
	rd := arg(h, d, word, "rd")
	rs1 := arg(h, d, word, "rs1")
	csr := uint32(argU(h, d, word, "csr12"))

	old, trap := h.readCSR(csr)
	if trap != nil {
		return trap
	}

	if rs1 != 0 {
		next := old

		if set {
			next |= h.X[rs1]
		} else {
			next &^= h.X[rs1]
		}

		if trap := h.writeCSR(csr, next); trap != nil {
			return trap
		}
	}

	h.writeReg(int(rd), old)

	return nil
}

func execCSRRWI(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	rd := arg(h, d, word, "rd")
	imm := argU(h, d, word, "zimm")
	csr := uint32(argU(h, d, word, "csr12"))

	var old uint64

	var trap *Trap

	if rd != 0 {
		old, trap = h.readCSR(csr)
		if trap != nil {
			return trap
		}
	}

	if trap := h.writeCSR(csr, imm); trap != nil {
		return trap
	}

	h.writeReg(int(rd), old)

	return nil
}

func execCSRRSI(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return csrSetClearImm(h, d, word, true)
}

func execCSRRCI(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return csrSetClearImm(h, d, word, false)
}

func csrSetClearImm(h *Hart, d *isa.Declaration, word uint32, set bool) *Trap {
	rd := arg(h, d, word, "rd")
	imm := argU(h, d, word, "zimm")
	csr := uint32(argU(h, d, word, "csr12"))

	old, trap := h.readCSR(csr)
	if trap != nil {
		return trap
	}

	if imm != 0 {
		next := old
		if set {
			next |= imm
		} else {
			next &^= imm
		}

		if trap := h.writeCSR(csr, next); trap != nil {
			return trap
		}
	}

	h.writeReg(int(rd), old)

	return nil
}

func execMret(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	trap := h.mret()
	if trap == nil {
		*nextPC = h.PC
	}

	return trap
}

func execSret(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	trap := h.sret()
	if trap == nil {
		*nextPC = h.PC
	}

	return trap
}

func execWfi(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return h.wfi()
}

func execSfenceVMA(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
	return h.sfenceVMA()
}

// execLR implements LR.W/LR.D (spec §4.E "LR records the virtual address
// into reservation_set").
func execLR(size int) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")

		addr := h.X[rs1]

		v, trap := h.loadMem(addr, size, true)
		if trap != nil {
			return trap
		}

		h.reservationValid = true
		h.reservationAddr = addr

		h.writeReg(int(rd), v)

		return nil
	}
}

// execSC implements SC.W/SC.D ("succeeds only if the address matches and
// is then unconditionally cleared", spec §4.E).
func execSC(size int) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")

		addr := h.X[rs1]

		success := h.reservationValid && h.reservationAddr == addr
		h.reservationValid = false

		if success {
			if trap := h.storeMem(addr, size, h.X[rs2]); trap != nil {
				return trap
			}

			h.writeReg(int(rd), 0)
		} else {
			h.writeReg(int(rd), 1)
		}

		return nil
	}
}

// execAMO implements the read-modify-write atomics ("two-step
// load-modify-store on the same address with ordinary permission checks",
// spec §4.E).
func execAMO(size int, op func(mem, reg int64) int64) execFunc {
	return func(h *Hart, d *isa.Declaration, word uint32, pc uint64, nextPC *uint64) *Trap {
		rd := arg(h, d, word, "rd")
		rs1 := arg(h, d, word, "rs1")
		rs2 := arg(h, d, word, "rs2")

		addr := h.X[rs1]

		old, trap := h.loadMem(addr, size, true)
		if trap != nil {
			return trap
		}

		result := op(int64(old), int64(h.X[rs2]))

		if trap := h.storeMem(addr, size, uint64(result)); trap != nil {
			return trap
		}

		h.writeReg(int(rd), old)

		h.reservationValid = false

		return nil
	}
}
