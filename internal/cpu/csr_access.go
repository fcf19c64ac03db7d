package cpu

// csrPrivilege returns the minimum privilege required to access a CSR,
// encoded in bits [9:8] of its address per the RISC-V convention (spec
// §4.D "csr[9:8] >= current priv").
func csrPrivilege(addr uint32) Privilege {
	return Privilege((addr >> 8) & 0b11)
}

// csrReadOnly reports whether a CSR's address marks it read-only (bits
// [11:10] == 0b11, spec §4.D "write-ability (csr[11:10] != 11)").
func csrReadOnly(addr uint32) bool {
	return (addr>>10)&0b11 == 0b11
}

// readCSR implements the CSR read side, including the sstatus/sip/sie
// projections over mstatus/mip/mie (spec §4.D) and the counteren gating for
// cycle/instret/time read from a lower privilege.
func (h *Hart) readCSR(addr uint32) (uint64, *Trap) {
	if Privilege(h.Priv) < csrPrivilege(addr) {
		return 0, illegalInstruction(0)
	}

	switch addr {
	case CSRMstatus:
		return h.CSR.Mstatus, nil
	case CSRMstatush:
		return 0, nil
	case CSRMisa:
		return misaValue(h.XLEN), nil
	case CSRMedeleg:
		return h.CSR.Medeleg, nil
	case CSRMideleg:
		return h.CSR.Mideleg, nil
	case CSRMie:
		return h.CSR.Mie, nil
	case CSRMtvec:
		return h.CSR.Mtvec, nil
	case CSRMcounteren:
		return uint64(h.CSR.Mcounteren), nil
	case CSRMscratch:
		return h.CSR.Mscratch, nil
	case CSRMepc:
		return h.CSR.Mepc, nil
	case CSRMcause:
		return h.CSR.Mcause, nil
	case CSRMtval:
		return h.CSR.Mtval, nil
	case CSRMip:
		return h.mipValue(), nil

	case CSRSstatus:
		return h.CSR.Mstatus & sstatusMask, nil
	case CSRSie:
		return h.CSR.Mie & h.CSR.Mideleg, nil
	case CSRStvec:
		return h.CSR.Stvec, nil
	case CSRScounteren:
		return uint64(h.CSR.Scounteren), nil
	case CSRSscratch:
		return h.CSR.Sscratch, nil
	case CSRSepc:
		return h.CSR.Sepc, nil
	case CSRScause:
		return h.CSR.Scause, nil
	case CSRStval:
		return h.CSR.Stval, nil
	case CSRSip:
		return h.mipValue() & h.CSR.Mideleg, nil
	case CSRSatp:
		if h.Priv == Supervisor && h.CSR.Mstatus&statusTVM != 0 {
			return 0, illegalInstruction(0)
		}

		return h.CSR.Satp, nil

	case CSRCycle:
		if err := h.checkCounteren(0); err != nil {
			return 0, err
		}

		return h.Mcycle, nil
	case CSRInstret:
		if err := h.checkCounteren(2); err != nil {
			return 0, err
		}

		return h.Mcycle, nil
	case CSRTime:
		if err := h.checkCounteren(1); err != nil {
			return 0, err
		}

		return h.Mcycle, nil
	}

	return 0, illegalInstruction(0)
}

const sstatusMask = statusSIE | statusSPIE | statusSPP | statusSUM | statusMXR

func (h *Hart) checkCounteren(bit uint) *Trap {
	if h.Priv == Machine {
		return nil
	}

	if h.CSR.Mcounteren&(1<<bit) == 0 {
		return illegalInstruction(0)
	}

	if h.Priv == User && h.CSR.Scounteren&(1<<bit) == 0 {
		return illegalInstruction(0)
	}

	return nil
}

// writeCSR implements the CSR write side. Side-effecting writes (satp,
// mstatus.MPRV/SUM/MXR/MPP, mstatush.MPV) flush the TLBs, per spec §4.D.
//
// The Design Notes (spec §9) flag a bug in the source this was derived
// from: "the writeCSR case for mtvec falls through to the mcounteren case
// (missing break)". This implementation treats every case independently,
// the intended behavior the spec adopts.
func (h *Hart) writeCSR(addr uint32, v uint64) *Trap {
	if csrReadOnly(addr) {
		return illegalInstruction(0)
	}

	if Privilege(h.Priv) < csrPrivilege(addr) {
		return illegalInstruction(0)
	}

	switch addr {
	case CSRMstatus:
		prior := h.CSR.Mstatus
		h.CSR.Mstatus = v
		if (prior^v)&(statusMPRV|statusSUM|statusMXR|statusMPP) != 0 {
			h.MMU.FlushAll()
		}
	case CSRMstatush:
		h.MMU.FlushAll() // the written value is not stored (MPV is not modeled); always flush conservatively
	case CSRMisa:
		// misa is effectively read-only in this emulator: no extension can
		// be toggled at runtime.
	case CSRMedeleg:
		h.CSR.Medeleg = v
	case CSRMideleg:
		h.CSR.Mideleg = v
	case CSRMie:
		h.CSR.Mie = v
	case CSRMtvec:
		if !legalTvec(v) {
			return illegalInstruction(0)
		}

		h.CSR.Mtvec = v
	case CSRMcounteren:
		h.CSR.Mcounteren = uint32(v)
	case CSRMscratch:
		h.CSR.Mscratch = v
	case CSRMepc:
		h.CSR.Mepc = v &^ 0b1
	case CSRMcause:
		h.CSR.Mcause = v
	case CSRMtval:
		h.CSR.Mtval = v
	case CSRMip:
		h.mip.Store((h.mipValue() &^ writableMip) | (v & writableMip))

	case CSRSstatus:
		h.CSR.Mstatus = (h.CSR.Mstatus &^ sstatusMask) | (v & sstatusMask)
		h.MMU.FlushAll()
	case CSRSie:
		h.CSR.Mie = (h.CSR.Mie &^ h.CSR.Mideleg) | (v & h.CSR.Mideleg)
	case CSRStvec:
		if !legalTvec(v) {
			return illegalInstruction(0)
		}

		h.CSR.Stvec = v
	case CSRScounteren:
		h.CSR.Scounteren = uint32(v)
	case CSRSscratch:
		h.CSR.Sscratch = v
	case CSRSepc:
		h.CSR.Sepc = v &^ 0b1
	case CSRScause:
		h.CSR.Scause = v
	case CSRStval:
		h.CSR.Stval = v
	case CSRSip:
		h.mip.Store((h.mipValue() &^ (SSIP & h.CSR.Mideleg)) | (v & SSIP & h.CSR.Mideleg))
	case CSRSatp:
		if h.Priv == Supervisor && h.CSR.Mstatus&statusTVM != 0 {
			return illegalInstruction(0)
		}

		h.CSR.Satp = v
		h.MMU.FlushAll()

	default:
		return illegalInstruction(0)
	}

	return nil
}

// writableMip is the subset of mip bits software can set directly via a
// CSR write (the supervisor-level bits); machine-level pending bits are
// set only by RaiseInterrupt from the platform/device side.
const writableMip = SSIP | STIP | SEIP
