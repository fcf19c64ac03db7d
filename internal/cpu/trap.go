package cpu

// interruptCauseNumber maps an mip/mie bit to its RISC-V interrupt cause
// number (the value written to xcause with the top bit set).
func interruptCauseNumber(bit uint64) uint64 {
	switch bit {
	case SSIP:
		return 1
	case MSIP:
		return 3
	case STIP:
		return 5
	case MTIP:
		return 7
	case SEIP:
		return 9
	case MEIP:
		return 11
	default:
		return 0
	}
}

// deliverException implements spec §4.D's exception-delivery algorithm:
// increment mcycle (per the Design Notes, this is the spec-adopted,
// intentionally-retained behavior, not a bug to fix — §9 "raiseException
// increments mcycle; this is not mandated ... the spec adopts the intended
// behavior" is listed as an open question the spec resolves by keeping it),
// then delegate to S-mode when medeleg/mideleg and current privilege allow
// it, else trap to M-mode.
func (h *Hart) deliverException(t *Trap) {
	h.Mcycle++

	cause := t.Cause
	if t.Interrupt {
		cause = interruptCauseNumber(t.Cause) | 1<<63
	}

	delegated := false

	if h.Priv != Machine {
		if t.Interrupt {
			delegated = h.CSR.Mideleg&t.Cause != 0
		} else {
			delegated = h.CSR.Medeleg&(1<<t.Cause) != 0
		}
	}

	if delegated {
		h.CSR.Scause = cause
		h.CSR.Sepc = h.PC
		h.CSR.Stval = t.Tval

		spie := (h.CSR.Mstatus & statusSIE) != 0
		h.CSR.Mstatus &^= statusSPIE
		if spie {
			h.CSR.Mstatus |= statusSPIE
		}

		h.CSR.Mstatus &^= statusSPP
		if h.Priv == Supervisor {
			h.CSR.Mstatus |= statusSPP
		}

		h.CSR.Mstatus &^= statusSIE

		h.Priv = Supervisor
		h.PC = h.CSR.Stvec &^ 0b11
		if t.Interrupt && h.CSR.Stvec&0b11 == 1 {
			h.PC += 4 * interruptCauseNumber(t.Cause)
		}
	} else {
		h.CSR.Mcause = cause
		h.CSR.Mepc = h.PC
		h.CSR.Mtval = t.Tval

		mie := (h.CSR.Mstatus & statusMIE) != 0
		h.CSR.Mstatus &^= statusMPIE
		if mie {
			h.CSR.Mstatus |= statusMPIE
		}

		h.CSR.Mstatus &^= statusMPP
		h.CSR.Mstatus |= uint64(h.Priv) << statusMPPShift

		h.CSR.Mstatus &^= statusMIE

		h.Priv = Machine
		h.PC = h.CSR.Mtvec &^ 0b11
		if t.Interrupt && h.CSR.Mtvec&0b11 == 1 {
			h.PC += 4 * interruptCauseNumber(t.Cause)
		}
	}
}

// sret implements the SRET privileged instruction (spec §4.D: "requires
// priv >= S and mstatus.TSR == 0; restores SIE from SPIE, sets SPIE=1,
// privilege <- SPP, SPP<-U, clears MPRV").
func (h *Hart) sret() *Trap {
	if h.Priv < Supervisor {
		return illegalInstruction(0)
	}

	if h.Priv == Supervisor && h.CSR.Mstatus&statusTSR != 0 {
		return illegalInstruction(0)
	}

	spie := h.CSR.Mstatus&statusSPIE != 0

	// Design Notes resolution (spec §9): "SIE <- SPIE", a plain replace,
	// not a multiply of the existing SIE by SPIE.
	h.CSR.Mstatus &^= statusSIE
	if spie {
		h.CSR.Mstatus |= statusSIE
	}

	h.CSR.Mstatus |= statusSPIE

	if h.CSR.Mstatus&statusSPP != 0 {
		h.Priv = Supervisor
	} else {
		h.Priv = User
	}

	h.CSR.Mstatus &^= statusSPP
	h.CSR.Mstatus &^= statusMPRV

	h.PC = h.CSR.Sepc
	h.MMU.FlushAll()

	return nil
}

// mret implements MRET (spec §4.D).
func (h *Hart) mret() *Trap {
	if h.Priv != Machine {
		return illegalInstruction(0)
	}

	mpie := h.CSR.Mstatus&statusMPIE != 0

	h.CSR.Mstatus &^= statusMIE
	if mpie {
		h.CSR.Mstatus |= statusMIE
	}

	h.CSR.Mstatus |= statusMPIE

	mpp := Privilege((h.CSR.Mstatus & statusMPP) >> statusMPPShift)
	h.Priv = mpp

	h.CSR.Mstatus &^= statusMPP // MPP <- U

	if mpp != Machine {
		h.CSR.Mstatus &^= statusMPRV
	}

	h.PC = h.CSR.Mepc
	h.MMU.FlushAll()

	return nil
}

// wfi implements WFI (spec §4.D: "illegal in U-mode, illegal in S-mode when
// mstatus.TW is set. If any pending interrupt is already enabled, returns
// immediately; else sets waitingForInterrupt").
func (h *Hart) wfi() *Trap {
	if h.Priv == User {
		return illegalInstruction(0)
	}

	if h.Priv == Supervisor && h.CSR.Mstatus&statusTW != 0 {
		return illegalInstruction(0)
	}

	if h.pendingEnabledInterrupt() {
		return nil
	}

	h.WaitingForInterrupt = true

	return nil
}

// sfenceVMA implements SFENCE.VMA: this emulator's TLBs carry no ASID
// distinction (spec §3's TLB entry has no ASID field), so any SFENCE.VMA
// flushes unconditionally regardless of its rs1/rs2 operands.
func (h *Hart) sfenceVMA() *Trap {
	h.MMU.FlushAll()
	return nil
}
