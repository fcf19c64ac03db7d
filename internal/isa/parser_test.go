package isa_test

import (
	"strings"
	"testing"

	"rvemu/internal/isa"
)

func TestParseSimple(t *testing.T) {
	t.Parallel()

	src := `
field rd    11:7
field rs1   19:15
field imm12 s31:20

inst addi | ....... ..... ..... 000 ..... 0010011 | imm12 rs1 rd
`

	set, err := isa.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse = %v", err)
	}

	if len(set.Declarations) != 1 {
		t.Fatalf("len(Declarations) = %d, want 1", len(set.Declarations))
	}

	d := set.Declarations[0]
	if d.Name != "addi" {
		t.Errorf("Name = %q, want addi", d.Name)
	}

	// ADDI x1, x0, 5: 0x00500093
	word := uint32(0x00500093)
	if !d.Matches(word) {
		t.Fatalf("Matches(%#x) = false, want true", word)
	}

	rd := d.Args[2].Extract(word)
	if rd != 1 {
		t.Errorf("rd = %d, want 1", rd)
	}

	imm := d.Args[0].Extract(word)
	if imm != 5 {
		t.Errorf("imm12 = %d, want 5", imm)
	}
}

func TestParseRejectsOverlap(t *testing.T) {
	t.Parallel()

	// rd's mapping (bits 6:0) collides with the pattern's own literal
	// opcode bits at the same position.
	src := `
field rd 6:0

inst bad | ....... ..... ..... 000 ..... 0010011 | rd
`

	if _, err := isa.Parse(strings.NewReader(src)); err == nil {
		t.Fatalf("Parse succeeded, want error for overlapping argument bits")
	}
}

func TestParseAmbiguous(t *testing.T) {
	t.Parallel()

	src := `
inst a | 1.000000 00000000 00000000 00000000 |
inst b | .1000000 00000000 00000000 00000000 |
`

	if _, err := isa.Parse(strings.NewReader(src)); err == nil {
		t.Fatalf("Parse succeeded, want ambiguity error")
	}
}

func TestParseDominatedAmbiguityOK(t *testing.T) {
	t.Parallel()

	// Two incomparable-mask declarations that agree on overlap, but a third
	// declaration strictly dominates both wherever they'd collide.
	src := `
inst narrow1 | 1.000000 00000000 00000000 00000000 |
inst narrow2 | 10.00000 00000000 00000000 00000000 |
inst wide    | 10000000 00000000 00000000 00000000 |
`

	if _, err := isa.Parse(strings.NewReader(src)); err != nil {
		t.Fatalf("Parse = %v, want success (dominated ambiguity)", err)
	}
}

func TestCompressedSize(t *testing.T) {
	t.Parallel()

	src := `inst c_nop | 000 0 00000 00000 01 |`

	set, err := isa.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse = %v", err)
	}

	if set.Declarations[0].Size != 2 {
		t.Errorf("Size = %d, want 2", set.Declarations[0].Size)
	}
}
