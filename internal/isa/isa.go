// Package isa holds the declarative instruction-set schema: field mappings,
// instruction declarations, and the line-oriented parser that builds them
// from a text grammar (spec §4.B). It has no notion of dispatch; that is
// built on top by package decode.
package isa

import "fmt"

// Kind classifies an instruction declaration.
type Kind int

const (
	Regular Kind = iota
	Illegal
	NopHint
)

func (k Kind) String() string {
	switch k {
	case Illegal:
		return "illegal"
	case NopHint:
		return "nop"
	default:
		return "regular"
	}
}

// FieldMapping describes one bit slice of the instruction word that
// contributes to a decoded argument: bits [srcMSB:srcLSB] of the word are
// placed at bit dstLSB of the destination integer, optionally sign-extended
// (spec §3 "Field mapping").
type FieldMapping struct {
	SrcMSB int
	SrcLSB int
	DstLSB int
	Signed bool
}

// Width is the number of source bits the mapping consumes.
func (f FieldMapping) Width() int { return f.SrcMSB - f.SrcLSB + 1 }

// PostProcessor adjusts a decoded argument value after its field mappings
// have been applied, e.g. "add 8" for the compressed-register encodings in
// RVC (spec §4.B "| <postprocessor>").
type PostProcessor func(v int32) int32

// AddConstant returns a PostProcessor that adds a fixed constant, used for
// encodings like RVC's 3-bit register fields that implicitly bias into
// x8-x15.
func AddConstant(c int32) PostProcessor {
	return func(v int32) int32 { return v + c }
}

// Arg is a named, positioned argument of a declaration: an ordered list of
// field mappings (a value may be assembled from more than one disjoint bit
// slice, e.g. RISC-V B-type and J-type immediates) plus an optional
// post-processor.
type Arg struct {
	Name     string
	Mappings []FieldMapping
	Post     PostProcessor
}

// Extract computes the argument's value from an instruction word. Each
// mapping contributes its bit slice at its destination position; when any
// mapping requests sign extension, the result is extended once, from the
// highest bit written by a signed mapping (the usual RISC-V immediate shape
// has exactly one such mapping, carrying the word's top bit).
func (a Arg) Extract(word uint32) int32 {
	var (
		v       int32
		signBit = -1
	)

	for _, m := range a.Mappings {
		field := (word >> uint(m.SrcLSB)) & maskOf(m.Width())
		v |= int32(field << uint(m.DstLSB))

		if m.Signed {
			top := m.DstLSB + m.Width() - 1
			if top > signBit {
				signBit = top
			}
		}
	}

	if signBit >= 0 {
		v = signExtendFrom(v, signBit)
	}

	if a.Post != nil {
		v = a.Post(v)
	}

	return v
}

func maskOf(width int) uint32 {
	if width <= 0 {
		return 0
	}

	if width >= 32 {
		return ^uint32(0)
	}

	return (uint32(1) << uint(width)) - 1
}

func signExtendFrom(v int32, signBit int) int32 {
	shift := uint(31 - signBit)
	return (v << shift) >> shift
}

// Declaration is a single instruction pattern (spec §3 "Instruction
// declaration").
type Declaration struct {
	Name        string
	Display     string
	Kind        Kind
	Size        int // 2 or 4
	Pattern     uint32
	PatternMask uint32
	UnusedBits  uint32
	Args        []Arg // ordered, as declared
}

func (d Declaration) String() string {
	return fmt.Sprintf("%s{pattern=%#010x mask=%#010x size=%d}", d.Name, d.Pattern, d.PatternMask, d.Size)
}

// WordMask is the mask of all valid bits for the declaration's size: 0xffff
// for 16-bit (compressed) instructions, 0xffffffff for 32-bit ones.
func (d Declaration) WordMask() uint32 {
	if d.Size == 2 {
		return 0x0000ffff
	}

	return 0xffffffff
}

// Matches reports whether word matches the declaration's pattern under its
// mask.
func (d Declaration) Matches(word uint32) bool {
	return word&d.PatternMask == d.Pattern&d.PatternMask
}

// MoreSpecificThan reports whether d has strictly more mask bits set than o
// (spec §3: "more-specific (more mask bits) wins").
func (d Declaration) MoreSpecificThan(o Declaration) bool {
	return popcount(d.PatternMask) > popcount(o.PatternMask)
}

func popcount(m uint32) int {
	n := 0
	for m != 0 {
		m &= m - 1
		n++
	}

	return n
}

// Set is a parsed, validated collection of declarations and named fields
// ready for tree-building (package decode).
type Set struct {
	Fields       map[string]Arg
	Declarations []Declaration
}
