package board

// defaultSchema is the board's default RV64IMA + Zicsr + privileged
// instruction set, written in the spec's line-oriented schema grammar
// (package isa) and fed through decode.Build/decode.Compile exactly the
// way internal/cpu's tests build a narrower one. RV32 boards reuse the
// same schema — the word encodings are identical; only XLEN and Hart's
// arithmetic narrow.
//
// *W word-size variants (addiw, sllw, ...) are deliberately absent: there
// is no execTable entry for them, so a guest that executes one faults as
// an illegal instruction rather than silently behaving like its XLEN=64
// counterpart.
const defaultSchema = `
field rd     11:7
field rs1    19:15
field rs2    24:20
field shamt  25:20
field zimm   19:15
field imm12  s31:20
field simm12 s31:25@5 11:7@0
field bimm12 s31@12 7@11 30:25@5 11:8@1
field jimm20 s31@20 19:12@12 20@11 30:21@1
field imm20  31:12@12
field csr12  31:20@0

# RV32I/RV64I base integer

inst lui   | .................... ..... 0110111 | imm20 rd
inst auipc | .................... ..... 0010111 | imm20 rd

inst jal  | . .......... . ........ ..... 1101111 | jimm20 rd
inst jalr | ............ ..... 000 ..... 1100111 | imm12 rs1 rd

inst beq  | . ...... ..... ..... 000 .... . 1100011 | bimm12 rs2 rs1
inst bne  | . ...... ..... ..... 001 .... . 1100011 | bimm12 rs2 rs1
inst blt  | . ...... ..... ..... 100 .... . 1100011 | bimm12 rs2 rs1
inst bge  | . ...... ..... ..... 101 .... . 1100011 | bimm12 rs2 rs1
inst bltu | . ...... ..... ..... 110 .... . 1100011 | bimm12 rs2 rs1
inst bgeu | . ...... ..... ..... 111 .... . 1100011 | bimm12 rs2 rs1

inst lb  | ............ ..... 000 ..... 0000011 | imm12 rs1 rd
inst lh  | ............ ..... 001 ..... 0000011 | imm12 rs1 rd
inst lw  | ............ ..... 010 ..... 0000011 | imm12 rs1 rd
inst lbu | ............ ..... 100 ..... 0000011 | imm12 rs1 rd
inst lhu | ............ ..... 101 ..... 0000011 | imm12 rs1 rd
inst lwu | ............ ..... 110 ..... 0000011 | imm12 rs1 rd
inst ld  | ............ ..... 011 ..... 0000011 | imm12 rs1 rd

inst sb | ....... ..... ..... 000 ..... 0100011 | simm12 rs2 rs1
inst sh | ....... ..... ..... 001 ..... 0100011 | simm12 rs2 rs1
inst sw | ....... ..... ..... 010 ..... 0100011 | simm12 rs2 rs1
inst sd | ....... ..... ..... 011 ..... 0100011 | simm12 rs2 rs1

inst addi  | ............ ..... 000 ..... 0010011 | imm12 rs1 rd
inst slti  | ............ ..... 010 ..... 0010011 | imm12 rs1 rd
inst sltiu | ............ ..... 011 ..... 0010011 | imm12 rs1 rd
inst xori  | ............ ..... 100 ..... 0010011 | imm12 rs1 rd
inst ori   | ............ ..... 110 ..... 0010011 | imm12 rs1 rd
inst andi  | ............ ..... 111 ..... 0010011 | imm12 rs1 rd

inst slli | 000000 ...... ..... 001 ..... 0010011 | shamt rs1 rd
inst srli | 000000 ...... ..... 101 ..... 0010011 | shamt rs1 rd
inst srai | 010000 ...... ..... 101 ..... 0010011 | shamt rs1 rd

inst add  | 0000000 ..... ..... 000 ..... 0110011 | rs2 rs1 rd
inst sub  | 0100000 ..... ..... 000 ..... 0110011 | rs2 rs1 rd
inst sll  | 0000000 ..... ..... 001 ..... 0110011 | rs2 rs1 rd
inst slt  | 0000000 ..... ..... 010 ..... 0110011 | rs2 rs1 rd
inst sltu | 0000000 ..... ..... 011 ..... 0110011 | rs2 rs1 rd
inst xor  | 0000000 ..... ..... 100 ..... 0110011 | rs2 rs1 rd
inst srl  | 0000000 ..... ..... 101 ..... 0110011 | rs2 rs1 rd
inst sra  | 0100000 ..... ..... 101 ..... 0110011 | rs2 rs1 rd
inst or   | 0000000 ..... ..... 110 ..... 0110011 | rs2 rs1 rd
inst and  | 0000000 ..... ..... 111 ..... 0110011 | rs2 rs1 rd

inst fence   | **** **** **** ***** 000 ***** 0001111 |
inst fence.i | **** **** **** ***** 001 ***** 0001111 |

inst ecall  | 000000000000 00000 000 00000 1110011 |
inst ebreak | 000000000001 00000 000 00000 1110011 |

# Zicsr

inst csrrw  | ............ ..... 001 ..... 1110011 | csr12 rs1 rd
inst csrrs  | ............ ..... 010 ..... 1110011 | csr12 rs1 rd
inst csrrc  | ............ ..... 011 ..... 1110011 | csr12 rs1 rd
inst csrrwi | ............ ..... 101 ..... 1110011 | csr12 zimm rd
inst csrrsi | ............ ..... 110 ..... 1110011 | csr12 zimm rd
inst csrrci | ............ ..... 111 ..... 1110011 | csr12 zimm rd

# Privileged (trap return / wait / TLB maintenance)

inst mret       | 00110000001000000000000001110011 |
inst sret       | 00010000001000000000000001110011 |
inst wfi        | 00010000010100000000000001110011 |
inst sfence.vma | 0001001 ..... ..... 000 00000 1110011 | rs2 rs1

# M extension

inst mul    | 0000001 ..... ..... 000 ..... 0110011 | rs2 rs1 rd
inst mulh   | 0000001 ..... ..... 001 ..... 0110011 | rs2 rs1 rd
inst mulhsu | 0000001 ..... ..... 010 ..... 0110011 | rs2 rs1 rd
inst mulhu  | 0000001 ..... ..... 011 ..... 0110011 | rs2 rs1 rd
inst div    | 0000001 ..... ..... 100 ..... 0110011 | rs2 rs1 rd
inst divu   | 0000001 ..... ..... 101 ..... 0110011 | rs2 rs1 rd
inst rem    | 0000001 ..... ..... 110 ..... 0110011 | rs2 rs1 rd
inst remu   | 0000001 ..... ..... 111 ..... 0110011 | rs2 rs1 rd

# A extension

inst lr.w | 00010 ** 00000 ..... 010 ..... 0101111 | rs1 rd
inst lr.d | 00010 ** 00000 ..... 011 ..... 0101111 | rs1 rd
inst sc.w | 00011 ** ..... ..... 010 ..... 0101111 | rs2 rs1 rd
inst sc.d | 00011 ** ..... ..... 011 ..... 0101111 | rs2 rs1 rd

inst amoswap.w | 00001 ** ..... ..... 010 ..... 0101111 | rs2 rs1 rd
inst amoadd.w  | 00000 ** ..... ..... 010 ..... 0101111 | rs2 rs1 rd
inst amoxor.w  | 00100 ** ..... ..... 010 ..... 0101111 | rs2 rs1 rd
inst amoor.w   | 01000 ** ..... ..... 010 ..... 0101111 | rs2 rs1 rd
inst amoand.w  | 01100 ** ..... ..... 010 ..... 0101111 | rs2 rs1 rd

inst amoswap.d | 00001 ** ..... ..... 011 ..... 0101111 | rs2 rs1 rd
inst amoadd.d  | 00000 ** ..... ..... 011 ..... 0101111 | rs2 rs1 rd
inst amoxor.d  | 00100 ** ..... ..... 011 ..... 0101111 | rs2 rs1 rd
inst amoor.d   | 01000 ** ..... ..... 011 ..... 0101111 | rs2 rs1 rd
inst amoand.d  | 01100 ** ..... ..... 011 ..... 0101111 | rs2 rs1 rd
`
