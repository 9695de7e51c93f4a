// Copyright contributors to AMD SEV/-ES in Go
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package sev

// VCPUSig is the 32-bit CPU signature a vCPU model reports, which
// SEV-ES measures through the RDX reset value of each VMSA.
type VCPUSig uint64

const (
	// 'EPYC': family=23, model=1, stepping=2
	SigEpyc VCPUSig = 0x800f12

	// 'EPYC-Rome': family=23, model=49, stepping=0
	SigEpycRome VCPUSig = 0x830f10

	// 'EPYC-Milan': family=25, model=1, stepping=1
	SigEpycMilan VCPUSig = 0xa00f11
)

// NewVCPUSig computes the CPU signature from a family, model and
// stepping, per the CPUID Fn0000_0001_EAX encoding (AMD publication
// #25481).
func NewVCPUSig(family, model, stepping uint32) VCPUSig {
	var familyLow, familyHigh uint32
	if family > 0xf {
		familyLow = 0xf
		familyHigh = (family - 0x0f) & 0xff
	} else {
		familyLow = family
	}

	modelLow := model & 0xf
	modelHigh := (model >> 4) & 0xf

	steppingLow := stepping & 0xf

	return VCPUSig((familyHigh << 20) |
		(modelHigh << 16) |
		(familyLow << 8) |
		(modelLow << 4) |
		steppingLow)
}
