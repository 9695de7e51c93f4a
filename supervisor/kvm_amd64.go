// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/confidential-containers/virtsupervisor/pkg/kvm"
)

// Guest physical layout. RAM starts at zero, the scratch structures of
// the 64-bit boot protocol live below the 1M mark the way the real
// mode BIOS area would, and the virtio-mmio windows sit in the hole
// above RAM.
const (
	kvmRAMBase = 0x0

	kvmBootParamsAddr = 0x7000
	kvmBootStackAddr  = 0x8ff0
	kvmPML4Addr       = 0x9000
	kvmPDPTAddr       = 0xa000
	kvmPDAddr         = 0xb000
	kvmCmdlineAddr    = 0x20000
	kvmHimemBase      = 0x100000

	kvmTSSAddr = 0xfffbd000

	kvmMMIOBase      = 0xd0000000
	kvmMMIOSlotSize  = 0x1000
	kvmMMIOSlotCount = 19
	kvmMMIOFirstIRQ  = 5

	// kvmSerialPort is the COM1 base; guest writes there become
	// console output.
	kvmSerialPort = 0x3f8
)

// Offsets into the zero page (the boot_params structure) and its setup
// header, plus the magic values gating them.
const (
	bpE820Entries     = 0x1e8
	bpBootFlag        = 0x1fe
	bpHeader          = 0x202
	bpTypeOfLoader    = 0x210
	bpRamdiskImage    = 0x218
	bpRamdiskSize     = 0x21c
	bpCmdLinePtr      = 0x228
	bpKernelAlignment = 0x230
	bpCmdlineSize     = 0x238
	bpE820Table       = 0x2d0

	bootFlagMagic   = 0xaa55
	bootHdrMagic    = 0x53726448 // "HdrS"
	loaderUndefined = 0xff

	e820TypeRAM   = 1
	e820EntrySize = 20

	// The low usable range ends where the extended BIOS data area
	// would begin.
	lowRAMTop = 0x9fc00
)

// Control register and EFER bits for the 64-bit boot state.
const (
	cr0PE = 1 << 0
	cr0MP = 1 << 1
	cr0ET = 1 << 4
	cr0NE = 1 << 5
	cr0WP = 1 << 16
	cr0AM = 1 << 18
	cr0PG = 1 << 31

	cr4PAE = 1 << 5

	eferLME = 1 << 8
	eferLMA = 1 << 10
)

// Model specific registers initialized at boot.
const (
	msrIA32TSC         = 0x10
	msrIA32SysenterCS  = 0x174
	msrIA32SysenterESP = 0x175
	msrIA32SysenterEIP = 0x176
	msrIA32MiscEnable  = 0x1a0
	msrSTAR            = 0xc0000081
	msrLSTAR           = 0xc0000082
	msrCSTAR           = 0xc0000083
	msrSFMask          = 0xc0000084
	msrKernelGSBase    = 0xc0000102

	miscEnableFastString = 1
)

// kvmBootMSRs is the register state a freshly booted kernel expects,
// everything zeroed except the fast string flag. The set is filtered
// through the host's supported list before it is applied.
var kvmBootMSRs = []kvm.MSREntry{
	{Index: msrIA32SysenterCS},
	{Index: msrIA32SysenterESP},
	{Index: msrIA32SysenterEIP},
	{Index: msrSTAR},
	{Index: msrCSTAR},
	{Index: msrKernelGSBase},
	{Index: msrSFMask},
	{Index: msrLSTAR},
	{Index: msrIA32TSC},
	{Index: msrIA32MiscEnable, Data: miscEnableFastString},
}

// kvmArchCaps is the capability set negotiated at VM creation: the
// host CPUID table and the supported register index list.
type kvmArchCaps struct {
	cpuid *kvm.CPUID
	msrs  []uint32
}

func (k *kvmHypervisor) archValidateMemory(sizeMB uint32) error {
	if uint64(sizeMB)<<20 > kvmMMIOBase {
		return fmt.Errorf("guest memory is limited to %d MB on amd64 hosts", uint64(kvmMMIOBase)>>20)
	}

	return nil
}

// archSetupVM prepares the machine model: the VMX task state region,
// interrupt controller and interval timer, then retains the host
// tables that seed every vCPU later.
func (k *kvmHypervisor) archSetupVM() error {
	if err := k.vm.SetTSSAddr(kvmTSSAddr); err != nil {
		return errors.Wrap(err, "placing the TSS region")
	}
	if err := k.vm.CreateIRQChip(); err != nil {
		return errors.Wrap(err, "creating the interrupt controller")
	}
	if err := k.vm.CreatePIT2(); err != nil {
		return errors.Wrap(err, "creating the interval timer")
	}

	cpuid, err := k.dev.SupportedCPUID()
	if err != nil {
		return errors.Wrap(err, "reading the supported CPUID table")
	}
	msrs, err := k.dev.MSRIndexList()
	if err != nil {
		return errors.Wrap(err, "reading the supported register index list")
	}
	k.archCaps = kvmArchCaps{cpuid: cpuid, msrs: msrs}

	return nil
}

// kernelCmdline assembles the guest command line: the common set, the
// machine quirks, the serial console switch, one discovery entry per
// claimed virtio-mmio window and whatever the configuration adds.
func (k *kvmHypervisor) kernelCmdline() string {
	params := append([]Param{}, kvmKernelParams...)
	params = append(params, Param{"pci", "off"}, Param{"acpi", "off"})

	if k.config.Debug {
		params = append(params, Param{"console", "ttyS0"})
	} else {
		params = append(params, Param{"8250.nr_uarts", "0"})
	}

	for _, slot := range k.slots {
		params = append(params, Param{
			"virtio_mmio.device",
			fmt.Sprintf("4K@0x%x:%d", slot.base, slot.irq),
		})
	}

	params = append(params, k.config.KernelParams...)

	return strings.Join(SerializeParams(params, "="), " ")
}

// archLoadKernel writes the boot environment into guest RAM: the
// kernel image, command line, initramfs, zero page and the identity
// page tables the 64-bit entry point requires.
func (k *kvmHypervisor) archLoadKernel() error {
	entry, err := k.loadELFKernel(k.config.KernelPath)
	if err != nil {
		return err
	}
	k.entry = entry

	cmdline := k.kernelCmdline()
	if len(cmdline) >= kvmHimemBase-kvmCmdlineAddr {
		return fmt.Errorf("kernel command line of %d bytes does not fit below the 1M mark", len(cmdline))
	}
	copy(k.guestMem[kvmCmdlineAddr:], cmdline)
	k.guestMem[kvmCmdlineAddr+len(cmdline)] = 0

	initrdAddr, initrdSize, err := k.loadInitrd()
	if err != nil {
		return err
	}

	k.writeBootParams(cmdline, initrdAddr, initrdSize)
	k.writePageTables()
	k.bootBlob = kvmBootParamsAddr

	return nil
}

// loadELFKernel copies the loadable segments of an uncompressed
// vmlinux into guest RAM and returns the 64-bit entry point.
func (k *kvmHypervisor) loadELFKernel(path string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "opening the guest kernel")
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return 0, fmt.Errorf("guest kernel %s is not an x86-64 ELF image", path)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		if prog.Paddr+prog.Filesz > uint64(len(k.guestMem)) {
			return 0, fmt.Errorf("kernel segment at 0x%x does not fit in %d MB of guest memory",
				prog.Paddr, k.config.MemorySize)
		}
		if _, err := io.ReadFull(prog.Open(), k.guestMem[prog.Paddr:prog.Paddr+prog.Filesz]); err != nil {
			return 0, errors.Wrap(err, "reading a kernel segment")
		}
	}

	return f.Entry, nil
}

// loadInitrd places the initramfs at the top of guest RAM, page
// aligned. The boot protocol carries the address in a 32-bit header
// field, which the amd64 memory ceiling keeps reachable.
func (k *kvmHypervisor) loadInitrd() (uint32, uint32, error) {
	if k.config.InitrdPath == "" {
		return 0, 0, nil
	}

	data, err := os.ReadFile(k.config.InitrdPath)
	if err != nil {
		return 0, 0, errors.Wrap(err, "reading the initrd")
	}

	if uint64(len(data)) >= uint64(len(k.guestMem))-kvmHimemBase {
		return 0, 0, fmt.Errorf("initrd of %d bytes does not fit in guest memory", len(data))
	}
	addr := (uint64(len(k.guestMem)) - uint64(len(data))) &^ 0xfff
	copy(k.guestMem[addr:], data)

	return uint32(addr), uint32(len(data)), nil
}

// writeBootParams fills in the zero page: setup header fields plus the
// usable memory map.
func (k *kvmHypervisor) writeBootParams(cmdline string, initrdAddr, initrdSize uint32) {
	bp := make([]byte, 4096)
	le := binary.LittleEndian

	le.PutUint16(bp[bpBootFlag:], bootFlagMagic)
	le.PutUint32(bp[bpHeader:], bootHdrMagic)
	bp[bpTypeOfLoader] = loaderUndefined
	le.PutUint32(bp[bpRamdiskImage:], initrdAddr)
	le.PutUint32(bp[bpRamdiskSize:], initrdSize)
	le.PutUint32(bp[bpCmdLinePtr:], kvmCmdlineAddr)
	le.PutUint32(bp[bpKernelAlignment:], kvmHimemBase)
	le.PutUint32(bp[bpCmdlineSize:], uint32(len(cmdline)))

	// Two usable ranges: the low 640K and everything from 1M up.
	entries := []struct {
		addr, size uint64
		typ        uint32
	}{
		{0, lowRAMTop, e820TypeRAM},
		{kvmHimemBase, uint64(len(k.guestMem)) - kvmHimemBase, e820TypeRAM},
	}
	off := bpE820Table
	for _, e := range entries {
		le.PutUint64(bp[off:], e.addr)
		le.PutUint64(bp[off+8:], e.size)
		le.PutUint32(bp[off+16:], e.typ)
		off += e820EntrySize
	}
	bp[bpE820Entries] = byte(len(entries))

	copy(k.guestMem[kvmBootParamsAddr:], bp)
}

// writePageTables builds the identity map the 64-bit entry point
// requires: one PML4 entry, one PDPT entry and 512 large pages
// covering the first gigabyte.
func (k *kvmHypervisor) writePageTables() {
	le := binary.LittleEndian

	le.PutUint64(k.guestMem[kvmPML4Addr:], kvmPDPTAddr|0x3)
	le.PutUint64(k.guestMem[kvmPDPTAddr:], kvmPDAddr|0x3)
	for i := uint64(0); i < 512; i++ {
		le.PutUint64(k.guestMem[kvmPDAddr+i*8:], i<<21|0x83)
	}
}

// setupBootMSRs applies the boot register batch, filtered through the
// index list retained at VM creation so an older host downgrades to a
// warning instead of a boot failure.
func (k *kvmHypervisor) setupBootMSRs(cpu *kvm.VCPU) error {
	supported := make(map[uint32]bool, len(k.archCaps.msrs))
	for _, index := range k.archCaps.msrs {
		supported[index] = true
	}

	var entries []kvm.MSREntry
	for _, e := range kvmBootMSRs {
		if !supported[e.Index] {
			k.Logger().WithField("msr", fmt.Sprintf("%#x", e.Index)).Warn("host does not support a boot register, skipping it")
			continue
		}
		entries = append(entries, e)
	}

	n, err := cpu.SetMSRs(entries)
	if err != nil {
		return errors.Wrap(err, "applying the boot register batch")
	}
	if n != len(entries) {
		return fmt.Errorf("host rejected boot register %d of %d", n, len(entries))
	}

	return nil
}

// archInitVCPU brings one processor to the 64-bit boot state: flat
// segments, paging enabled and the negotiated tables applied. Only the
// boot processor gets the entry point and the zero page pointer; the
// others stay parked until the guest raises them through the startup
// interrupt sequence.
func (k *kvmHypervisor) archInitVCPU(cpu *kvm.VCPU) error {
	if err := cpu.SetCPUID2(k.archCaps.cpuid); err != nil {
		return errors.Wrap(err, "applying the CPUID table")
	}

	if err := k.setupBootMSRs(cpu); err != nil {
		return err
	}

	sregs, err := cpu.GetSregs()
	if err != nil {
		return errors.Wrap(err, "reading the initial special registers")
	}

	code := kvm.Segment{
		Limit:    0xfffff,
		Selector: 0x8,
		Typ:      0xb,
		Present:  1,
		S:        1,
		L:        1,
		G:        1,
	}
	data := kvm.Segment{
		Limit:    0xfffff,
		Selector: 0x10,
		Typ:      0x3,
		Present:  1,
		DB:       1,
		S:        1,
		G:        1,
	}
	sregs.CS = code
	sregs.DS, sregs.ES, sregs.SS = data, data, data
	sregs.FS, sregs.GS = data, data

	sregs.CR3 = kvmPML4Addr
	sregs.CR4 = cr4PAE
	sregs.CR0 = cr0PE | cr0MP | cr0ET | cr0NE | cr0WP | cr0AM | cr0PG
	sregs.EFER = eferLME | eferLMA

	if err := cpu.SetSregs(sregs); err != nil {
		return errors.Wrap(err, "applying the boot special registers")
	}

	regs := &kvm.Regs{RFLAGS: 2}
	if cpu.ID() == 0 {
		regs.RIP = k.entry
		regs.RSI = k.bootBlob
		regs.RSP = kvmBootStackAddr
		regs.RBP = kvmBootStackAddr
	}

	return errors.Wrap(cpu.SetRegs(regs), "applying the boot registers")
}

// archHandlePIO folds guest port writes into the console stream. COM1
// is the only decoded port; reads anywhere observe the floating bus
// value, which conveniently keeps the 8250 driver's ready bits set.
func (k *kvmHypervisor) archHandlePIO(cpu *kvm.VCPU) {
	run := cpu.State()
	direction, size, port, count, offset := run.IO()
	mem := cpu.Mapping()

	for i := uint32(0); i < count; i++ {
		if offset+uint64(size) > uint64(len(mem)) {
			return
		}
		chunk := mem[offset : offset+uint64(size)]

		if direction == kvm.IODirectionOut {
			if port == kvmSerialPort {
				k.consoleOutput(chunk)
			}
		} else {
			for j := range chunk {
				chunk[j] = 0xff
			}
		}
		offset += uint64(size)
	}
}
