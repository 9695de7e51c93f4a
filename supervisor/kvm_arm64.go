// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/confidential-containers/virtsupervisor/pkg/kvm"
)

// Guest physical layout, following the conventional virt machine map:
// peripherals below RAM, RAM at 1G.
const (
	kvmRAMBase = 0x40000000

	kvmGICDistBase = 0x08000000
	kvmGICDistSize = 0x10000
	kvmGICCPUBase  = 0x08010000
	kvmGICCPUSize  = 0x10000

	kvmMMIOBase      = 0x0a000000
	kvmMMIOSlotSize  = 0x200
	kvmMMIOSlotCount = 32
	kvmMMIOFirstIRQ  = 16 // shared peripheral interrupt number

	// EL1h with every interrupt class masked, the state the kernel
	// entry point expects.
	kvmPstateBoot = 0x3c5

	arm64ImageMagic       = 0x644d5241 // "ARM\x64"
	arm64MagicOffset      = 56
	arm64TextOffsetOffset = 8
	arm64ImageSizeOffset  = 16

	// Interrupt specifier cells.
	gicSPI = 0
	gicPPI = 1

	irqTypeEdgeRising = 1
	irqTypeLevelLow   = 8

	gicPhandle = 1
)

// kvmArchCaps is the capability set negotiated at VM creation: the
// host's preferred vCPU target, which seeds every vCPU init.
type kvmArchCaps struct {
	target kvm.VCPUInit
}

func (k *kvmHypervisor) archValidateMemory(sizeMB uint32) error {
	return nil
}

// archSetupVM prepares the machine model: the virtual GICv2 with its
// two regions placed, after checking the host can park and wake
// secondary processors through PSCI.
func (k *kvmHypervisor) archSetupVM() error {
	if k.config.NumVCPUs > 8 {
		return fmt.Errorf("the virtual GICv2 limits the guest to 8 vCPUs, %d requested", k.config.NumVCPUs)
	}

	if v, err := k.dev.CheckExtension(kvm.CapARMPSCI02); err != nil || v == 0 {
		return errors.New("host lacks PSCI 0.2 support for guest CPU wakeup")
	}

	target, err := k.vm.PreferredTarget()
	if err != nil {
		return errors.Wrap(err, "querying the preferred vCPU target")
	}
	k.archCaps = kvmArchCaps{target: target}

	if err := k.vm.CreateIRQChip(); err != nil {
		return errors.Wrap(err, "creating the virtual GIC")
	}
	if err := k.vm.SetDeviceAddr(kvm.DeviceAddrID(kvm.DeviceVGICV2, kvm.VGICV2AddrTypeDist), kvmGICDistBase); err != nil {
		return errors.Wrap(err, "placing the GIC distributor")
	}
	if err := k.vm.SetDeviceAddr(kvm.DeviceAddrID(kvm.DeviceVGICV2, kvm.VGICV2AddrTypeCPU), kvmGICCPUBase); err != nil {
		return errors.Wrap(err, "placing the GIC CPU interface")
	}

	return nil
}

func (k *kvmHypervisor) kernelCmdline() string {
	params := append([]Param{}, kvmKernelParams...)
	params = append(params, k.config.KernelParams...)

	return strings.Join(SerializeParams(params, "="), " ")
}

// archLoadKernel writes the boot environment into guest RAM: the
// kernel image at its requested text offset, the initramfs at the top
// and the device tree blob right below it.
func (k *kvmHypervisor) archLoadKernel() error {
	entry, err := k.loadImageKernel(k.config.KernelPath)
	if err != nil {
		return err
	}
	k.entry = entry

	initrdAddr, initrdSize, err := k.loadInitrd()
	if err != nil {
		return err
	}

	fdt := k.buildBootFDT(initrdAddr, initrdSize)

	top := uint64(len(k.guestMem))
	if initrdSize != 0 {
		top = initrdAddr - kvmRAMBase
	}
	if uint64(len(fdt)) > top {
		return fmt.Errorf("device tree of %d bytes does not fit in guest memory", len(fdt))
	}
	off := (top - uint64(len(fdt))) &^ 0xfff
	copy(k.guestMem[off:], fdt)
	k.bootBlob = kvmRAMBase + off

	return nil
}

// loadImageKernel copies an arm64 Image format kernel into guest RAM
// at the text offset its header requests and returns the entry point.
func (k *kvmHypervisor) loadImageKernel(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "reading the guest kernel")
	}

	if len(data) < 64 || binary.LittleEndian.Uint32(data[arm64MagicOffset:]) != arm64ImageMagic {
		return 0, fmt.Errorf("guest kernel %s is not an arm64 Image", path)
	}

	textOffset := binary.LittleEndian.Uint64(data[arm64TextOffsetOffset:])
	if binary.LittleEndian.Uint64(data[arm64ImageSizeOffset:]) == 0 {
		// Headers predating the image_size field imply the legacy
		// offset.
		textOffset = 0x80000
	}

	if textOffset+uint64(len(data)) > uint64(len(k.guestMem)) {
		return 0, fmt.Errorf("kernel of %d bytes does not fit in %d MB of guest memory",
			len(data), k.config.MemorySize)
	}
	copy(k.guestMem[textOffset:], data)

	return kvmRAMBase + textOffset, nil
}

// loadInitrd places the initramfs at the top of guest RAM, page
// aligned, and returns its guest physical location.
func (k *kvmHypervisor) loadInitrd() (uint64, uint64, error) {
	if k.config.InitrdPath == "" {
		return 0, 0, nil
	}

	data, err := os.ReadFile(k.config.InitrdPath)
	if err != nil {
		return 0, 0, errors.Wrap(err, "reading the initrd")
	}

	if uint64(len(data)) >= uint64(len(k.guestMem))/2 {
		return 0, 0, fmt.Errorf("initrd of %d bytes does not fit in guest memory", len(data))
	}
	off := (uint64(len(k.guestMem)) - uint64(len(data))) &^ 0xfff
	copy(k.guestMem[off:], data)

	return kvmRAMBase + off, uint64(len(data)), nil
}

// archInitVCPU initializes one processor for the host's preferred
// target. Every vCPU gets the PSCI wakeup interface and the defined
// entry processor state; secondaries start parked until the guest
// raises them through PSCI CPU_ON. Only the boot processor gets the
// entry point and the device tree address.
func (k *kvmHypervisor) archInitVCPU(cpu *kvm.VCPU) error {
	init := k.archCaps.target
	init.Features[0] |= 1 << kvm.FeaturePSCI02
	if cpu.ID() != 0 {
		init.Features[0] |= 1 << kvm.FeaturePowerOff
	}
	if err := cpu.Init(&init); err != nil {
		return errors.Wrap(err, "initializing the vCPU")
	}

	if err := cpu.SetOneReg(kvm.CoreReg(kvm.CoreRegPstate), kvmPstateBoot); err != nil {
		return errors.Wrap(err, "applying the boot processor state")
	}

	if cpu.ID() == 0 {
		if err := cpu.SetOneReg(kvm.CoreReg(kvm.CoreRegPC), k.entry); err != nil {
			return errors.Wrap(err, "applying the entry point")
		}
		if err := cpu.SetOneReg(kvm.CoreReg(kvm.CoreRegX0), k.bootBlob); err != nil {
			return errors.Wrap(err, "applying the device tree address")
		}
	}

	return nil
}

// archHandlePIO is never reached: arm64 has no port IO space, so the
// run loop cannot surface such an exit.
func (k *kvmHypervisor) archHandlePIO(cpu *kvm.VCPU) {
}

// buildBootFDT assembles the flattened device tree describing the
// machine: memory, CPUs with their PSCI wakeup method, the GIC, the
// architected timer and one node per claimed virtio-mmio window.
func (k *kvmHypervisor) buildBootFDT(initrdAddr, initrdSize uint64) []byte {
	fdt := newFDTBuilder()

	fdt.beginNode("")
	fdt.propU32("#address-cells", 2)
	fdt.propU32("#size-cells", 2)
	fdt.propString("compatible", "linux,dummy-virt")
	fdt.propU32("interrupt-parent", gicPhandle)

	fdt.beginNode("chosen")
	fdt.propString("bootargs", k.kernelCmdline())
	if initrdSize != 0 {
		fdt.propU64("linux,initrd-start", initrdAddr)
		fdt.propU64("linux,initrd-end", initrdAddr+initrdSize)
	}
	fdt.endNode()

	fdt.beginNode(fmt.Sprintf("memory@%x", uint64(kvmRAMBase)))
	fdt.propString("device_type", "memory")
	fdt.propU64("reg", kvmRAMBase, uint64(len(k.guestMem)))
	fdt.endNode()

	fdt.beginNode("cpus")
	fdt.propU32("#address-cells", 1)
	fdt.propU32("#size-cells", 0)
	for i := 0; i < int(k.config.NumVCPUs); i++ {
		fdt.beginNode(fmt.Sprintf("cpu@%d", i))
		fdt.propString("device_type", "cpu")
		fdt.propString("compatible", "arm,arm-v8")
		fdt.propString("enable-method", "psci")
		fdt.propU32("reg", uint32(i))
		fdt.endNode()
	}
	fdt.endNode()

	fdt.beginNode("psci")
	fdt.propString("compatible", "arm,psci-0.2")
	fdt.propString("method", "hvc")
	fdt.endNode()

	fdt.beginNode(fmt.Sprintf("intc@%x", uint64(kvmGICDistBase)))
	fdt.propString("compatible", "arm,cortex-a15-gic")
	fdt.propU32("#interrupt-cells", 3)
	fdt.propEmpty("interrupt-controller")
	fdt.propU64("reg", kvmGICDistBase, kvmGICDistSize, kvmGICCPUBase, kvmGICCPUSize)
	fdt.propU32("phandle", gicPhandle)
	fdt.endNode()

	cpuMask := uint32(1)<<k.config.NumVCPUs - 1
	timerFlags := cpuMask<<8 | irqTypeLevelLow
	fdt.beginNode("timer")
	fdt.propString("compatible", "arm,armv8-timer")
	fdt.propEmpty("always-on")
	fdt.propU32("interrupts",
		gicPPI, 13, timerFlags,
		gicPPI, 14, timerFlags,
		gicPPI, 11, timerFlags,
		gicPPI, 10, timerFlags)
	fdt.endNode()

	for _, slot := range k.slots {
		fdt.beginNode(fmt.Sprintf("virtio_mmio@%x", slot.base))
		fdt.propString("compatible", "virtio,mmio")
		fdt.propU64("reg", slot.base, slot.size)
		fdt.propU32("interrupts", gicSPI, slot.irq, irqTypeEdgeRising)
		fdt.propEmpty("dma-coherent")
		fdt.endNode()
	}

	fdt.endNode()

	return fdt.bytes()
}

// Token values and layout constants of the flattened tree encoding.
const (
	fdtMagic     = 0xd00dfeed
	fdtVersion   = 17
	fdtCompatVer = 16

	fdtBeginNode = 1
	fdtEndNode   = 2
	fdtProp      = 3
	fdtEnd       = 9

	fdtHeaderSize = 40
)

// fdtBuilder accumulates the structure and strings blocks of a
// flattened device tree and seals them into one blob.
type fdtBuilder struct {
	structs    bytes.Buffer
	strs       bytes.Buffer
	strOffsets map[string]uint32
}

func newFDTBuilder() *fdtBuilder {
	return &fdtBuilder{strOffsets: make(map[string]uint32)}
}

func (b *fdtBuilder) u32(v uint32) {
	var w [4]byte
	binary.BigEndian.PutUint32(w[:], v)
	b.structs.Write(w[:])
}

func (b *fdtBuilder) pad() {
	for b.structs.Len()%4 != 0 {
		b.structs.WriteByte(0)
	}
}

func (b *fdtBuilder) stringOffset(s string) uint32 {
	if off, ok := b.strOffsets[s]; ok {
		return off
	}

	off := uint32(b.strs.Len())
	b.strOffsets[s] = off
	b.strs.WriteString(s)
	b.strs.WriteByte(0)

	return off
}

func (b *fdtBuilder) beginNode(name string) {
	b.u32(fdtBeginNode)
	b.structs.WriteString(name)
	b.structs.WriteByte(0)
	b.pad()
}

func (b *fdtBuilder) endNode() {
	b.u32(fdtEndNode)
}

func (b *fdtBuilder) prop(name string, data []byte) {
	b.u32(fdtProp)
	b.u32(uint32(len(data)))
	b.u32(b.stringOffset(name))
	b.structs.Write(data)
	b.pad()
}

func (b *fdtBuilder) propEmpty(name string) {
	b.prop(name, nil)
}

func (b *fdtBuilder) propString(name, value string) {
	b.prop(name, append([]byte(value), 0))
}

func (b *fdtBuilder) propU32(name string, values ...uint32) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(data[i*4:], v)
	}
	b.prop(name, data)
}

func (b *fdtBuilder) propU64(name string, values ...uint64) {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(data[i*8:], v)
	}
	b.prop(name, data)
}

// bytes seals the tree and returns the blob: header, a reservation map
// holding only its terminator, the structure block, the strings block.
func (b *fdtBuilder) bytes() []byte {
	b.u32(fdtEnd)

	rsvmapOff := uint32(fdtHeaderSize)
	structOff := rsvmapOff + 16
	stringsOff := structOff + uint32(b.structs.Len())
	totalSize := stringsOff + uint32(b.strs.Len())

	hdr := make([]byte, fdtHeaderSize)
	be := binary.BigEndian
	be.PutUint32(hdr[0:], fdtMagic)
	be.PutUint32(hdr[4:], totalSize)
	be.PutUint32(hdr[8:], structOff)
	be.PutUint32(hdr[12:], stringsOff)
	be.PutUint32(hdr[16:], rsvmapOff)
	be.PutUint32(hdr[20:], fdtVersion)
	be.PutUint32(hdr[24:], fdtCompatVer)
	be.PutUint32(hdr[28:], 0)
	be.PutUint32(hdr[32:], uint32(b.strs.Len()))
	be.PutUint32(hdr[36:], uint32(b.structs.Len()))

	out := make([]byte, 0, totalSize)
	out = append(out, hdr...)
	out = append(out, make([]byte, 16)...)
	out = append(out, b.structs.Bytes()...)
	out = append(out, b.strs.Bytes()...)

	return out
}
