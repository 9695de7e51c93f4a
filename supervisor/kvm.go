// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/containerd/console"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/pkg/hvtrace"
	hv "github.com/confidential-containers/virtsupervisor/pkg/hypervisors"
	"github.com/confidential-containers/virtsupervisor/pkg/kvm"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
	"github.com/confidential-containers/virtsupervisor/supervisor/utils"
)

type kvmState uint8

const (
	kvmNotReady kvmState = iota
	kvmVMReady
)

func (s kvmState) String() string {
	switch s {
	case kvmNotReady:
		return "KVM not ready"
	case kvmVMReady:
		return "KVM VM ready"
	}

	return ""
}

// kvmStopTimeout is the maximum amount of time in seconds to wait for
// the vCPU runners to leave guest mode on StopVM.
const kvmStopTimeout = 10

var kvmKernelParams = []Param{
	{"reboot", "k"},
	{"panic", "1"},
	{"random.trust_cpu", "on"},
}

// kvmDevice is a device queued before the VM boots.
type kvmDevice struct {
	dev     interface{}
	devType DeviceType
}

// mmioSlot is one claimed virtio-mmio transport window. Windows are
// handed out in guest address order and their identifiers double as the
// backend device ids reported to the caller.
type mmioSlot struct {
	id      string
	name    string
	devType DeviceType
	base    uint64
	size    uint64
	irq     uint32
}

// kvm is a Hypervisor interface implementation that runs the VM inside
// the calling process, directly against the kernel virtualization API.
// There is no VMM child process to supervise: setup failures surface
// synchronously from the ioctl calls, and the only lifetime to watch is
// that of the vCPU runner goroutines.
type kvmHypervisor struct {
	console console.Console
	ctx     context.Context

	pendingDevices []kvmDevice // Devices to be attached while the VM boots

	dev   *kvm.Device
	vm    *kvm.VM
	vcpus []*kvm.VCPU

	guestMem []byte // Anonymous mapping backing guest RAM

	// Limits and tables negotiated when the VM is created, replayed
	// into every vCPU right before boot.
	maxVCPUs int
	memSlots int
	archCaps kvmArchCaps

	slots    []mmioSlot
	nextSlot int

	// Entry point and boot configuration blob address, filled in by
	// the architecture kernel loader.
	entry    uint64
	bootBlob uint64

	id        string
	netNSPath string

	config HypervisorConfig

	stateMu sync.RWMutex
	state   kvmState

	threadsMu   sync.Mutex
	vcpuThreads map[int]int

	runners sync.WaitGroup
	stopReq atomic.Bool

	consoleMu  sync.Mutex
	consoleBuf []byte

	// Taps this driver created inside the VM's network namespace. They
	// are persistent devices, so StopVM has to tear them down.
	tapsMu      sync.Mutex
	createdTaps []string

	exitCh   chan struct{}
	exitOnce sync.Once
}

func (k *kvmHypervisor) tracingTags() map[string]string {
	return map[string]string{
		"source":    "virtsupervisor",
		"package":   "supervisor",
		"subsystem": "hypervisor",
		"type":      "kvm",
		"vm_id":     k.id,
	}
}

// Logger returns a logrus logger appropriate for logging kvm messages
func (k *kvmHypervisor) Logger() *logrus.Entry {
	return hvLogger.WithField("subsystem", "kvm")
}

func (k *kvmHypervisor) setConfig(config *HypervisorConfig) error {
	if err := config.Valid(); err != nil {
		return err
	}

	k.config = *config

	return nil
}

func (k *kvmHypervisor) setState(s kvmState) {
	k.stateMu.Lock()
	defer k.stateMu.Unlock()

	k.state = s
}

// CreateVM validates the host virtualization support, enumerates its
// limits and builds the empty machine: interrupt controller, guest RAM
// and the vCPU descriptors. The guest does not run until StartVM.
func (k *kvmHypervisor) CreateVM(ctx context.Context, id string, network NetworkNamespace, hypervisorConfig *HypervisorConfig) error {
	k.ctx = ctx

	span, _ := hvtrace.Trace(ctx, k.Logger(), "CreateVM", k.tracingTags())
	defer span.End()

	if err := k.setConfig(hypervisorConfig); err != nil {
		return err
	}

	k.id = id
	k.setState(kvmNotReady)
	k.exitCh = make(chan struct{})
	k.vcpuThreads = make(map[int]int)

	// The VM shares this process, so the namespace is recorded for the
	// devices the caller prepares rather than entered here.
	k.netNSPath = network.NetNsPath

	if k.config.ConfidentialGuest {
		return errors.New("confidential guests are not supported by the kvm backend")
	}

	if err := k.archValidateMemory(k.config.MemorySize); err != nil {
		return err
	}

	dev, err := kvm.Open()
	if err != nil {
		return errors.Wrap(err, "opening the KVM device")
	}

	version, err := dev.APIVersion()
	if err == nil && version != kvm.ExpectedAPIVersion {
		err = fmt.Errorf("unexpected KVM API version %d, expecting %d", version, kvm.ExpectedAPIVersion)
	}
	if err != nil {
		dev.Close()
		return err
	}

	required := []struct {
		capability uintptr
		name       string
	}{
		{kvm.CapUserMemory, "user memory slots"},
		{kvm.CapIRQChip, "in-kernel interrupt controller"},
		{kvm.CapImmediateExit, "immediate exit"},
	}
	for _, c := range required {
		v, err := dev.CheckExtension(c.capability)
		if err != nil || v == 0 {
			dev.Close()
			return fmt.Errorf("host lacks a required KVM capability: %s", c.name)
		}
	}

	if k.memSlots, err = dev.CheckExtension(kvm.CapNrMemslots); err != nil || k.memSlots <= 0 {
		k.memSlots = 32
	}

	maxVCPUs, err := dev.CheckExtension(kvm.CapMaxVCPUs)
	if err != nil || maxVCPUs <= 0 {
		maxVCPUs, err = dev.CheckExtension(kvm.CapNrVCPUs)
		if err != nil || maxVCPUs <= 0 {
			// The API defines 4 as the floor when neither limit is
			// reported.
			maxVCPUs = 4
		}
	}
	k.maxVCPUs = maxVCPUs

	if int(k.config.NumVCPUs) > k.maxVCPUs {
		dev.Close()
		return fmt.Errorf("%d vCPUs requested, the host supports at most %d", k.config.NumVCPUs, k.maxVCPUs)
	}

	vm, err := dev.CreateVM()
	if err != nil {
		dev.Close()
		return errors.Wrap(err, "creating the VM")
	}

	k.dev = dev
	k.vm = vm

	if err := k.archSetupVM(); err != nil {
		k.releaseVM()
		return err
	}

	memSize := uint64(k.config.MemorySize) << 20
	mem, err := unix.Mmap(-1, 0, int(memSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		k.releaseVM()
		return errors.Wrap(err, "mapping guest RAM")
	}
	k.guestMem = mem

	region := &kvm.UserspaceMemoryRegion{
		Slot:          0,
		GuestPhysAddr: kvmRAMBase,
		MemorySize:    memSize,
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
	}
	if err := k.vm.SetUserMemoryRegion(region); err != nil {
		k.releaseVM()
		return errors.Wrap(err, "installing the guest RAM slot")
	}

	mmapSize, err := k.dev.VCPUMmapSize()
	if err != nil {
		k.releaseVM()
		return errors.Wrap(err, "reading the vCPU mapping size")
	}

	for i := 0; i < int(k.config.NumVCPUs); i++ {
		cpu, err := k.vm.CreateVCPU(i)
		if err != nil {
			k.releaseVM()
			return errors.Wrapf(err, "creating vCPU %d", i)
		}
		k.vcpus = append(k.vcpus, cpu)
		if err := cpu.MmapRun(mmapSize); err != nil {
			k.releaseVM()
			return errors.Wrapf(err, "mapping the run structure of vCPU %d", i)
		}
	}

	k.Logger().WithFields(logrus.Fields{
		"max-vcpus": k.maxVCPUs,
		"mem-slots": k.memSlots,
	}).Debug("negotiated host virtualization limits")

	return nil
}

// StartVM boots the machine built by CreateVM: queued devices get
// their transport windows, the kernel image and boot configuration are
// written into guest RAM, the vCPU register files are initialized and
// one runner goroutine per vCPU enters guest mode. Boot setup is
// synchronous, so the timeout bounds nothing here.
func (k *kvmHypervisor) StartVM(ctx context.Context, timeout int) error {
	span, _ := hvtrace.Trace(ctx, k.Logger(), "StartVM", k.tracingTags())
	defer span.End()

	if k.vm == nil {
		return errors.New("StartVM with no VM created")
	}

	// Window claims must precede the kernel load so the boot
	// configuration can describe them to the guest.
	for _, d := range k.pendingDevices {
		if _, err := k.attachDevice(d.dev, d.devType); err != nil {
			return err
		}
	}
	k.pendingDevices = nil

	if err := k.archLoadKernel(); err != nil {
		return err
	}

	for _, cpu := range k.vcpus {
		if err := k.archInitVCPU(cpu); err != nil {
			return errors.Wrapf(err, "initializing vCPU %d", cpu.ID())
		}
	}

	for _, cpu := range k.vcpus {
		k.runners.Add(1)
		go k.runVCPU(cpu)
	}

	k.setState(kvmVMReady)

	return nil
}

// runVCPU drives one vCPU until the guest stops or StopVM asks it to.
func (k *kvmHypervisor) runVCPU(cpu *kvm.VCPU) {
	defer k.runners.Done()

	// The kernel binds vCPU state to the thread that enters guest
	// mode. Pinning also yields a stable tid, which is the kick target
	// for StopVM and the caller's cgroup placement handle.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	k.threadsMu.Lock()
	k.vcpuThreads[cpu.ID()] = unix.Gettid()
	k.threadsMu.Unlock()

	logger := k.Logger().WithField("vcpu", cpu.ID())
	run := cpu.State()

	for {
		if k.stopReq.Load() {
			return
		}

		if err := cpu.Run(); err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			logger.WithError(err).Error("entering guest mode failed")
			k.notifyExit()
			return
		}

		switch run.ExitReason {
		case kvm.ExitIO:
			k.archHandlePIO(cpu)
		case kvm.ExitMMIO:
			// No device model backs the transport windows; reads
			// observe zero and writes are dropped.
			_, data, size, isWrite := run.MMIO()
			if !isWrite {
				for i := uint32(0); i < size && int(i) < len(data); i++ {
					data[i] = 0
				}
			}
		case kvm.ExitHLT, kvm.ExitShutdown, kvm.ExitSystemEvent:
			logger.WithField("exit-reason", run.ExitReason).Info("guest stopped")
			k.notifyExit()
			return
		case kvm.ExitFailEntry, kvm.ExitInternalError:
			logger.WithFields(logrus.Fields{
				"exit-reason": run.ExitReason,
				"detail":      run.Data[0],
			}).Error("virtualization failure")
			k.notifyExit()
			return
		case kvm.ExitIntr:
			continue
		default:
			logger.WithField("exit-reason", run.ExitReason).Error("unhandled guest exit")
			k.notifyExit()
			return
		}
	}
}

// consoleOutput forwards guest serial bytes either to the terminal the
// caller opened through GetVMConsole or, line buffered, to the log.
func (k *kvmHypervisor) consoleOutput(data []byte) {
	k.consoleMu.Lock()
	defer k.consoleMu.Unlock()

	if k.console != nil {
		if _, err := k.console.Write(data); err != nil {
			k.Logger().WithError(err).Debug("writing to the VM console failed")
		}
		return
	}

	for _, b := range data {
		if b == '\n' {
			k.Logger().WithField("vmconsole", string(k.consoleBuf)).Debug("reading guest console")
			k.consoleBuf = k.consoleBuf[:0]
			continue
		}
		if b != '\r' {
			k.consoleBuf = append(k.consoleBuf, b)
		}
	}
}

// notifyExit signals the first terminal guest exit. Later calls are
// no-ops, so every runner and StopVM may report it safely.
func (k *kvmHypervisor) notifyExit() {
	k.exitOnce.Do(func() {
		close(k.exitCh)
	})
}

// watchExit returns a channel that is closed once the guest is gone.
func (k *kvmHypervisor) watchExit() <-chan struct{} {
	return k.exitCh
}

// kickVCPUs interrupts every runner thread that sits inside the run
// ioctl. SIGURG is the runtime's preemption signal, so its handler does
// nothing beyond making the syscall return EINTR.
func (k *kvmHypervisor) kickVCPUs() {
	k.threadsMu.Lock()
	defer k.threadsMu.Unlock()

	for _, tid := range k.vcpuThreads {
		if err := unix.Tgkill(os.Getpid(), tid, unix.SIGURG); err != nil && err != unix.ESRCH {
			k.Logger().WithError(err).WithField("tid", tid).Warn("kicking a vCPU thread failed")
		}
	}
}

// StopVM takes the guest down. With waitOnly set it first waits for
// the guest to stop on its own; either way the runner goroutines are
// then flushed out of guest mode and joined.
func (k *kvmHypervisor) StopVM(ctx context.Context, waitOnly bool) (err error) {
	span, _ := hvtrace.Trace(ctx, k.Logger(), "StopVM", k.tracingTags())
	defer span.End()

	k.Logger().Info("Stopping VM")

	if waitOnly {
		select {
		case <-k.exitCh:
		case <-time.After(kvmStopTimeout * time.Second):
			k.Logger().Warn("timed out waiting for the guest to stop on its own")
		}
	}

	k.stopReq.Store(true)

	// Runners not yet inside the run ioctl would absorb the kick
	// without effect; the immediate exit flag makes their next entry
	// return on the spot, closing that window.
	for _, cpu := range k.vcpus {
		if run := cpu.State(); run != nil {
			run.ImmediateExit = 1
		}
	}
	k.kickVCPUs()

	done := make(chan struct{})
	go func() {
		k.runners.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(kvmStopTimeout * time.Second):
		return errors.New("timed out waiting for the vCPU runners to stop")
	}

	k.teardownTAPs()
	k.notifyExit()
	k.setState(kvmNotReady)

	return nil
}

// setupTAP makes sure the host tap backing a network device exists inside
// the VM's network namespace and is up, creating it when it is missing. A
// physical interface cannot back a virtio-net device.
func (k *kvmHypervisor) setupTAP(netdev config.NetDev) error {
	if netdev.TapName == "" {
		return fmt.Errorf("network device %s has no host tap name", netdev.ID)
	}

	var physical bool
	err := EnterNetNS(k.netNSPath, func() error {
		var err error
		physical, err = isPhysicalIface(netdev.TapName)
		return err
	})
	if err != nil {
		return err
	}
	if physical {
		return fmt.Errorf("interface %s is a physical device, expected a tap", netdev.TapName)
	}

	exists, err := tapDeviceExists(k.netNSPath, netdev.TapName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	k.Logger().WithFields(logrus.Fields{
		"tap":   netdev.TapName,
		"netns": k.netNSPath,
	}).Info("Creating tap device")

	if err := createTAPDevice(k.netNSPath, netdev.TapName, uint32(netdev.NumQueues), netdev.MTU); err != nil {
		return err
	}

	k.tapsMu.Lock()
	k.createdTaps = append(k.createdTaps, netdev.TapName)
	k.tapsMu.Unlock()

	return nil
}

// teardownTAPs removes the persistent taps this driver created. Taps
// handed to us already existing are left to their owner.
func (k *kvmHypervisor) teardownTAPs() {
	k.tapsMu.Lock()
	taps := k.createdTaps
	k.createdTaps = nil
	k.tapsMu.Unlock()

	for _, name := range taps {
		if err := removeTAPDevice(k.netNSPath, name); err != nil {
			k.Logger().WithError(err).WithField("tap", name).Warn("Could not remove tap device")
		}
	}
}

// attachDevice claims the next virtio-mmio transport window for a
// device and returns the id the window is known by from then on.
func (k *kvmHypervisor) attachDevice(devInfo interface{}, devType DeviceType) (string, error) {
	name, err := kvmDeviceName(devInfo, devType)
	if err != nil {
		return "", err
	}

	switch v := devInfo.(type) {
	case config.NetDev:
		if err := k.setupTAP(v); err != nil {
			return "", err
		}
	case *config.NetDev:
		if err := k.setupTAP(*v); err != nil {
			return "", err
		}
	}

	if k.nextSlot >= kvmMMIOSlotCount {
		return "", fmt.Errorf("no virtio-mmio transport window left for device %s", name)
	}

	slot := mmioSlot{
		name:    name,
		devType: devType,
		base:    kvmMMIOBase + uint64(k.nextSlot)*kvmMMIOSlotSize,
		size:    kvmMMIOSlotSize,
		irq:     uint32(kvmMMIOFirstIRQ + k.nextSlot),
	}
	slot.id = fmt.Sprintf("virtio-mmio@0x%08x", slot.base)
	k.nextSlot++
	k.slots = append(k.slots, slot)

	k.Logger().WithFields(logrus.Fields{
		"device":    name,
		"transport": slot.id,
		"irq":       slot.irq,
	}).Info("Claimed virtio-mmio window")

	return slot.id, nil
}

func kvmDeviceName(devInfo interface{}, devType DeviceType) (string, error) {
	switch v := devInfo.(type) {
	case config.BlockDrive:
		return v.ID, nil
	case *config.BlockDrive:
		return v.ID, nil
	case config.NetDev:
		return v.ID, nil
	case *config.NetDev:
		return v.ID, nil
	case types.VSock:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported device: %v, type: %v", devInfo, devType)
	}
}

func (k *kvmHypervisor) AddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error {
	span, _ := hvtrace.Trace(ctx, k.Logger(), "AddDevice", k.tracingTags())
	defer span.End()

	k.stateMu.RLock()
	defer k.stateMu.RUnlock()

	if k.state == kvmNotReady {
		dev := kvmDevice{
			dev:     devInfo,
			devType: devType,
		}
		k.Logger().Info("VM not booted yet, queueing device")
		k.pendingDevices = append(k.pendingDevices, dev)
		return nil
	}

	_, err := k.attachDevice(devInfo, devType)
	return err
}

func (k *kvmHypervisor) HotplugAddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	span, _ := hvtrace.Trace(ctx, k.Logger(), "HotplugAddDevice", k.tracingTags())
	defer span.End()

	switch devType {
	case BlockDev, NetDev:
		return k.attachDevice(devInfo, devType)
	default:
		return nil, fmt.Errorf("Could not hot add device: unsupported device: %v, type: %v",
			devInfo, devType)
	}
}

func (k *kvmHypervisor) HotplugRemoveDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	span, _ := hvtrace.Trace(ctx, k.Logger(), "HotplugRemoveDevice", k.tracingTags())
	defer span.End()

	switch devType {
	case BlockDev, NetDev:
	default:
		return nil, fmt.Errorf("Could not hot remove device: unsupported device: %v, type: %v",
			devInfo, devType)
	}

	name, err := kvmDeviceName(devInfo, devType)
	if err != nil {
		return nil, err
	}

	// The window itself is not reclaimed, only unbound from the
	// device; guest address assignments stay stable for the VM's
	// lifetime.
	for i, slot := range k.slots {
		if slot.name == name && slot.devType == devType {
			k.slots = append(k.slots[:i], k.slots[i+1:]...)
			return slot.id, nil
		}
	}

	return nil, fmt.Errorf("device %s is not attached", name)
}

func (k *kvmHypervisor) GetVMConsole(ctx context.Context, id string) (string, string, error) {
	master, slave, err := console.NewPty()
	if err != nil {
		k.Logger().Debugf("Error create pseudo tty: %v", err)
		return consoleProtoPty, "", err
	}

	k.consoleMu.Lock()
	k.console = master
	k.consoleMu.Unlock()

	return consoleProtoPty, slave, nil
}

func (k *kvmHypervisor) Disconnect(ctx context.Context) {
	k.setState(kvmNotReady)
}

// Capabilities returns all capabilities supported by the in-process
// implementation of the Hypervisor interface.
func (k *kvmHypervisor) Capabilities(ctx context.Context) types.Capabilities {
	span, _ := hvtrace.Trace(ctx, k.Logger(), "Capabilities", k.tracingTags())
	defer span.End()

	var caps types.Capabilities
	caps.SetBlockDeviceHotplugSupport()
	caps.SetNetDeviceHotplugSupport()

	return caps
}

func (k *kvmHypervisor) HypervisorConfig() HypervisorConfig {
	return k.config
}

// ResizeMemory is not supported: guest RAM is a single fixed slot
// installed before boot. The request is not an error, the current
// memory size is reported back so the caller learns nothing changed.
func (k *kvmHypervisor) ResizeMemory(ctx context.Context, reqMemMB uint32, memoryBlockSizeMB uint32, probe bool) (uint32, MemoryDevice, error) {
	k.Logger().WithField("reqMemMB", reqMemMB).Warn("the kvm backend does not support memory resize, ignoring the request")
	return k.config.MemorySize, MemoryDevice{}, nil
}

// ResizeVCPUs is not supported, the current number of vCPUs is
// reported back.
func (k *kvmHypervisor) ResizeVCPUs(ctx context.Context, reqVCPUs uint32) (uint32, uint32, error) {
	k.Logger().WithField("reqVCPUs", reqVCPUs).Warn("the kvm backend does not support vCPU resize, ignoring the request")
	return k.config.NumVCPUs, k.config.NumVCPUs, nil
}

// GetThreadIDs is used to apply cgroup information on the host. The
// runner goroutines are pinned to their threads, so the recorded tids
// stay valid while the VM runs.
func (k *kvmHypervisor) GetThreadIDs(ctx context.Context) (VcpuThreadIDs, error) {
	var vcpuInfo VcpuThreadIDs

	vcpuInfo.vcpus = make(map[int]int)
	k.threadsMu.Lock()
	for id, tid := range k.vcpuThreads {
		vcpuInfo.vcpus[id] = tid
	}
	k.threadsMu.Unlock()

	return vcpuInfo, nil
}

// releaseVM tears down every kernel object and mapping the VM holds.
// Safe to call more than once.
func (k *kvmHypervisor) releaseVM() error {
	var firstErr error

	for _, cpu := range k.vcpus {
		if err := cpu.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	k.vcpus = nil

	if k.vm != nil {
		if err := k.vm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		k.vm = nil
	}

	if k.guestMem != nil {
		if err := unix.Munmap(k.guestMem); err != nil && firstErr == nil {
			firstErr = err
		}
		k.guestMem = nil
	}

	if k.dev != nil {
		if err := k.dev.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		k.dev = nil
	}

	return firstErr
}

func (k *kvmHypervisor) Cleanup(ctx context.Context) error {
	span, _ := hvtrace.Trace(ctx, k.Logger(), "Cleanup", k.tracingTags())
	defer span.End()

	return k.releaseVM()
}

func (k *kvmHypervisor) GetPids() []int {
	return []int{os.Getpid()}
}

func (k *kvmHypervisor) GetVirtioFsPid() *int {
	return nil
}

func (k *kvmHypervisor) Save() (s hv.HypervisorState) {
	s.Type = string(KvmHypervisor)
	s.ID = k.id
	s.Pid = os.Getpid()
	s.NetNSPath = k.netNSPath
	return
}

// Load restores bookkeeping only. The kernel objects behind the VM are
// descriptors owned by the process that created them, so a VM cannot
// be re-attached once that process is gone; Check reports this.
func (k *kvmHypervisor) Load(s hv.HypervisorState) {
	k.id = s.ID
	k.netNSPath = s.NetNSPath
}

func (k *kvmHypervisor) Check() error {
	if k.vm == nil {
		return errors.New("no VM is running in this process")
	}
	if k.stopReq.Load() {
		return errors.New("the VM has been stopped")
	}

	return nil
}

func (k *kvmHypervisor) GenerateSocket(id string) (interface{}, error) {
	if _, err := utils.SupportsVsocks(); err != nil {
		return nil, err
	}

	return generateVMSocket()
}

func (k *kvmHypervisor) IsRateLimiterBuiltin() bool {
	return false
}
