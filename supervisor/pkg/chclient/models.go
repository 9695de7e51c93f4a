// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package chclient

// The types below mirror the request and response bodies of the
// cloud-hypervisor API. Optional fields are pointers so that unset
// values are omitted from the serialized requests; the constructors
// assign the documented cloud-hypervisor defaults.

func boolPtr(b bool) *bool    { return &b }
func int32Ptr(i int32) *int32 { return &i }

// VmConfig is the top level configuration of the virtual machine.
type VmConfig struct {
	Cpus    *CpusConfig    `json:"cpus,omitempty"`
	Memory  *MemoryConfig  `json:"memory,omitempty"`
	Kernel  KernelConfig   `json:"kernel"`
	Cmdline *CmdLineConfig `json:"cmdline,omitempty"`
	Disks   *[]DiskConfig  `json:"disks,omitempty"`
	Net     *[]NetConfig   `json:"net,omitempty"`
	Rng     *RngConfig     `json:"rng,omitempty"`
	Fs      *[]FsConfig    `json:"fs,omitempty"`
	Pmem    *[]PmemConfig  `json:"pmem,omitempty"`
	Serial  *ConsoleConfig `json:"serial,omitempty"`
	Console *ConsoleConfig `json:"console,omitempty"`
	Vsock   *VsockConfig   `json:"vsock,omitempty"`
	Tdx     *TdxConfig     `json:"tdx,omitempty"`
	Iommu   *bool          `json:"iommu,omitempty"`
}

// NewVmConfig instantiates a VmConfig with the mandatory kernel settings.
func NewVmConfig(kernel KernelConfig) *VmConfig {
	return &VmConfig{
		Kernel: kernel,
		Iommu:  boolPtr(false),
	}
}

type KernelConfig struct {
	Path string `json:"path"`
}

func NewKernelConfig(path string) *KernelConfig {
	return &KernelConfig{Path: path}
}

type CmdLineConfig struct {
	Args string `json:"args"`
}

func NewCmdLineConfig(args string) *CmdLineConfig {
	return &CmdLineConfig{Args: args}
}

type CpusConfig struct {
	BootVcpus int32        `json:"boot_vcpus"`
	MaxVcpus  int32        `json:"max_vcpus"`
	Topology  *CpuTopology `json:"topology,omitempty"`
}

func NewCpusConfig(bootVcpus, maxVcpus int32) *CpusConfig {
	return &CpusConfig{
		BootVcpus: bootVcpus,
		MaxVcpus:  maxVcpus,
	}
}

type CpuTopology struct {
	ThreadsPerCore *int32 `json:"threads_per_core,omitempty"`
	CoresPerDie    *int32 `json:"cores_per_die,omitempty"`
	DiesPerPackage *int32 `json:"dies_per_package,omitempty"`
	Packages       *int32 `json:"packages,omitempty"`
}

func NewCpuTopology() *CpuTopology {
	return &CpuTopology{}
}

type MemoryConfig struct {
	// Size is the amount of guest memory in bytes.
	Size          int64   `json:"size"`
	HotplugSize   *int64  `json:"hotplug_size,omitempty"`
	HotplugMethod *string `json:"hotplug_method,omitempty"`
	Shared        *bool   `json:"shared,omitempty"`
	Hugepages     *bool   `json:"hugepages,omitempty"`
}

func NewMemoryConfig(size int64) *MemoryConfig {
	return &MemoryConfig{
		Size:      size,
		Shared:    boolPtr(false),
		Hugepages: boolPtr(false),
	}
}

type DiskConfig struct {
	Path        string  `json:"path"`
	Readonly    *bool   `json:"readonly,omitempty"`
	Direct      *bool   `json:"direct,omitempty"`
	Iommu       *bool   `json:"iommu,omitempty"`
	NumQueues   *int32  `json:"num_queues,omitempty"`
	QueueSize   *int32  `json:"queue_size,omitempty"`
	VhostUser   *bool   `json:"vhost_user,omitempty"`
	VhostSocket *string `json:"vhost_socket,omitempty"`
	Id          *string `json:"id,omitempty"`
}

func NewDiskConfig(path string) *DiskConfig {
	return &DiskConfig{
		Path:      path,
		Readonly:  boolPtr(false),
		Direct:    boolPtr(false),
		Iommu:     boolPtr(false),
		NumQueues: int32Ptr(1),
		QueueSize: int32Ptr(128),
		VhostUser: boolPtr(false),
	}
}

type NetConfig struct {
	Tap         *string `json:"tap,omitempty"`
	Ip          *string `json:"ip,omitempty"`
	Mask        *string `json:"mask,omitempty"`
	Mac         *string `json:"mac,omitempty"`
	Iommu       *bool   `json:"iommu,omitempty"`
	NumQueues   *int32  `json:"num_queues,omitempty"`
	QueueSize   *int32  `json:"queue_size,omitempty"`
	VhostUser   *bool   `json:"vhost_user,omitempty"`
	VhostSocket *string `json:"vhost_socket,omitempty"`
	Id          *string `json:"id,omitempty"`
}

func NewNetConfig() *NetConfig {
	return &NetConfig{
		Iommu:     boolPtr(false),
		NumQueues: int32Ptr(2),
		QueueSize: int32Ptr(256),
		VhostUser: boolPtr(false),
	}
}

type RngConfig struct {
	Src   string `json:"src"`
	Iommu *bool  `json:"iommu,omitempty"`
}

func NewRngConfig(src string) *RngConfig {
	return &RngConfig{
		Src:   src,
		Iommu: boolPtr(false),
	}
}

type FsConfig struct {
	Tag       string  `json:"tag"`
	Socket    string  `json:"socket"`
	NumQueues int32   `json:"num_queues"`
	QueueSize int32   `json:"queue_size"`
	Dax       bool    `json:"dax"`
	CacheSize int64   `json:"cache_size"`
	Id        *string `json:"id,omitempty"`
}

func NewFsConfig(tag, socket string, numQueues, queueSize int32, dax bool, cacheSize int64) *FsConfig {
	return &FsConfig{
		Tag:       tag,
		Socket:    socket,
		NumQueues: numQueues,
		QueueSize: queueSize,
		Dax:       dax,
		CacheSize: cacheSize,
	}
}

type PmemConfig struct {
	File          string  `json:"file"`
	Size          *int64  `json:"size,omitempty"`
	Iommu         *bool   `json:"iommu,omitempty"`
	DiscardWrites *bool   `json:"discard_writes,omitempty"`
	Id            *string `json:"id,omitempty"`
}

func NewPmemConfig(file string) *PmemConfig {
	return &PmemConfig{
		File:          file,
		Iommu:         boolPtr(false),
		DiscardWrites: boolPtr(false),
	}
}

type ConsoleConfig struct {
	Mode  string  `json:"mode"`
	File  *string `json:"file,omitempty"`
	Iommu *bool   `json:"iommu,omitempty"`
}

func NewConsoleConfig(mode string) *ConsoleConfig {
	return &ConsoleConfig{
		Mode:  mode,
		Iommu: boolPtr(false),
	}
}

type VsockConfig struct {
	// Cid is the guest context ID.
	Cid    int64   `json:"cid"`
	Socket string  `json:"socket"`
	Iommu  *bool   `json:"iommu,omitempty"`
	Id     *string `json:"id,omitempty"`
}

func NewVsockConfig(cid int64, socket string) *VsockConfig {
	return &VsockConfig{
		Cid:    cid,
		Socket: socket,
		Iommu:  boolPtr(false),
	}
}

type TdxConfig struct {
	Firmware string `json:"firmware"`
}

func NewTdxConfig(firmware string) *TdxConfig {
	return &TdxConfig{Firmware: firmware}
}

type VmResize struct {
	DesiredVcpus   *int32 `json:"desired_vcpus,omitempty"`
	DesiredRam     *int64 `json:"desired_ram,omitempty"`
	DesiredBalloon *int64 `json:"desired_balloon,omitempty"`
}

func NewVmResize() *VmResize {
	return &VmResize{}
}

type VmAddDevice struct {
	Path  *string `json:"path,omitempty"`
	Iommu *bool   `json:"iommu,omitempty"`
	Id    *string `json:"id,omitempty"`
}

func NewVmAddDevice() *VmAddDevice {
	return &VmAddDevice{
		Iommu: boolPtr(false),
	}
}

type VmRemoveDevice struct {
	Id *string `json:"id,omitempty"`
}

func NewVmRemoveDevice() *VmRemoveDevice {
	return &VmRemoveDevice{}
}

// PciDeviceInfo describes where a hotplugged device landed on the guest
// PCI bus.
type PciDeviceInfo struct {
	Id  string `json:"id"`
	Bdf string `json:"bdf"`
}

// VmInfo is the answer to a vm.info request.
type VmInfo struct {
	Config           VmConfig `json:"config"`
	State            string   `json:"state"`
	MemoryActualSize *int64   `json:"memory_actual_size,omitempty"`
}

// VmmPingResponse is the answer to a vmm.ping request.
type VmmPingResponse struct {
	Version string `json:"version"`
	Pid     *int64 `json:"pid,omitempty"`
}
