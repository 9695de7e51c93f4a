// Copyright (c) 2019 Ericsson Eurolab Deutschland GmbH
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/blang/semver/v4"
	"github.com/containerd/console"
	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/opencontainers/selinux/go-selinux/label"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/pkg/hvtrace"
	hv "github.com/confidential-containers/virtsupervisor/pkg/hypervisors"
	"github.com/confidential-containers/virtsupervisor/supervisor/persist"
	persistapi "github.com/confidential-containers/virtsupervisor/supervisor/persist/api"
	chclient "github.com/confidential-containers/virtsupervisor/supervisor/pkg/chclient"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
	"github.com/confidential-containers/virtsupervisor/supervisor/utils"
)

// tracingTags defines tags for the trace span
func (clh *cloudHypervisor) tracingTags() map[string]string {
	return map[string]string{
		"source":    "virtsupervisor",
		"package":   "supervisor",
		"subsystem": "hypervisor",
		"type":      "clh",
		"vm_id":     clh.id,
	}
}

//
// Constants and type definitions related to cloud hypervisor
//

type clhState uint8

const (
	clhNotReady clhState = iota
	clhReady
)

const (
	clhStateCreated = "Created"
	clhStateRunning = "Running"
)

const (
	clhAPITimeout = 10
	// Timeout for hot-plug - hotplug devices can take more time, than usual API calls
	// Use longer time timeout for it.
	clhHotPlugAPITimeout = 5
	clhStopTimeout       = 3
	clhSocket            = "clh.sock"
	clhAPISocket         = "clh-api.sock"
	virtioFsSocket       = "virtiofsd.sock"
	sharedDirName        = "shared"
	defaultClhPath       = "/usr/local/bin/cloud-hypervisor"
)

// clhClient hides the implementation of the cloud-hypervisor API client
// behind an interface, so that unit tests can mock the VMM.
type clhClient interface {
	// Check for the REST API availability
	VmmPingGet(ctx context.Context) (chclient.VmmPingResponse, *http.Response, error)
	// Shut the VMM down
	ShutdownVMM(ctx context.Context) (*http.Response, error)
	// Create the VM
	CreateVM(ctx context.Context, vmConfig chclient.VmConfig) (*http.Response, error)
	// Dump the VM information
	// No lint: golint suggest to rename to VMInfoGet.
	VmInfoGet(ctx context.Context) (chclient.VmInfo, *http.Response, error) //nolint:golint
	// Boot the VM
	BootVM(ctx context.Context) (*http.Response, error)
	// Add/remove CPUs to/from the VM
	VmResizePut(ctx context.Context, vmResize chclient.VmResize) (*http.Response, error)
	// Add VFIO PCI device to the VM
	VmAddDevicePut(ctx context.Context, vmAddDevice chclient.VmAddDevice) (chclient.PciDeviceInfo, *http.Response, error)
	// Add a new disk device to the VM
	VmAddDiskPut(ctx context.Context, diskConfig chclient.DiskConfig) (chclient.PciDeviceInfo, *http.Response, error)
	// Add a new network device to the VM
	VmAddNetPut(ctx context.Context, netConfig chclient.NetConfig) (chclient.PciDeviceInfo, *http.Response, error)
	// Remove a device from the VM
	VmRemoveDevicePut(ctx context.Context, vmRemoveDevice chclient.VmRemoveDevice) (*http.Response, error)
}

type clhClientApi struct {
	ApiInternal *chclient.DefaultApiService
}

func (c *clhClientApi) VmmPingGet(ctx context.Context) (chclient.VmmPingResponse, *http.Response, error) {
	return c.ApiInternal.VmmPingGet(ctx)
}

func (c *clhClientApi) ShutdownVMM(ctx context.Context) (*http.Response, error) {
	return c.ApiInternal.ShutdownVMM(ctx)
}

func (c *clhClientApi) CreateVM(ctx context.Context, vmConfig chclient.VmConfig) (*http.Response, error) {
	return c.ApiInternal.CreateVM(ctx, vmConfig)
}

//nolint:golint
func (c *clhClientApi) VmInfoGet(ctx context.Context) (chclient.VmInfo, *http.Response, error) {
	return c.ApiInternal.VmInfoGet(ctx)
}

func (c *clhClientApi) BootVM(ctx context.Context) (*http.Response, error) {
	return c.ApiInternal.BootVM(ctx)
}

func (c *clhClientApi) VmResizePut(ctx context.Context, vmResize chclient.VmResize) (*http.Response, error) {
	return c.ApiInternal.VmResizePut(ctx, vmResize)
}

func (c *clhClientApi) VmAddDevicePut(ctx context.Context, vmAddDevice chclient.VmAddDevice) (chclient.PciDeviceInfo, *http.Response, error) {
	return c.ApiInternal.VmAddDevicePut(ctx, vmAddDevice)
}

func (c *clhClientApi) VmAddDiskPut(ctx context.Context, diskConfig chclient.DiskConfig) (chclient.PciDeviceInfo, *http.Response, error) {
	return c.ApiInternal.VmAddDiskPut(ctx, diskConfig)
}

func (c *clhClientApi) VmAddNetPut(ctx context.Context, netConfig chclient.NetConfig) (chclient.PciDeviceInfo, *http.Response, error) {
	return c.ApiInternal.VmAddNetPut(ctx, netConfig)
}

func (c *clhClientApi) VmRemoveDevicePut(ctx context.Context, vmRemoveDevice chclient.VmRemoveDevice) (*http.Response, error) {
	return c.ApiInternal.VmRemoveDevicePut(ctx, vmRemoveDevice)
}

//
// Cloud hypervisor state
//
type CloudHypervisorState struct {
	apiSocket    string
	PID          int
	VirtiofsdPID int
	state        clhState
}

func (s *CloudHypervisorState) reset() {
	s.PID = 0
	s.VirtiofsdPID = 0
	s.state = clhNotReady
}

type cloudHypervisor struct {
	store      persistapi.PersistDriver
	console    console.Console
	virtiofsd  VirtiofsDaemon
	APIClient  clhClient
	ctx        context.Context
	id         string
	netNSPath  string
	vmconfig   chclient.VmConfig
	version    semver.Version
	state      CloudHypervisorState
	config     HypervisorConfig
	protection guestProtection
	exitCh     chan struct{}
	exitOnce   sync.Once
}

// clhMinVersion is the minimum cloud-hypervisor release the driver
// knows how to drive.
var clhMinVersion = semver.MustParse("0.21.0")

var clhKernelParams = []Param{
	{"root", "/dev/pmem0p1"},
	{"panic", "1"},         // upon kernel panic wait 1 second before reboot
	{"no_timer_check", ""}, // do not check broken timer IRQ resources
	{"noreplace-smp", ""},  // do not replace SMP instructions
	{"rootflags", "dax,data=ordered,errors=remount-ro ro"}, // mount the root filesystem as readonly
	{"rootfstype", "ext4"},
}

var clhDebugKernelParams = []Param{
	{"console", "ttyS0,115200n8"},     // enable serial console
	{"systemd.log_target", "console"}, // send loggng to the console
}

//###########################################################
//
// hypervisor interface implementation for cloud-hypervisor
//
//###########################################################

func (clh *cloudHypervisor) setConfig(config *HypervisorConfig) error {
	if err := config.Valid(); err != nil {
		return err
	}

	clh.config = *config

	return nil
}

// For cloudHypervisor this call only sets the internal structure up.
// The VM will be created and started through StartVM().
func (clh *cloudHypervisor) CreateVM(ctx context.Context, id string, network NetworkNamespace, hypervisorConfig *HypervisorConfig) error {
	clh.ctx = ctx

	span, newCtx := hvtrace.Trace(clh.ctx, clh.Logger(), "CreateVM", clh.tracingTags())
	clh.ctx = newCtx
	defer span.End()

	if err := clh.setConfig(hypervisorConfig); err != nil {
		return err
	}

	clh.id = id
	clh.netNSPath = network.NetNsPath
	clh.state.state = clhNotReady
	clh.exitCh = make(chan struct{})

	clh.Logger().WithField("function", "CreateVM").Info("creating VM")

	if clh.store == nil {
		var err error
		if clh.store, err = persist.GetDriver(); err != nil {
			return err
		}
	}

	virtiofsdSocketPath, err := clh.virtioFsSocketPath(clh.id)
	if err != nil {
		return err
	}

	// Make sure the kernel path is valid
	kernelPath := clh.config.KernelPath

	// Create the VM config via the constructor to ensure default values are properly assigned
	clh.vmconfig = *chclient.NewVmConfig(*chclient.NewKernelConfig(kernelPath))

	// Create the VM memory config via the constructor to ensure default values are properly assigned
	clh.vmconfig.Memory = chclient.NewMemoryConfig(int64((utils.MemUnit(clh.config.MemorySize) * utils.MiB).ToBytes()))
	// shared memory is required by the vhost-user backend of virtiofsd
	if clh.config.SharedFS == config.VirtioFS {
		clh.vmconfig.Memory.Shared = func(b bool) *bool { return &b }(true)
	}
	hostMemKb, err := GetHostMemorySizeKb(procMemInfo)
	if err != nil {
		return err
	}
	// The API supports int64 values only
	clh.vmconfig.Memory.HotplugSize = func(i int64) *int64 { return &i }(int64((utils.MemUnit(hostMemKb) * utils.KiB).ToBytes()))
	// Set initial amount of cpu's for the virtual machine
	clh.vmconfig.Cpus = chclient.NewCpusConfig(int32(clh.config.NumVCPUs), int32(clh.config.DefaultMaxVCPUs))

	// First take the default parameters defined by this driver
	params := clhKernelParams

	// Followed by extra debug parameters if debug enabled in configuration file
	if clh.config.Debug {
		params = append(params, clhDebugKernelParams...)
	} else {
		// start the guest kernel with 'quiet' in non-debug mode
		params = append(params, Param{"quiet", ""})
	}

	// Followed by extra kernel parameters defined in the configuration file
	params = append(params, clh.config.KernelParams...)

	clh.vmconfig.Cmdline = chclient.NewCmdLineConfig(kernelParamsToString(params))

	// set random device generator to hypervisor
	clh.vmconfig.Rng = chclient.NewRngConfig(clh.config.EntropySource)

	// set the initial root/boot disk of hypervisor
	imagePath := clh.config.ImagePath
	if imagePath == "" {
		return errors.New("cloud-hypervisor boots from a pmem image, image path is empty")
	}

	pmem := chclient.NewPmemConfig(imagePath)
	*pmem.DiscardWrites = true
	if clh.vmconfig.Pmem != nil {
		*clh.vmconfig.Pmem = append(*clh.vmconfig.Pmem, *pmem)
	} else {
		clh.vmconfig.Pmem = &[]chclient.PmemConfig{*pmem}
	}

	// Use serial port as the guest console only in debug mode,
	// so that we can gather early OS booting log
	if clh.config.Debug {
		clh.vmconfig.Serial = chclient.NewConsoleConfig(cctTTY)
	} else {
		clh.vmconfig.Serial = chclient.NewConsoleConfig(cctOFF)
	}

	clh.vmconfig.Console = chclient.NewConsoleConfig(cctOFF)

	cpu_topology := chclient.NewCpuTopology()
	cpu_topology.ThreadsPerCore = func(i int32) *int32 { return &i }(1)
	cpu_topology.CoresPerDie = func(i int32) *int32 { return &i }(int32(clh.config.DefaultMaxVCPUs))
	cpu_topology.DiesPerPackage = func(i int32) *int32 { return &i }(1)
	cpu_topology.Packages = func(i int32) *int32 { return &i }(1)
	clh.vmconfig.Cpus.Topology = cpu_topology

	// The guest protection must be negotiated before the VM config is
	// handed to the VMM, it selects the boot path.
	if clh.config.ConfidentialGuest {
		if err := clh.enableProtection(); err != nil {
			return err
		}
	}

	// Overwrite the default value of HTTP API socket path for cloud hypervisor
	apiSocketPath, err := clh.apiSocketPath(id)
	if err != nil {
		clh.Logger().WithError(err).Info("Invalid api socket path for cloud-hypervisor")
		return err
	}
	clh.state.apiSocket = apiSocketPath

	clh.APIClient = clh.newAPIClient()

	if clh.config.SharedFS == config.VirtioFS {
		clh.virtiofsd = &virtiofsd{
			path:       clh.config.VirtioFSDaemon,
			sourcePath: clh.sharedPath(clh.id),
			socketPath: virtiofsdSocketPath,
			extraArgs:  clh.config.VirtioFSExtraArgs,
			debug:      clh.config.Debug,
			cache:      clh.config.VirtioFSCache,
		}

		if err := clh.addVolume(types.Volume{MountTag: sharedFsTag, HostPath: clh.sharedPath(clh.id)}); err != nil {
			return err
		}
	}

	return nil
}

// enableProtection adds the boot settings the negotiated guest
// protection technology requires. It is an error to ask for a
// confidential guest on a host with no support for it.
func (clh *cloudHypervisor) enableProtection() error {
	protection, err := availableGuestProtection()
	if err != nil {
		return err
	}

	switch protection {
	case tdxProtection:
		firmwarePath := clh.config.FirmwarePath
		if firmwarePath == "" {
			return errors.New("Firmware path is not specified in configuration file")
		}
		clh.vmconfig.Tdx = chclient.NewTdxConfig(firmwarePath)
		clh.protection = protection
		return nil
	case sevProtection:
		return errors.New("SEV protection is not supported by Cloud Hypervisor")
	case snpProtection:
		return errors.New("SEV-SNP protection is not supported by Cloud Hypervisor")
	default:
		return errors.New("This system doesn't support Confidential Computing (Guest Protection)")
	}
}

// StartVM will start the VMM and boot the virtual machine for the given VM.
func (clh *cloudHypervisor) StartVM(ctx context.Context, timeout int) error {
	span, _ := hvtrace.Trace(ctx, clh.Logger(), "StartVM", clh.tracingTags())
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	clh.Logger().WithField("function", "StartVM").Info("starting VM")

	vmPath := filepath.Join(clh.store.RunVMStoragePath(), clh.id)
	err := os.MkdirAll(vmPath, DirMode)
	if err != nil {
		return err
	}

	// This needs to be done as late as possible, just before launching
	// the VMM. Processes executed after this call run with the SELinux
	// label. If these processes require privileged, we do not want to
	// run them under confinement.
	if err := label.SetProcessLabel(clh.config.SELinuxProcessLabel); err != nil {
		return err
	}
	defer label.SetProcessLabel("")

	switch clh.config.SharedFS {
	case config.VirtioFS:
		if clh.virtiofsd == nil {
			return errors.New("Missing virtiofsd configuration")
		}

		if err := os.MkdirAll(clh.sharedPath(clh.id), DirMode); err != nil {
			return err
		}

		clh.Logger().WithField("function", "StartVM").Info("Starting virtiofsd")
		pid, err := clh.virtiofsd.Start(ctx, func() {
			clh.StopVM(ctx, false)
		})
		if err != nil {
			return err
		}
		clh.state.VirtiofsdPID = pid
	case config.NoSharedFS:
		// nothing to share with the guest
	default:
		return errors.New("cloud-hypervisor only supports virtio based file sharing")
	}

	pid, err := clh.launchClh(uint(timeout))
	if err != nil {
		if clh.virtiofsd != nil {
			if shutdownErr := clh.virtiofsd.Stop(ctx); shutdownErr != nil {
				clh.Logger().WithError(shutdownErr).Warn("error shutting down Virtiofsd")
			}
		}
		return fmt.Errorf("failed to launch cloud-hypervisor: %q", err)
	}
	clh.state.PID = pid

	if err := clh.getAvailableVersion(); err != nil {
		return err
	}

	if err := clh.checkVersion(); err != nil {
		return err
	}

	if err := clh.bootVM(ctx); err != nil {
		return err
	}

	clh.state.state = clhReady
	return nil
}

// GetVMConsole builds the path of the console where we can read
// logs coming from the VM.
func (clh *cloudHypervisor) GetVMConsole(ctx context.Context, id string) (string, string, error) {
	clh.Logger().WithField("function", "GetVMConsole").WithField("id", id).Info("Get VM Console")
	master, slave, err := console.NewPty()
	if err != nil {
		clh.Logger().WithError(err).Error("Error create pseudo tty")
		return consoleProtoPty, "", err
	}
	clh.console = master

	return consoleProtoPty, slave, nil
}

func (clh *cloudHypervisor) Disconnect(ctx context.Context) {
	clh.Logger().WithField("function", "Disconnect").Info("Disconnecting VM Console")
}

// GetThreadIDs returns the pid of every vCPU thread, indexed by vCPU
// number. cloud-hypervisor names its vCPU threads "vcpuN".
func (clh *cloudHypervisor) GetThreadIDs(ctx context.Context) (VcpuThreadIDs, error) {
	clh.Logger().WithField("function", "GetThreadIDs").Info("get thread ID's")

	var vcpuInfo VcpuThreadIDs
	vcpuInfo.vcpus = make(map[int]int)

	parent, err := utils.NewProc(clh.state.PID)
	if err != nil {
		return vcpuInfo, err
	}
	children, err := parent.Children()
	if err != nil {
		return vcpuInfo, err
	}
	for _, child := range children {
		comm, err := child.Comm()
		if err != nil {
			return vcpuInfo, errors.New("Invalid clh thread info")
		}
		if !strings.HasPrefix(comm, "vcpu") {
			continue
		}
		cpuID, err := strconv.ParseInt(strings.TrimPrefix(comm, "vcpu"), 10, 32)
		if err != nil {
			return vcpuInfo, errors.Wrapf(err, "Invalid clh thread info: %v", comm)
		}
		vcpuInfo.vcpus[int(cpuID)] = child.PID
	}

	return vcpuInfo, nil
}

func clhDriveIndexToID(i int) string {
	return "clh_drive_" + strconv.Itoa(i)
}

func (clh *cloudHypervisor) hotplugAddBlockDevice(drive *config.BlockDrive) (string, error) {
	if drive.Swap {
		return "", fmt.Errorf("cloudHypervisor doesn't support swap")
	}

	if clh.config.BlockDeviceDriver != config.VirtioBlock {
		return "", fmt.Errorf("incorrect hypervisor configuration on 'block_device_driver':"+
			" using '%v' but only support '%v'", clh.config.BlockDeviceDriver, config.VirtioBlock)
	}

	cl := clh.client()
	ctx, cancel := context.WithTimeout(context.Background(), clhHotPlugAPITimeout*time.Second)
	defer cancel()

	driveID := clhDriveIndexToID(drive.Index)

	if drive.Pmem {
		return "", fmt.Errorf("pmem device hotplug not supported")
	}

	// Create the clh disk config via the constructor to ensure default values are properly assigned
	clhDisk := *chclient.NewDiskConfig(drive.File)
	clhDisk.Readonly = &drive.ReadOnly
	clhDisk.VhostUser = func(b bool) *bool { return &b }(false)
	clhDisk.Id = &driveID

	pciInfo, _, err := cl.VmAddDiskPut(ctx, clhDisk)
	if err != nil {
		return "", fmt.Errorf("failed to hotplug block device %+v %s", drive, openAPIClientError(err))
	}

	drive.PCIAddr = pciInfo.Bdf

	return driveID, nil
}

func (clh *cloudHypervisor) hotplugAddNetDevice(dev *config.NetDev) (string, error) {
	cl := clh.client()
	ctx, cancel := context.WithTimeout(context.Background(), clhHotPlugAPITimeout*time.Second)
	defer cancel()

	netID := dev.ID

	// Create the clh net config via the constructor to ensure default values are properly assigned
	clhNet := *chclient.NewNetConfig()
	clhNet.Tap = &dev.TapName
	clhNet.Id = &netID
	if dev.MacAddress != "" {
		clhNet.Mac = &dev.MacAddress
	}
	if dev.NumQueues > 0 {
		clhNet.NumQueues = func(i int32) *int32 { return &i }(int32(dev.NumQueues))
	}

	pciInfo, _, err := cl.VmAddNetPut(ctx, clhNet)
	if err != nil {
		return "", fmt.Errorf("failed to hotplug net device %+v %s", dev, openAPIClientError(err))
	}

	if pciInfo.Id != "" {
		return pciInfo.Id, nil
	}

	return netID, nil
}

func (clh *cloudHypervisor) hotPlugVFIODevice(device config.VFIODev) error {
	cl := clh.client()
	ctx, cancel := context.WithTimeout(context.Background(), clhHotPlugAPITimeout*time.Second)
	defer cancel()

	// Create the clh device config via the constructor to ensure default values are properly assigned
	clhDevice := *chclient.NewVmAddDevice()
	clhDevice.Path = &device.SysfsDev
	clhDevice.Id = &device.ID
	_, _, err := cl.VmAddDevicePut(ctx, clhDevice)
	if err != nil {
		err = fmt.Errorf("Failed to hotplug device %+v %s", device, openAPIClientError(err))
	}
	return err
}

func (clh *cloudHypervisor) HotplugAddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	span, _ := hvtrace.Trace(ctx, clh.Logger(), "HotplugAddDevice", clh.tracingTags())
	defer span.End()

	switch devType {
	case BlockDev:
		drive := devInfo.(*config.BlockDrive)
		return clh.hotplugAddBlockDevice(drive)
	case NetDev:
		netDev := devInfo.(*config.NetDev)
		return clh.hotplugAddNetDevice(netDev)
	case VfioDev:
		device := devInfo.(*config.VFIODev)
		return device.ID, clh.hotPlugVFIODevice(*device)
	default:
		return nil, fmt.Errorf("cannot hotplug device: unsupported device type '%v'", devType)
	}
}

func (clh *cloudHypervisor) HotplugRemoveDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	span, _ := hvtrace.Trace(ctx, clh.Logger(), "HotplugRemoveDevice", clh.tracingTags())
	defer span.End()

	var deviceID string

	switch devType {
	case BlockDev:
		deviceID = clhDriveIndexToID(devInfo.(*config.BlockDrive).Index)
	case NetDev:
		deviceID = devInfo.(*config.NetDev).ID
	case VfioDev:
		deviceID = devInfo.(*config.VFIODev).ID
	default:
		clh.Logger().WithFields(log.Fields{"devInfo": devInfo,
			"deviceType": devType}).Error("HotplugRemoveDevice: unsupported device")
		return nil, fmt.Errorf("Could not hot remove device: unsupported device: %v, type: %v",
			devInfo, devType)
	}

	cl := clh.client()
	ctx, cancel := context.WithTimeout(context.Background(), clhHotPlugAPITimeout*time.Second)
	defer cancel()

	remove := *chclient.NewVmRemoveDevice()
	remove.Id = &deviceID
	_, err := cl.VmRemoveDevicePut(ctx, remove)
	if err != nil {
		err = fmt.Errorf("failed to hotplug remove (unplug) device %+v: %s", devInfo, openAPIClientError(err))
	}

	return nil, err
}

func (clh *cloudHypervisor) HypervisorConfig() HypervisorConfig {
	return clh.config
}

func (clh *cloudHypervisor) ResizeMemory(ctx context.Context, reqMemMB uint32, memoryBlockSizeMB uint32, probe bool) (uint32, MemoryDevice, error) {
	if probe {
		return 0, MemoryDevice{}, errors.New("probe memory is not supported for cloud-hypervisor")
	}

	if reqMemMB == 0 {
		// This is a corner case if requested to resize to 0 means something went really wrong.
		return 0, MemoryDevice{}, errors.New("Can not resize memory to 0")
	}

	info, err := clh.vmInfo()
	if err != nil {
		return 0, MemoryDevice{}, err
	}

	currentMem := utils.MemUnit(info.Config.Memory.Size) * utils.Byte
	newMem := utils.MemUnit(reqMemMB) * utils.MiB

	// Early check to verify if boot memory is the same as requested
	if currentMem == newMem {
		clh.Logger().WithField("memory", reqMemMB).Debugf("VM already has requested memory")
		return uint32(currentMem.ToMiB()), MemoryDevice{}, nil
	}

	if currentMem > newMem {
		clh.Logger().Warn("Remove memory is not supported, nothing to do")
		return uint32(currentMem.ToMiB()), MemoryDevice{}, nil
	}

	blockSize := utils.MemUnit(memoryBlockSizeMB) * utils.MiB
	hotplugSize := (newMem - currentMem).AlignMem(blockSize)

	// Update memory request to increase memory aligned block
	alignedRequest := currentMem + hotplugSize
	if newMem != alignedRequest {
		clh.Logger().WithFields(log.Fields{"request": newMem, "aligned-request": alignedRequest}).Debug("aligning VM memory request")
		newMem = alignedRequest
	}

	// Check if memory is the same as requested, a second check is done
	// to consider the memory request now that is updated to be memory aligned
	if currentMem == newMem {
		clh.Logger().WithFields(log.Fields{"current-memory": currentMem, "new-memory": newMem}).Debug("VM already has requested memory(after alignment)")
		return uint32(currentMem.ToMiB()), MemoryDevice{}, nil
	}

	cl := clh.client()
	ctx, cancelResize := context.WithTimeout(ctx, clhAPITimeout*time.Second)
	defer cancelResize()

	resize := *chclient.NewVmResize()
	// The API supports int64 values only
	resize.DesiredRam = func(i int64) *int64 { return &i }(int64(newMem.ToBytes()))
	clh.Logger().WithFields(log.Fields{"current-memory": currentMem, "new-memory": newMem}).Debug("updating VM memory")
	if _, err = cl.VmResizePut(ctx, resize); err != nil {
		clh.Logger().WithError(err).WithFields(log.Fields{"current-memory": currentMem, "new-memory": newMem}).Warnf("failed to update memory %s", openAPIClientError(err))
		err = fmt.Errorf("Failed to resize memory from %d to %d: %s", currentMem, newMem, openAPIClientError(err))
		return uint32(currentMem.ToMiB()), MemoryDevice{}, err
	}

	return uint32(newMem.ToMiB()), MemoryDevice{SizeMB: int(hotplugSize.ToMiB())}, nil
}

func (clh *cloudHypervisor) ResizeVCPUs(ctx context.Context, reqVCPUs uint32) (currentVCPUs uint32, newVCPUs uint32, err error) {
	cl := clh.client()

	// Retrieve the number of current vCPUs via HTTP API
	info, err := clh.vmInfo()
	if err != nil {
		clh.Logger().WithField("function", "ResizeVCPUs").WithError(err).Info("[clh] vmInfo failed")
		return 0, 0, openAPIClientError(err)
	}

	currentVCPUs = uint32(info.Config.Cpus.BootVcpus)
	newVCPUs = currentVCPUs

	// Sanity check
	if reqVCPUs == 0 {
		clh.Logger().WithField("function", "ResizeVCPUs").Debugf("Cannot resize vCPU to 0")
		return currentVCPUs, newVCPUs, fmt.Errorf("Cannot resize vCPU to 0")
	}
	if reqVCPUs > uint32(info.Config.Cpus.MaxVcpus) {
		clh.Logger().WithFields(log.Fields{
			"function":    "ResizeVCPUs",
			"reqVCPUs":    reqVCPUs,
			"clhMaxVCPUs": info.Config.Cpus.MaxVcpus,
		}).Warn("exceeding the 'clhMaxVCPUs' (resizing to 'clhMaxVCPUs')")

		reqVCPUs = uint32(info.Config.Cpus.MaxVcpus)
	}

	// Resize (hot-plug) vCPUs via HTTP API
	ctx, cancel := context.WithTimeout(ctx, clhAPITimeout*time.Second)
	defer cancel()
	resize := *chclient.NewVmResize()
	resize.DesiredVcpus = func(i int32) *int32 { return &i }(int32(reqVCPUs))
	if _, err = cl.VmResizePut(ctx, resize); err != nil {
		return currentVCPUs, newVCPUs, errors.Wrap(err, "[clh] VmResizePut failed")
	}

	newVCPUs = reqVCPUs

	return currentVCPUs, newVCPUs, nil
}

func (clh *cloudHypervisor) Cleanup(ctx context.Context) error {
	clh.Logger().WithField("function", "Cleanup").Info("cleanup")
	return nil
}

// newAPIClient builds the HTTP API client for the VMM control socket. The
// dialer resolves clh.state.apiSocket on every call, so a client built
// before the socket path is known, or rebuilt after a restore, dials the
// right place.
func (clh *cloudHypervisor) newAPIClient() clhClient {
	cfg := chclient.NewConfiguration()
	cfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, path string) (net.Conn, error) {
				addr, err := net.ResolveUnixAddr("unix", clh.state.apiSocket)
				if err != nil {
					return nil, err
				}

				return net.DialUnix("unix", nil, addr)
			},
		},
	}

	return &clhClientApi{
		ApiInternal: chclient.NewAPIClient(cfg).DefaultApi,
	}
}

// StopVM will stop the VM.
func (clh *cloudHypervisor) StopVM(ctx context.Context, waitOnly bool) (err error) {
	span, _ := hvtrace.Trace(ctx, clh.Logger(), "StopVM", clh.tracingTags())
	defer span.End()
	clh.Logger().WithField("function", "StopVM").Info("Stop VM")
	return clh.terminate(ctx, waitOnly)
}

func (clh *cloudHypervisor) Save() (s hv.HypervisorState) {
	s.Type = string(ClhHypervisor)
	s.ID = clh.id
	s.Pid = clh.state.PID
	s.VirtiofsDaemonPid = clh.state.VirtiofsdPID
	s.APISocket = clh.state.apiSocket
	s.NetNSPath = clh.netNSPath
	s.GuestProtection = clh.protection.String()
	return
}

// Load re-attaches the driver to a VM it did not create in this process.
// Besides copying the persisted fields back it must rebuild everything
// CreateVM would have set up: the API client (the dialer resolves
// clh.state.apiSocket lazily, so building it after the socket path is
// restored is enough), the VM store the on-disk paths derive from, and
// the handle on the running virtiofsd.
func (clh *cloudHypervisor) Load(s hv.HypervisorState) {
	clh.id = s.ID
	clh.state.PID = s.Pid
	clh.state.VirtiofsdPID = s.VirtiofsDaemonPid
	clh.state.apiSocket = s.APISocket
	clh.netNSPath = s.NetNSPath
	clh.protection = guestProtectionFromName(s.GuestProtection)
	clh.exitCh = make(chan struct{})
	clh.APIClient = clh.newAPIClient()

	if clh.store == nil {
		store, err := persist.GetDriver()
		if err != nil {
			clh.Logger().WithError(err).Error("cannot reopen the VM store")
			return
		}
		clh.store = store
	}

	if s.VirtiofsDaemonPid > 0 {
		socketPath, err := clh.virtioFsSocketPath(clh.id)
		if err != nil {
			clh.Logger().WithError(err).Error("cannot rebuild the virtiofsd socket path")
			return
		}

		clh.virtiofsd = &virtiofsd{
			PID:        s.VirtiofsDaemonPid,
			sourcePath: clh.sharedPath(clh.id),
			socketPath: socketPath,
			debug:      clh.config.Debug,
		}
	}
}

func (clh *cloudHypervisor) Check() error {
	cl := clh.client()
	ctx, cancel := context.WithTimeout(context.Background(), clhAPITimeout*time.Second)
	defer cancel()

	_, _, err := cl.VmmPingGet(ctx)
	return err
}

func (clh *cloudHypervisor) GetPids() []int {
	var pids []int
	pids = append(pids, clh.state.PID)

	return pids
}

func (clh *cloudHypervisor) GetVirtioFsPid() *int {
	return &clh.state.VirtiofsdPID
}

func (clh *cloudHypervisor) AddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error {
	span, _ := hvtrace.Trace(ctx, clh.Logger(), "AddDevice", clh.tracingTags())
	defer span.End()

	var err error

	switch v := devInfo.(type) {
	case config.NetDev:
		err = clh.addNet(v)
	case types.HybridVSock:
		clh.addVSock(defaultGuestVSockCID, v.UdsPath)
	case types.Volume:
		err = clh.addVolume(v)
	default:
		clh.Logger().WithField("function", "AddDevice").Warnf("Add device of type %v is not supported.", v)
		return fmt.Errorf("Not implemented support for %s", v)
	}

	return err
}

//###########################################################################
//
// Local helper methods related to the hypervisor interface implementation
//
//###########################################################################

func (clh *cloudHypervisor) Logger() *log.Entry {
	return hvLogger.WithField("subsystem", "cloudHypervisor")
}

// Adds all capabilities supported by cloudHypervisor implementation of hypervisor interface
func (clh *cloudHypervisor) Capabilities(ctx context.Context) types.Capabilities {
	span, _ := hvtrace.Trace(ctx, clh.Logger(), "Capabilities", clh.tracingTags())
	defer span.End()

	clh.Logger().WithField("function", "Capabilities").Info("get Capabilities")
	var caps types.Capabilities
	caps.SetFsSharingSupport()
	caps.SetBlockDeviceHotplugSupport()
	caps.SetNetDeviceHotplugSupport()
	caps.SetGuestMemoryResizeSupport()
	return caps
}

func (clh *cloudHypervisor) terminate(ctx context.Context, waitOnly bool) (err error) {
	span, _ := hvtrace.Trace(ctx, clh.Logger(), "terminate", clh.tracingTags())
	defer span.End()

	pid := clh.state.PID
	pidRunning := true
	if pid == 0 {
		pidRunning = false
	}

	defer func() {
		clh.Logger().Debug("cleanup VM")
		if err1 := clh.cleanupVM(true); err1 != nil {
			clh.Logger().WithError(err1).Error("failed to cleanupVM")
		}
	}()

	clh.Logger().Debug("Stopping Cloud Hypervisor")

	if pidRunning && !waitOnly {
		clhRunning, _ := clh.isClhRunning(clhStopTimeout)
		if clhRunning {
			ctx, cancel := context.WithTimeout(context.Background(), clhStopTimeout*time.Second)
			defer cancel()
			if _, err = clh.client().ShutdownVMM(ctx); err != nil {
				return err
			}
		}
	}

	if pidRunning {
		if err = utils.WaitLocalProcess(pid, clhStopTimeout, syscall.Signal(0), clh.Logger()); err != nil {
			return err
		}
	}

	if clh.config.SharedFS != config.VirtioFS {
		return nil
	}

	if clh.virtiofsd == nil {
		return errors.New("virtiofsd config is nil, failed to stop it")
	}

	clh.Logger().Debug("stop virtiofsd")
	if err = clh.virtiofsd.Stop(ctx); err != nil {
		clh.Logger().WithError(err).Error("failed to stop virtiofsd")
	}

	return
}

func (clh *cloudHypervisor) reset() {
	clh.state.reset()
}

func (clh *cloudHypervisor) GenerateSocket(id string) (interface{}, error) {
	udsPath, err := clh.vsockSocketPath(id)
	if err != nil {
		clh.Logger().Info("Can't generate socket path for cloud-hypervisor")
		return types.HybridVSock{}, err
	}

	return types.HybridVSock{
		UdsPath: udsPath,
		Port:    uint32(vSockPort),
	}, nil
}

func (clh *cloudHypervisor) sharedPath(id string) string {
	return filepath.Join(clh.store.RunVMStoragePath(), id, sharedDirName)
}

func (clh *cloudHypervisor) virtioFsSocketPath(id string) (string, error) {
	return utils.BuildSocketPath(clh.store.RunVMStoragePath(), id, virtioFsSocket)
}

func (clh *cloudHypervisor) vsockSocketPath(id string) (string, error) {
	return utils.BuildSocketPath(clh.store.RunVMStoragePath(), id, clhSocket)
}

func (clh *cloudHypervisor) apiSocketPath(id string) (string, error) {
	return utils.BuildSocketPath(clh.store.RunVMStoragePath(), id, clhAPISocket)
}

func (clh *cloudHypervisor) waitVMM(timeout uint) error {
	clhRunning, err := clh.isClhRunning(timeout)
	if err != nil {
		return err
	}

	if !clhRunning {
		return fmt.Errorf("CLH is not running")
	}

	return nil
}

func (clh *cloudHypervisor) checkVersion() error {
	if clh.version.LT(clhMinVersion) {
		return fmt.Errorf("version %v is not supported. Minimum supported version of Cloud Hypervisor is %v",
			clh.version, clhMinVersion)
	}

	return nil
}

// getAvailableVersion asks the running VMM which release it is. The
// version string is expected in the format "v0.21.0" or with a build
// suffix such as "v0.21.0-88-g72ebcc64".
func (clh *cloudHypervisor) getAvailableVersion() error {
	cl := clh.client()
	ctx, cancel := context.WithTimeout(context.Background(), clhAPITimeout*time.Second)
	defer cancel()

	info, _, err := cl.VmmPingGet(ctx)
	if err != nil {
		return openAPIClientError(err)
	}

	version, err := semver.ParseTolerant(strings.SplitN(info.Version, "-", 2)[0])
	if err != nil {
		return fmt.Errorf("Failed to parse cloud-hypervisor version %q: %v", info.Version, err)
	}
	clh.version = version

	return nil
}

func (clh *cloudHypervisor) clhPath() (string, error) {
	p := clh.config.HypervisorPath

	if p == "" {
		p = defaultClhPath
	}

	if _, err := os.Stat(p); os.IsNotExist(err) {
		return "", fmt.Errorf("Cloud-Hypervisor path (%s) does not exist", p)
	}

	return p, nil
}

func (clh *cloudHypervisor) launchClh(timeout uint) (int, error) {
	clhPath, err := clh.clhPath()
	if err != nil {
		return -1, err
	}

	args := []string{cscAPIsocket, clh.state.apiSocket}
	if clh.config.Debug {
		// Cloud hypervisor log levels
		// 'v' occurrences increase the level
		//0 =>  Error
		//1 =>  Warn
		//2 =>  Info
		//3 =>  Debug
		//4+ => Trace
		// Use Info, a high level of logging increases the boot time
		// and in a nested environment this could increase
		// the chances to fail because agent is not
		// ready on time.
		args = append(args, "-vv")
	}

	if clh.config.DisableSeccomp {
		args = append(args, "--seccomp", "false")
	}

	clh.Logger().WithField("path", clhPath).Info()
	clh.Logger().WithField("args", strings.Join(args, " ")).Info()

	cmdHypervisor := exec.Command(clhPath, args...)
	if clh.config.Debug {
		cmdHypervisor.Env = os.Environ()
		cmdHypervisor.Env = append(cmdHypervisor.Env, "RUST_BACKTRACE=full")
	}

	if clh.config.Debug && clh.console != nil {
		cmdHypervisor.Stderr = clh.console
		cmdHypervisor.Stdout = clh.console
	} else {
		// The VMM keeps stderr open for its whole lifetime, so the
		// line forwarder doubles as the exit watcher.
		stderr, err := cmdHypervisor.StderrPipe()
		if err != nil {
			return -1, err
		}
		go clh.forwardStderr(stderr)
	}

	// The VMM has to open its sockets inside the VM network namespace,
	// so the namespace must be entered before the binary image is
	// loaded.
	if clh.netNSPath != "" {
		if err := validateNetNSPath(clh.netNSPath); err != nil {
			return -1, err
		}

		err = ns.WithNetNSPath(clh.netNSPath, func(_ ns.NetNS) error {
			return utils.StartCmd(cmdHypervisor)
		})
	} else {
		err = utils.StartCmd(cmdHypervisor)
	}

	if err != nil {
		return -1, err
	}

	if err := clh.waitVMM(timeout); err != nil {
		clh.Logger().WithError(err).Warn("cloud-hypervisor init failed")
		return -1, err
	}

	return cmdHypervisor.Process.Pid, nil
}

// forwardStderr relays the VMM standard error stream to the logger.
// The pipe only reaches EOF once the process is gone, so after the
// last line the exit channel is signaled.
func (clh *cloudHypervisor) forwardStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		clh.Logger().WithField("vmm", "cloud-hypervisor").Warn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		clh.Logger().WithError(err).Error("Failed reading cloud-hypervisor stderr")
	}

	clh.notifyExit()
}

func (clh *cloudHypervisor) notifyExit() {
	clh.exitOnce.Do(func() {
		close(clh.exitCh)
	})
}

// watchExit returns a channel that is closed when the VMM process has
// terminated. The channel is valid once CreateVM has been called.
func (clh *cloudHypervisor) watchExit() <-chan struct{} {
	return clh.exitCh
}

//###########################################################################
//
// Cloud-hypervisor CLI builder
//
//###########################################################################

const (
	cctOFF string = "Off"
	cctTTY string = "Tty"
)

const (
	cscAPIsocket string = "--api-socket"
)

//****************************************
// The kernel command line
//****************************************

func kernelParamsToString(params []Param) string {
	var paramBuilder strings.Builder
	for _, p := range params {
		paramBuilder.WriteString(p.Key)
		if len(p.Value) > 0 {
			paramBuilder.WriteString("=")
			paramBuilder.WriteString(p.Value)
		}
		paramBuilder.WriteString(" ")
	}
	return strings.TrimSpace(paramBuilder.String())
}

//****************************************
// API calls
//****************************************

func (clh *cloudHypervisor) isClhRunning(timeout uint) (bool, error) {
	pid := clh.state.PID

	// Check if clh process is running, in case it is not, let's
	// return from here.
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		return false, nil
	}

	timeStart := time.Now()
	cl := clh.client()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), clhAPITimeout*time.Second)
		defer cancel()
		_, _, err := cl.VmmPingGet(ctx)
		if err == nil {
			return true, nil
		}

		if time.Since(timeStart).Seconds() > float64(timeout) {
			return false, fmt.Errorf("Failed to connect to API (timeout %ds): %s", timeout, openAPIClientError(err))
		}

		time.Sleep(time.Duration(10) * time.Millisecond)
	}
}

func (clh *cloudHypervisor) client() clhClient {
	return clh.APIClient
}

func openAPIClientError(err error) error {
	if err == nil {
		return nil
	}

	reason := ""
	apiErr := &chclient.APIError{}
	if errors.As(err, &apiErr) {
		reason = string(apiErr.Body)
	}

	return fmt.Errorf("error: %v reason: %s", err, reason)
}

func (clh *cloudHypervisor) bootVM(ctx context.Context) error {
	cl := clh.client()

	if clh.config.Debug {
		bodyBuf, err := json.Marshal(clh.vmconfig)
		if err != nil {
			return err
		}
		clh.Logger().WithField("body", string(bodyBuf)).Debug("VM config")
	}
	_, err := cl.CreateVM(ctx, clh.vmconfig)
	if err != nil {
		return openAPIClientError(err)
	}

	info, err := clh.vmInfo()
	if err != nil {
		return err
	}

	clh.Logger().Debugf("VM state after create: %#v", info)

	if info.State != clhStateCreated {
		return fmt.Errorf("VM state is not 'Created' after 'CreateVM'")
	}

	clh.Logger().Debug("Booting VM")
	_, err = cl.BootVM(ctx)
	if err != nil {
		return openAPIClientError(err)
	}

	info, err = clh.vmInfo()
	if err != nil {
		return err
	}

	clh.Logger().Debugf("VM state after boot: %#v", info)

	if info.State != clhStateRunning {
		return fmt.Errorf("VM state is not 'Running' after 'BootVM'")
	}

	return nil
}

func (clh *cloudHypervisor) addVSock(cid int64, path string) {
	clh.Logger().WithFields(log.Fields{
		"path": path,
		"cid":  cid,
	}).Info("Adding HybridVSock")

	clh.vmconfig.Vsock = chclient.NewVsockConfig(cid, path)
}

func (clh *cloudHypervisor) addNet(dev config.NetDev) error {
	if dev.TapName == "" {
		return errors.New("TAP name is empty, a network device can not be added")
	}

	clh.Logger().WithFields(log.Fields{
		"mac": dev.MacAddress,
		"tap": dev.TapName,
	}).Info("Adding Net")

	netID := dev.ID
	net := chclient.NewNetConfig()
	net.Tap = &dev.TapName
	net.Id = &netID
	if dev.MacAddress != "" {
		net.Mac = &dev.MacAddress
	}
	if clh.vmconfig.Net != nil {
		*clh.vmconfig.Net = append(*clh.vmconfig.Net, *net)
	} else {
		clh.vmconfig.Net = &[]chclient.NetConfig{*net}
	}

	return nil
}

// Add shared Volume using virtiofs
func (clh *cloudHypervisor) addVolume(volume types.Volume) error {
	if clh.config.SharedFS != config.VirtioFS {
		return fmt.Errorf("shared fs method not supported %s", clh.config.SharedFS)
	}

	vfsdSockPath, err := clh.virtioFsSocketPath(clh.id)
	if err != nil {
		return err
	}

	// disable DAX if VirtioFSCacheSize is 0
	dax := clh.config.VirtioFSCacheSize != 0

	// numQueues and queueSize are required, let's use the
	// default values defined by cloud-hypervisor
	numQueues := int32(1)
	queueSize := int32(1024)

	fs := chclient.NewFsConfig(volume.MountTag, vfsdSockPath, numQueues, queueSize, dax, int64(clh.config.VirtioFSCacheSize<<20))
	clh.vmconfig.Fs = &[]chclient.FsConfig{*fs}

	clh.Logger().Debug("Adding share volume to hypervisor: ", volume.MountTag)
	return nil
}

// cleanupVM will remove generated files and directories related with the virtual machine
func (clh *cloudHypervisor) cleanupVM(force bool) error {
	if clh.id == "" {
		return errors.New("Hypervisor ID is empty")
	}

	clh.Logger().Debug("removing vm sockets")

	path, err := clh.vsockSocketPath(clh.id)
	if err == nil {
		if err := os.Remove(path); err != nil {
			clh.Logger().WithError(err).WithField("path", path).Warn("removing vm socket failed")
		}
	}

	// cleanup vm path
	dir := filepath.Join(clh.store.RunVMStoragePath(), clh.id)

	// If it's a symlink, remove both dir and the target.
	link, err := filepath.EvalSymlinks(dir)
	if err != nil {
		clh.Logger().WithError(err).WithField("dir", dir).Warn("failed to resolve vm path")
	}

	clh.Logger().WithFields(log.Fields{
		"link": link,
		"dir":  dir,
	}).Infof("cleanup vm path")

	if err := os.RemoveAll(dir); err != nil {
		if !force {
			return err
		}
		clh.Logger().WithError(err).Warnf("failed to remove vm path %s", dir)
	}
	if link != dir && link != "" {
		if err := os.RemoveAll(link); err != nil {
			if !force {
				return err
			}
			clh.Logger().WithError(err).WithField("link", link).Warn("failed to remove resolved vm path")
		}
	}

	clh.reset()

	return nil
}

// vmInfo ask to hypervisor for current VM status
func (clh *cloudHypervisor) vmInfo() (chclient.VmInfo, error) {
	cl := clh.client()
	ctx, cancelInfo := context.WithTimeout(context.Background(), clhAPITimeout*time.Second)
	defer cancelInfo()

	info, _, err := cl.VmInfoGet(ctx)
	if err != nil {
		clh.Logger().WithError(openAPIClientError(err)).Warn("VmInfoGet failed")
	}
	return info, openAPIClientError(err)
}

func (clh *cloudHypervisor) IsRateLimiterBuiltin() bool {
	return false
}
