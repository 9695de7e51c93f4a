// Copyright (c) 2018 Intel Corporation
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
	"github.com/containerd/fifo"
	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/go-openapi/swag"
	"github.com/opencontainers/selinux/go-selinux/label"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/pkg/hvtrace"
	hv "github.com/confidential-containers/virtsupervisor/pkg/hypervisors"
	"github.com/confidential-containers/virtsupervisor/supervisor/persist/fs"
	"github.com/confidential-containers/virtsupervisor/supervisor/pkg/fcclient"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
	"github.com/confidential-containers/virtsupervisor/supervisor/utils"
)

type vmmState uint8

const (
	notReady vmmState = iota
	cfReady
	vmReady
)

const (
	//fcTimeout is the maximum amount of time in seconds to wait for the VMM to respond
	fcTimeout = 10
	fcSocket  = "firecracker.socket"
	//Name of the files within jailer root
	//Having predefined names helps with cleanup
	fcKernel         = "vmlinux"
	fcRootfs         = "rootfs"
	fcStopVMMTimeout = 15
	// This indicates the number of block devices that can be attached to the
	// firecracker guest VM.
	// We attach a pool of placeholder drives before the guest has started, and then
	// patch the replace placeholder drives with drives with actual contents.
	fcDiskPoolSize           = 8
	defaultHybridVSocketName = "fc.hvsock"

	// This is related to firecracker logging scheme
	fcLogFifo     = "logs.fifo"
	fcMetricsFifo = "metrics.fifo"

	defaultFcConfig = "fcConfig.json"
)

// Specify the minimum version of firecracker supported
var fcMinSupportedVersion = semver.MustParse("0.21.1")

var fcKernelParams = append(commonVirtioblkKernelRootParams, []Param{
	// The boot source is the first partition of the first block device added
	{"pci", "off"},
	{"reboot", "k"},
	{"panic", "1"},
	{"iommu", "off"},
	{"net.ifnames", "0"},
	{"random.trust_cpu", "on"},

	// Firecracker doesn't support ACPI
	// Fix kernel error "ACPI BIOS Error (bug)"
	{"acpi", "off"},
}...)

func (s vmmState) String() string {
	switch s {
	case notReady:
		return "FC not ready"
	case cfReady:
		return "FC configure ready"
	case vmReady:
		return "FC VM ready"
	}

	return ""
}

// FirecrackerInfo contains information related to the hypervisor that we
// want to store on disk
type FirecrackerInfo struct {
	Version string
	PID     int
}

type firecrackerState struct {
	sync.RWMutex
	state vmmState
}

func (s *firecrackerState) set(state vmmState) {
	s.Lock()
	defer s.Unlock()

	s.state = state
}

// firecracker is an Hypervisor interface implementation for the firecracker VMM.
type firecracker struct {
	console console.Console
	ctx     context.Context

	pendingDevices []firecrackerDevice // Devices to be added before the FC VM ready

	firecrackerd *exec.Cmd             //Tracks the firecracker process itself
	fcConfig     *fcclient.FcConfig    // Parameters configured before VM starts
	connection   *fcclient.Firecracker //Tracks the current active connection

	id            string //Unique ID per VM. Normally maps to the sandbox id
	vmPath        string //All jailed VM assets need to be under this
	chrootBaseDir string //chroot base for the jailer
	jailerRoot    string
	socketPath    string
	netNSPath     string
	uid           string //UID and GID to be used for the VMM
	gid           string
	fcConfigPath  string

	info   FirecrackerInfo
	config HypervisorConfig

	// The exit channel is closed by the log forwarder once the VMM log
	// stream goes away, which only happens when the process is gone.
	exitCh   chan struct{}
	exitOnce sync.Once

	state  firecrackerState
	jailed bool //Set to true if jailer is enabled
}

type firecrackerDevice struct {
	dev     interface{}
	devType DeviceType
}

// tracingTags defines tags for the trace span
func (fc *firecracker) tracingTags() map[string]string {
	return map[string]string{
		"source":    "virtsupervisor",
		"package":   "supervisor",
		"subsystem": "hypervisor",
		"type":      "firecracker",
		"vm_id":     fc.id,
	}
}

// Logger returns a logrus logger appropriate for logging firecracker messages
func (fc *firecracker) Logger() *logrus.Entry {
	return hvLogger.WithField("subsystem", "firecracker")
}

//At some cases, when sandbox id is too long, it will incur error of overlong
//firecracker API unix socket(fc.socketPath).
//In Linux, sun_path could maximumly contains 108 bytes in size.
//(http://man7.org/linux/man-pages/man7/unix.7.html)
func (fc *firecracker) truncateID(id string) string {
	if len(id) > 32 {
		//truncate the id to only leave the size of UUID(128bit).
		return id[:32]
	}

	return id
}

func (fc *firecracker) setConfig(config *HypervisorConfig) error {
	if err := config.Valid(); err != nil {
		return err
	}

	fc.config = *config

	return nil
}

// CreateVM For firecracker this call only sets the internal structure up.
// The VM will be created and started through StartVM().
func (fc *firecracker) CreateVM(ctx context.Context, id string, network NetworkNamespace, hypervisorConfig *HypervisorConfig) error {
	fc.ctx = ctx

	span, _ := hvtrace.Trace(ctx, fc.Logger(), "CreateVM", fc.tracingTags())
	defer span.End()

	if err := fc.setConfig(hypervisorConfig); err != nil {
		return err
	}

	fc.id = fc.truncateID(id)
	fc.state.set(notReady)
	fc.exitCh = make(chan struct{})

	fc.setPaths(&fc.config)

	// So we need to repopulate this at StartVM where it is valid
	fc.netNSPath = network.NetNsPath

	// Till we create lower privileged user, run as root
	fc.uid = "0"
	fc.gid = "0"

	fc.fcConfig = &fcclient.FcConfig{}
	return nil
}

func (fc *firecracker) setPaths(hypervisorConfig *HypervisorConfig) {
	// When running with jailer all resources need to be under
	// a specific location and that location needs to have
	// exec permission (i.e. should not be mounted noexec, e.g. /run, /var/run)
	// Also unix domain socket names have a hard limit
	// #define UNIX_PATH_MAX   108
	// Keep it short and live within the jailer expected paths
	// <chroot_base>/<exec_file_name>/<id>/
	// Also jailer based on the id implicitly sets up cgroups under
	// <cgroups_base>/<exec_file_name>/<id>/
	hypervisorName := filepath.Base(hypervisorConfig.HypervisorPath)
	//fs.RunStoragePath cannot be used as we need exec perms
	fc.chrootBaseDir = filepath.Join("/run", fs.StoragePathSuffix)

	fc.vmPath = filepath.Join(fc.chrootBaseDir, hypervisorName, fc.id)
	fc.jailerRoot = filepath.Join(fc.vmPath, "root") // auto created by jailer

	// Firecracker and jailer automatically creates default API socket under /run
	// with the name of "firecracker.socket"
	fc.socketPath = filepath.Join(fc.jailerRoot, "run", fcSocket)

	fc.fcConfigPath = filepath.Join(fc.vmPath, defaultFcConfig)
}

func (fc *firecracker) newFireClient(ctx context.Context) *fcclient.Firecracker {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "newFireClient", fc.tracingTags())
	defer span.End()

	cfg := fcclient.NewConfiguration()
	cfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, path string) (net.Conn, error) {
				addr, err := net.ResolveUnixAddr("unix", fc.socketPath)
				if err != nil {
					return nil, err
				}

				return net.DialUnix("unix", nil, addr)
			},
		},
	}

	return fcclient.NewHTTPClient(cfg)
}

func (fc *firecracker) vmRunning(ctx context.Context) bool {
	resp, err := fc.client(ctx).Operations.DescribeInstance(ctx)
	if err != nil {
		fc.Logger().WithError(err).Error("getting vm status failed")
		return false
	}
	// The current state of the Firecracker instance (swagger:model InstanceInfo)
	return resp.Started != nil && *resp.Started
}

func (fc *firecracker) getVersionNumber() (string, error) {
	args := []string{"--version"}
	checkCMD := exec.Command(fc.config.HypervisorPath, args...)

	data, err := checkCMD.Output()
	if err != nil {
		return "", fmt.Errorf("Running checking FC version command failed: %v", err)
	}

	return fc.parseVersion(string(data))
}

func (fc *firecracker) parseVersion(data string) (string, error) {
	// Firecracker versions 0.25 and over contains multiline output on "version" command.
	// So we have to Check it and use first line of output to parse version.
	lines := strings.Split(data, "\n")

	var version string
	fields := strings.Split(lines[0], " ")
	if len(fields) > 1 {
		// The output format of `firecracker --version` is as follows
		// Firecracker v0.23.1
		version = strings.TrimPrefix(strings.TrimSpace(fields[1]), "v")
		return version, nil
	}

	return "", errors.New("getting FC version failed, the output is malformed")
}

func (fc *firecracker) checkVersion(version string) error {
	v, err := semver.Make(version)
	if err != nil {
		return fmt.Errorf("Malformed firecracker version: %v", err)
	}

	if v.LT(fcMinSupportedVersion) {
		return fmt.Errorf("version %v is not supported. Minimum supported version of firecracker is %v", v.String(), fcMinSupportedVersion.String())
	}

	return nil
}

// waitVMMRunning will wait for timeout seconds for the VMM to be up and running.
func (fc *firecracker) waitVMMRunning(ctx context.Context, timeout int) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "waitVMMRunning", fc.tracingTags())
	defer span.End()

	if timeout < 0 {
		return fmt.Errorf("Invalid timeout %ds", timeout)
	}

	timeStart := time.Now()
	deadline := time.Duration(timeout) * time.Second

	// The API socket shows up once the VMM starts listening. Watch for
	// it instead of hammering the API while there is nothing to talk to.
	if err := utils.WaitForFileCreation(ctx, fc.socketPath, deadline); err != nil {
		return fmt.Errorf("Failed to connect to firecracker instance (timeout %ds): %w", timeout, err)
	}

	for {
		if fc.vmRunning(ctx) {
			return nil
		}

		if time.Since(timeStart) > deadline {
			return fmt.Errorf("Failed to connect to firecracker instance (timeout %ds)", timeout)
		}

		time.Sleep(time.Duration(10) * time.Millisecond)
	}
}

func (fc *firecracker) fcInit(ctx context.Context, timeout int) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcInit", fc.tracingTags())
	defer span.End()

	var err error
	//FC version set and check
	if fc.info.Version, err = fc.getVersionNumber(); err != nil {
		return err
	}

	if err := fc.checkVersion(fc.info.Version); err != nil {
		return err
	}

	var cmd *exec.Cmd
	var args []string

	if fc.fcConfigPath, err = fc.fcJailResource(fc.fcConfigPath, defaultFcConfig); err != nil {
		return err
	}

	//https://github.com/firecracker-microvm/firecracker/blob/master/docs/jailer.md#jailer-usage
	if fc.jailed {
		jailedArgs := []string{
			"--id", fc.id,
			"--node", "0", //FIXME: Comprehend NUMA topology or explicit ignore
			"--exec-file", fc.config.HypervisorPath,
			"--uid", fc.uid,
			"--gid", fc.gid,
			"--chroot-base-dir", fc.chrootBaseDir,
			"--daemonize",
		}
		args = append(args, jailedArgs...)
		// The jailer enters the network namespace before it execs the
		// VMM, so the sockets the VMM opens all live inside the VM
		// network namespace.
		if fc.netNSPath != "" {
			args = append(args, "--netns", fc.netNSPath)
		}
		args = append(args, "--", "--config-file", fc.fcConfigPath)

		cmd = exec.Command(fc.config.JailerPath, args...)
	} else {
		args = append(args,
			"--api-sock", fc.socketPath,
			"--config-file", fc.fcConfigPath)
		cmd = exec.Command(fc.config.HypervisorPath, args...)
	}

	if fc.config.Debug {
		cmd.Stderr = fc.console
		cmd.Stdout = fc.console
	} else if !fc.jailed {
		// A foreground VMM keeps stderr open for its whole lifetime.
		// A jailed VMM daemonizes and closes stderr right away, its
		// exit is watched through the log fifo instead.
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return err
		}
		go fc.forwardStderr(stderr)
	}

	fc.Logger().WithField("hypervisor args", args).Debug()
	fc.Logger().WithField("hypervisor cmd", cmd).Debug()

	fc.Logger().Info("Starting VM")
	if !fc.jailed && fc.netNSPath != "" {
		if err := validateNetNSPath(fc.netNSPath); err != nil {
			return err
		}

		// The VMM has to open its sockets inside the VM network
		// namespace, so the namespace must be entered before the
		// binary image is loaded.
		err = ns.WithNetNSPath(fc.netNSPath, func(netns ns.NetNS) error {
			return utils.StartCmd(cmd)
		})
	} else {
		err = utils.StartCmd(cmd)
	}
	if err != nil {
		fc.Logger().WithField("Error starting firecracker", err).Debug()
		return errors.Wrap(err, "failed to launch firecracker")
	}

	fc.info.PID = cmd.Process.Pid
	fc.firecrackerd = cmd
	fc.connection = fc.newFireClient(ctx)

	if err := fc.waitVMMRunning(ctx, timeout); err != nil {
		fc.Logger().WithField("fcInit failed:", err).Debug()
		return err
	}
	return nil
}

// forwardStderr relays the VMM standard error stream to the logger.
// The pipe only reaches EOF once the process is gone, so after the
// last line the exit channel is signaled.
func (fc *firecracker) forwardStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		fc.Logger().WithField("vmm", "firecracker").Warn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		fc.Logger().WithError(err).Error("Failed reading firecracker stderr")
	}

	fc.notifyExit()
}

// notifyExit closes the exit channel. Both the stderr forwarder and the
// log fifo reader call in here, whichever observes the process going
// away first wins and later calls are no-ops.
func (fc *firecracker) notifyExit() {
	fc.exitOnce.Do(func() {
		close(fc.exitCh)
	})
}

// watchExit returns a channel that is closed when the VMM process has
// terminated. The channel is valid once CreateVM has been called.
func (fc *firecracker) watchExit() <-chan struct{} {
	return fc.exitCh
}

// archFcPowerOffFunc requests a guest initiated shutdown where the
// architecture has a way to express one. Left nil everywhere else.
var archFcPowerOffFunc func(ctx context.Context, fc *firecracker) error

func (fc *firecracker) fcEnd(ctx context.Context, waitOnly bool) (err error) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcEnd", fc.tracingTags())
	defer span.End()

	fc.Logger().Info("Stopping firecracker VM")

	defer func() {
		if err != nil {
			fc.Logger().Info("fcEnd failed")
		} else {
			fc.Logger().Info("Firecracker VM stopped")
		}
	}()

	pid := fc.info.PID

	shutdownSignal := syscall.SIGTERM

	if waitOnly {
		// NOP
		shutdownSignal = syscall.Signal(0)
	} else if archFcPowerOffFunc != nil {
		if err := archFcPowerOffFunc(ctx, fc); err != nil {
			fc.Logger().WithError(err).Warn("Graceful power off failed")
		}
	}

	// Wait for the VM process to terminate
	return utils.WaitLocalProcess(pid, fcStopVMMTimeout, shutdownSignal, fc.Logger())
}

func (fc *firecracker) client(ctx context.Context) *fcclient.Firecracker {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "client", fc.tracingTags())
	defer span.End()

	if fc.connection == nil {
		fc.connection = fc.newFireClient(ctx)
	}

	return fc.connection
}

func (fc *firecracker) createJailedDrive(name string) (string, error) {
	// Don't bind mount the resource, just create a raw file
	// that can be bind-mounted later
	r := filepath.Join(fc.jailerRoot, name)
	f, err := os.Create(r)
	if err != nil {
		return "", err
	}
	f.Close()

	if fc.jailed {
		// use path relative to the jail
		r = filepath.Join("/", name)
	}

	return r, nil
}

// when running with jailer, firecracker binary will firstly be copied into fc.jailerRoot,
// and then being executed there. Therefore we need to ensure fc.jailerRoot has exec permissions.
func (fc *firecracker) fcRemountJailerRootWithExec() error {
	if err := bindMount(context.Background(), fc.jailerRoot, fc.jailerRoot, false, "shared"); err != nil {
		fc.Logger().WithField("JailerRoot", fc.jailerRoot).Errorf("bindMount failed: %v", err)
		return err
	}

	// /run is normally mounted with rw, nosuid(MS_NOSUID), relatime(MS_RELATIME), noexec(MS_NOEXEC).
	// we re-mount jailerRoot to deliberately leave out MS_NOEXEC.
	if err := remount(context.Background(), syscall.MS_NOSUID|syscall.MS_RELATIME, fc.jailerRoot); err != nil {
		fc.Logger().WithField("JailerRoot", fc.jailerRoot).Errorf("Re-mount failed: %v", err)
		return err
	}

	return nil
}

func (fc *firecracker) fcJailResource(src, dst string) (string, error) {
	if src == "" || dst == "" {
		return "", fmt.Errorf("fcJailResource: invalid jail locations: src:%v, dst:%v",
			src, dst)
	}
	jailedLocation := filepath.Join(fc.jailerRoot, dst)
	if err := bindMount(context.Background(), src, jailedLocation, false, "slave"); err != nil {
		fc.Logger().WithField("bindMount failed", err).Error()
		return "", err
	}

	if !fc.jailed {
		return jailedLocation, nil
	}

	// This is the path within the jailed root
	absPath := filepath.Join("/", dst)
	return absPath, nil
}

func (fc *firecracker) fcSetBootSource(ctx context.Context, path, params string) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcSetBootSource", fc.tracingTags())
	defer span.End()
	fc.Logger().WithFields(logrus.Fields{"kernel-path": path,
		"kernel-params": params}).Debug("fcSetBootSource")

	kernelPath, err := fc.fcJailResource(path, fcKernel)
	if err != nil {
		return err
	}

	src := &fcclient.BootSource{
		KernelImagePath: swag.String(kernelPath),
		BootArgs:        params,
	}

	fc.fcConfig.BootSource = src

	return nil
}

func (fc *firecracker) fcSetVMRootfs(ctx context.Context, path string) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcSetVMRootfs", fc.tracingTags())
	defer span.End()

	jailedRootfs, err := fc.fcJailResource(path, fcRootfs)
	if err != nil {
		return err
	}

	//Add it as a regular block device
	//This allows us to use a partitoned root block device
	// The path is within the jailed root
	drive := &fcclient.Drive{
		DriveID:      swag.String("rootfs"),
		IsReadOnly:   swag.Bool(true),
		IsRootDevice: swag.Bool(false),
		PathOnHost:   swag.String(jailedRootfs),
	}

	fc.fcConfig.Drives = append(fc.fcConfig.Drives, drive)

	return nil
}

func (fc *firecracker) fcSetVMBaseConfig(ctx context.Context, mem int64, vcpus int64, htEnabled bool) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcSetVMBaseConfig", fc.tracingTags())
	defer span.End()
	fc.Logger().WithFields(logrus.Fields{"mem": mem,
		"vcpus":     vcpus,
		"htEnabled": htEnabled}).Debug("fcSetVMBaseConfig")

	cfg := &fcclient.MachineConfiguration{
		HtEnabled:  swag.Bool(htEnabled),
		MemSizeMib: swag.Int64(mem),
		VcpuCount:  swag.Int64(vcpus),
	}

	fc.fcConfig.MachineConfig = cfg
}

func (fc *firecracker) fcSetLogger(ctx context.Context) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcSetLogger", fc.tracingTags())
	defer span.End()

	fcLogLevel := "Error"
	if fc.config.Debug {
		fcLogLevel = "Debug"
	}

	// listen to log fifo file and transfer error info. The fifo writer
	// is the VMM itself, so its end of stream means the process exited.
	jailedLogFifo, err := fc.fcListenToFifo(fcLogFifo, nil, fc.notifyExit)
	if err != nil {
		return fmt.Errorf("Failed setting log: %s", err)
	}

	fc.fcConfig.Logger = &fcclient.Logger{
		Level:   swag.String(fcLogLevel),
		LogPath: swag.String(jailedLogFifo),
	}

	return err
}

func (fc *firecracker) fcSetMetrics(ctx context.Context) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcSetMetrics", fc.tracingTags())
	defer span.End()

	// listen to metrics file and transfer error info
	jailedMetricsFifo, err := fc.fcListenToFifo(fcMetricsFifo, fc.updateMetrics, nil)
	if err != nil {
		return fmt.Errorf("Failed setting metrics: %s", err)
	}

	fc.fcConfig.Metrics = &fcclient.Metrics{
		MetricsPath: swag.String(jailedMetricsFifo),
	}

	return err
}

func (fc *firecracker) updateMetrics(line string) {
	var fm FirecrackerMetrics
	if err := json.Unmarshal([]byte(line), &fm); err != nil {
		fc.Logger().WithError(err).WithField("data", line).Error("failed to unmarshal fc metrics")
		return
	}
	updateFirecrackerMetrics(&fm)
}

type fifoConsumer func(string)

func (fc *firecracker) fcListenToFifo(fifoName string, consumer fifoConsumer, onClose func()) (string, error) {
	fcFifoPath := filepath.Join(fc.vmPath, fifoName)
	fcFifo, err := fifo.OpenFifo(context.Background(), fcFifoPath, syscall.O_CREAT|syscall.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return "", fmt.Errorf("Failed to open/create fifo file %s", err)
	}

	jailedFifoPath, err := fc.fcJailResource(fcFifoPath, fifoName)
	if err != nil {
		return "", err
	}

	go func() {
		scanner := bufio.NewScanner(fcFifo)
		for scanner.Scan() {
			if consumer != nil {
				consumer(scanner.Text())
			} else {
				fc.Logger().WithFields(logrus.Fields{
					"fifoName": fifoName,
					"contents": scanner.Text()}).Debug("read firecracker fifo")
			}
		}

		if err := scanner.Err(); err != nil {
			fc.Logger().WithError(err).Errorf("Failed reading firecracker fifo file")
		}

		if err := fcFifo.Close(); err != nil {
			fc.Logger().WithError(err).Errorf("Failed closing firecracker fifo file")
		}

		if onClose != nil {
			onClose()
		}
	}()

	return jailedFifoPath, nil
}

func (fc *firecracker) fcInitConfiguration(ctx context.Context) error {
	// Firecracker API socket(firecracker.socket) is automatically created
	// under /run dir.
	err := os.MkdirAll(filepath.Join(fc.jailerRoot, "run"), DirMode)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if err := os.RemoveAll(fc.vmPath); err != nil {
				fc.Logger().WithError(err).Error("Fail to clean up vm directory")
			}
		}
	}()

	if fc.config.JailerPath != "" {
		fc.jailed = true
		if err := fc.fcRemountJailerRootWithExec(); err != nil {
			return err
		}
	}

	fc.fcSetVMBaseConfig(ctx, int64(fc.config.MemorySize),
		int64(fc.config.NumVCPUs), false)

	kernelPath := fc.config.KernelPath

	fcParams := append([]Param{}, fcKernelParams...)
	if fc.config.Debug {
		fcParams = append(fcParams, Param{"console", "ttyS0"})
	} else {
		fcParams = append(fcParams, []Param{
			{"8250.nr_uarts", "0"},
			// Tell agent where to send the logs
			{"agent.log_vport", fmt.Sprintf("%d", vSockLogsPort)},
		}...)
	}

	kernelParams := append(fc.config.KernelParams, fcParams...)
	strParams := SerializeParams(kernelParams, "=")
	formattedParams := strings.Join(strParams, " ")
	if err := fc.fcSetBootSource(ctx, kernelPath, formattedParams); err != nil {
		return err
	}

	image := fc.config.InitrdPath
	if image == "" {
		image = fc.config.ImagePath
	}

	if err := fc.fcSetVMRootfs(ctx, image); err != nil {
		return err
	}

	if err := fc.createDiskPool(ctx); err != nil {
		return err
	}

	if err := fc.fcSetLogger(ctx); err != nil {
		return err
	}

	if err := fc.fcSetMetrics(ctx); err != nil {
		return err
	}

	fc.state.set(cfReady)
	for _, d := range fc.pendingDevices {
		if err := fc.AddDevice(ctx, d.dev, d.devType); err != nil {
			return err
		}
	}

	// register firecracker specified metrics
	registerFirecrackerMetrics()

	return nil
}

// StartVM will start the hypervisor for the given VM.
// In the context of firecracker, this will start the hypervisor,
// for configuration, but not yet start the actual virtual machine
func (fc *firecracker) StartVM(ctx context.Context, timeout int) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "StartVM", fc.tracingTags())
	defer span.End()

	if err := fc.fcInitConfiguration(ctx); err != nil {
		return err
	}

	data, errJSON := json.MarshalIndent(fc.fcConfig, "", "\t")
	if errJSON != nil {
		return errJSON
	}

	if err := os.WriteFile(fc.fcConfigPath, data, 0640); err != nil {
		return err
	}

	var err error
	defer func() {
		if err != nil {
			fc.fcEnd(ctx, false)
		}
	}()

	// This needs to be done as late as possible, since all processes
	// spawned from now on run with the SELinux label. If these processes
	// require privileged, we do not want to run them under confinement.
	if err := label.SetProcessLabel(fc.config.SELinuxProcessLabel); err != nil {
		return err
	}
	defer label.SetProcessLabel("")

	err = fc.fcInit(ctx, fcTimeout)
	if err != nil {
		return err
	}

	// make sure 'others' don't have access to this socket
	err = os.Chmod(filepath.Join(fc.jailerRoot, defaultHybridVSocketName), 0640)
	if err != nil {
		return fmt.Errorf("Could not change socket permissions: %v", err)
	}

	fc.state.set(vmReady)
	return nil
}

func fcDriveIndexToID(i int) string {
	return "drive_" + strconv.Itoa(i)
}

func (fc *firecracker) createDiskPool(ctx context.Context) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "createDiskPool", fc.tracingTags())
	defer span.End()

	for i := 0; i < fcDiskPoolSize; i++ {
		driveID := fcDriveIndexToID(i)

		// Create a temporary file as a placeholder backend for the drive
		jailedDrive, err := fc.createJailedDrive(driveID)
		if err != nil {
			return err
		}

		drive := &fcclient.Drive{
			DriveID:      swag.String(driveID),
			IsReadOnly:   swag.Bool(false),
			IsRootDevice: swag.Bool(false),
			PathOnHost:   swag.String(jailedDrive),
		}

		fc.fcConfig.Drives = append(fc.fcConfig.Drives, drive)
	}

	return nil
}

func (fc *firecracker) umountResource(jailedPath string) {
	hostPath := filepath.Join(fc.jailerRoot, jailedPath)
	fc.Logger().WithField("resource", hostPath).Debug("Unmounting resource")
	err := syscall.Unmount(hostPath, syscall.MNT_DETACH)
	if err != nil {
		fc.Logger().WithError(err).Error("Failed to umount resource")
	}
}

// cleanupJail removes all jail artifacts
func (fc *firecracker) cleanupJail(ctx context.Context) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "cleanupJail", fc.tracingTags())
	defer span.End()

	fc.umountResource(fcKernel)
	fc.umountResource(fcRootfs)
	fc.umountResource(fcLogFifo)
	fc.umountResource(fcMetricsFifo)
	fc.umountResource(defaultFcConfig)
	// if running with jailer, we also need to umount fc.jailerRoot
	if fc.config.JailerPath != "" {
		if err := syscall.Unmount(fc.jailerRoot, syscall.MNT_DETACH); err != nil {
			fc.Logger().WithField("JailerRoot", fc.jailerRoot).WithError(err).Error("Failed to umount")
		}
	}

	fc.Logger().WithField("cleaningJail", fc.vmPath).Info()
	if err := os.RemoveAll(fc.vmPath); err != nil {
		fc.Logger().WithField("cleanupJail failed", err).Error()
	}
}

// StopVM will stop the VMM process.
func (fc *firecracker) StopVM(ctx context.Context, waitOnly bool) (err error) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "StopVM", fc.tracingTags())
	defer span.End()

	return fc.fcEnd(ctx, waitOnly)
}

func (fc *firecracker) fcAddVsock(ctx context.Context, hvs types.HybridVSock) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcAddVsock", fc.tracingTags())
	defer span.End()

	udsPath := hvs.UdsPath
	if fc.jailed {
		udsPath = filepath.Join("/", defaultHybridVSocketName)
	}

	vsock := &fcclient.Vsock{
		GuestCid: swag.Int64(defaultGuestVSockCID),
		UdsPath:  swag.String(udsPath),
		VsockID:  swag.String("root"),
	}

	fc.fcConfig.Vsock = vsock
}

// fcNetInterface translates a tap device description into the API
// interface object, including the configured rate limiters.
func (fc *firecracker) fcNetInterface(dev config.NetDev) *fcclient.NetworkInterface {
	ifaceID := dev.IfaceName

	// The implementation of rate limiter is based on TBF.
	// Rate Limiter defines a token bucket with a maximum capacity (size) to store tokens, and an interval for refilling purposes (refill_time).
	// The refill-rate is derived from size and refill_time, and it is the constant rate at which the tokens replenish.
	refillTime := int64(1000)
	var rxRateLimiter fcclient.RateLimiter
	if fc.config.RxRateLimiterMaxRate > 0 {
		fc.Logger().Info("Add rx rate limiter")

		// The configured rate is in bits with scaling factors of 1000, but firecracker
		// expects bytes with scaling factors of 1024, need reversion.
		rxRateLimiter = fcclient.RateLimiter{
			Bandwidth: &fcclient.TokenBucket{
				RefillTime: swag.Int64(refillTime),
				Size:       swag.Int64(int64(revertBytes(fc.config.RxRateLimiterMaxRate / 8))),
			},
		}
	}

	var txRateLimiter fcclient.RateLimiter
	if fc.config.TxRateLimiterMaxRate > 0 {
		fc.Logger().Info("Add tx rate limiter")

		txRateLimiter = fcclient.RateLimiter{
			Bandwidth: &fcclient.TokenBucket{
				RefillTime: swag.Int64(refillTime),
				Size:       swag.Int64(int64(revertBytes(fc.config.TxRateLimiterMaxRate / 8))),
			},
		}
	}

	return &fcclient.NetworkInterface{
		AllowMmdsRequests: false,
		GuestMac:          dev.MacAddress,
		IfaceID:           swag.String(ifaceID),
		HostDevName:       swag.String(dev.TapName),
		RxRateLimiter:     &rxRateLimiter,
		TxRateLimiter:     &txRateLimiter,
	}
}

func (fc *firecracker) fcAddNetDevice(ctx context.Context, dev config.NetDev) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcAddNetDevice", fc.tracingTags())
	defer span.End()

	fc.fcConfig.NetworkInterfaces = append(fc.fcConfig.NetworkInterfaces, fc.fcNetInterface(dev))
}

func (fc *firecracker) fcAddBlockDrive(ctx context.Context, drive config.BlockDrive) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcAddBlockDrive", fc.tracingTags())
	defer span.End()

	driveID := drive.ID

	jailedDrive, err := fc.fcJailResource(drive.File, driveID)
	if err != nil {
		fc.Logger().WithField("fcAddBlockDrive failed", err).Error()
		return err
	}
	driveFc := &fcclient.Drive{
		DriveID:      swag.String(driveID),
		IsReadOnly:   swag.Bool(false),
		IsRootDevice: swag.Bool(false),
		PathOnHost:   swag.String(jailedDrive),
	}

	fc.fcConfig.Drives = append(fc.fcConfig.Drives, driveFc)

	return nil
}

// fcUpdateBlockDrive replaces the backend of one of the pool drives.
// Firecracker supports replacing the host drive used once the VM has booted up
func (fc *firecracker) fcUpdateBlockDrive(ctx context.Context, path, id string) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "fcUpdateBlockDrive", fc.tracingTags())
	defer span.End()

	// Use the global block index as an index into the pool of the devices
	// created for firecracker.
	driveFc := fcclient.PartialDrive{
		DriveID:    swag.String(id),
		PathOnHost: swag.String(path), //This is the only property that can be modified
	}

	if err := fc.client(ctx).Operations.PatchGuestDriveByID(ctx, id, driveFc); err != nil {
		return err
	}

	return nil
}

// AddDevice adds extra devices to firecracker. Limited to configure before the
// virtual machine starts. Devices include drives, vsock and network interfaces only.
func (fc *firecracker) AddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "AddDevice", fc.tracingTags())
	defer span.End()

	fc.state.RLock()
	defer fc.state.RUnlock()

	if fc.state.state == notReady {
		dev := firecrackerDevice{
			dev:     devInfo,
			devType: devType,
		}
		fc.Logger().Info("FC not ready, queueing device")
		fc.pendingDevices = append(fc.pendingDevices, dev)
		return nil
	}

	var err error
	switch v := devInfo.(type) {
	case config.NetDev:
		fc.Logger().WithField("device-type-netdev", devInfo).Info("Adding device")
		fc.fcAddNetDevice(ctx, v)
	case config.BlockDrive:
		fc.Logger().WithField("device-type-blockdrive", devInfo).Info("Adding device")
		err = fc.fcAddBlockDrive(ctx, v)
	case types.HybridVSock:
		fc.Logger().WithField("device-type-hybrid-vsock", devInfo).Info("Adding device")
		fc.fcAddVsock(ctx, v)
	default:
		fc.Logger().WithField("unknown-device-type", devInfo).Error("Adding device")
	}

	return err
}

// hotplugBlockDevice hot adds or removes a block device.
func (fc *firecracker) hotplugBlockDevice(ctx context.Context, drive *config.BlockDrive, op Operation) (interface{}, error) {
	var path string
	driveID := fcDriveIndexToID(drive.Index)

	if op == AddDevice {
		// Pool drives surface inside the guest in index order, so the
		// guest device name follows from the drive index.
		virtName, err := utils.GetVirtDriveName(drive.Index)
		if err != nil {
			return nil, err
		}
		drive.VirtPath = filepath.Join("/dev", virtName)

		//The drive placeholder has to exist prior to Update
		path, err = fc.fcJailResource(drive.File, driveID)
		if err != nil {
			fc.Logger().WithError(err).WithField("resource", drive.File).Error("Could not jail resource")
			return nil, err
		}
	} else {
		// umount the disk, it's no longer needed.
		fc.umountResource(driveID)
		// use previous raw file created at createDiskPool, that way
		// the resource is released by firecracker and it can be destroyed in the host
		path = filepath.Join(fc.jailerRoot, driveID)
	}

	if err := fc.fcUpdateBlockDrive(ctx, path, driveID); err != nil {
		return nil, err
	}

	return driveID, nil
}

// hotplugNetDevice adds a network interface to the running VM through
// the API socket. The tap device must already exist inside the VM's
// network namespace. The interface identifier the backend knows the
// device by is returned.
func (fc *firecracker) hotplugNetDevice(ctx context.Context, dev config.NetDev) (interface{}, error) {
	iface := fc.fcNetInterface(dev)
	if err := fc.client(ctx).Operations.PutGuestNetworkInterfaceByID(ctx, *iface.IfaceID, *iface); err != nil {
		return nil, err
	}

	return *iface.IfaceID, nil
}

// HotplugAddDevice attaches a device to a running VM. Block devices go
// through the patch of a pool placeholder, network interfaces through
// the interface endpoint. The identifier the backend knows the device
// by is returned.
func (fc *firecracker) HotplugAddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "HotplugAddDevice", fc.tracingTags())
	defer span.End()

	switch devType {
	case BlockDev:
		return fc.hotplugBlockDevice(ctx, devInfo.(*config.BlockDrive), AddDevice)
	case NetDev:
		return fc.hotplugNetDevice(ctx, *devInfo.(*config.NetDev))
	default:
		fc.Logger().WithFields(logrus.Fields{"devInfo": devInfo,
			"deviceType": devType}).Warn("HotplugAddDevice: unsupported device")
		return nil, fmt.Errorf("Could not hot add device: unsupported device: %v, type: %v",
			devInfo, devType)
	}
}

// HotplugRemoveDevice detaches a hotplugged block device. Network
// interfaces cannot be removed, the API has no endpoint for it.
func (fc *firecracker) HotplugRemoveDevice(ctx context.Context, devInfo interface{}, devType DeviceType) (interface{}, error) {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "HotplugRemoveDevice", fc.tracingTags())
	defer span.End()

	switch devType {
	case BlockDev:
		return fc.hotplugBlockDevice(ctx, devInfo.(*config.BlockDrive), RemoveDevice)
	default:
		fc.Logger().WithFields(logrus.Fields{"devInfo": devInfo,
			"deviceType": devType}).Error("HotplugRemoveDevice: unsupported device")
		return nil, fmt.Errorf("Could not hot remove device: unsupported device: %v, type: %v",
			devInfo, devType)
	}
}

// GetVMConsole builds the path of the console where we can read
// logs coming from the VM.
func (fc *firecracker) GetVMConsole(ctx context.Context, id string) (string, string, error) {
	master, slave, err := console.NewPty()
	if err != nil {
		fc.Logger().Debugf("Error create pseudo tty: %v", err)
		return consoleProtoPty, "", err
	}
	fc.console = master

	return consoleProtoPty, slave, nil
}

func (fc *firecracker) Disconnect(ctx context.Context) {
	fc.state.set(notReady)
}

// Capabilities returns all capabilities supported by the firecracker
// implementation of the Hypervisor interface.
func (fc *firecracker) Capabilities(ctx context.Context) types.Capabilities {
	span, _ := hvtrace.Trace(ctx, fc.Logger(), "Capabilities", fc.tracingTags())
	defer span.End()
	var caps types.Capabilities
	caps.SetBlockDeviceHotplugSupport()
	caps.SetNetDeviceHotplugSupport()

	return caps
}

func (fc *firecracker) HypervisorConfig() HypervisorConfig {
	return fc.config
}

// ResizeMemory is not supported by the firecracker VMM once the guest
// has booted. The request is not an error, the current memory size is
// reported back so the caller learns nothing changed.
func (fc *firecracker) ResizeMemory(ctx context.Context, reqMemMB uint32, memoryBlockSizeMB uint32, probe bool) (uint32, MemoryDevice, error) {
	fc.Logger().WithField("reqMemMB", reqMemMB).Warn("firecracker does not support memory resize, ignoring the request")
	return fc.config.MemorySize, MemoryDevice{}, nil
}

// ResizeVCPUs is not supported by the firecracker VMM, the current
// number of vCPUs is reported back.
func (fc *firecracker) ResizeVCPUs(ctx context.Context, reqVCPUs uint32) (uint32, uint32, error) {
	fc.Logger().WithField("reqVCPUs", reqVCPUs).Warn("firecracker does not support vCPU resize, ignoring the request")
	return fc.config.NumVCPUs, fc.config.NumVCPUs, nil
}

// GetThreadIDs is used to apply cgroup information on the host.
//
// As suggested by https://github.com/firecracker-microvm/firecracker/issues/718,
// let's use `ps -T -p <pid>` to get fc vcpu info.
func (fc *firecracker) GetThreadIDs(ctx context.Context) (VcpuThreadIDs, error) {
	var vcpuInfo VcpuThreadIDs

	vcpuInfo.vcpus = make(map[int]int)
	parent, err := utils.NewProc(fc.info.PID)
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
			return vcpuInfo, errors.New("Invalid fc thread info")
		}
		if !strings.HasPrefix(comm, "fc_vcpu") {
			continue
		}
		cpus := strings.SplitAfter(comm, "fc_vcpu")
		if len(cpus) != 2 {
			return vcpuInfo, errors.Errorf("Invalid fc thread info: %v", comm)
		}
		cpuID, err := strconv.ParseInt(cpus[1], 10, 32)
		if err != nil {
			return vcpuInfo, errors.Wrapf(err, "Invalid fc thread info: %v", comm)
		}
		vcpuInfo.vcpus[int(cpuID)] = child.PID
	}

	return vcpuInfo, nil
}

func (fc *firecracker) Cleanup(ctx context.Context) error {
	fc.cleanupJail(ctx)
	return nil
}

func (fc *firecracker) GetPids() []int {
	return []int{fc.info.PID}
}

func (fc *firecracker) GetVirtioFsPid() *int {
	return nil
}

func (fc *firecracker) Save() (s hv.HypervisorState) {
	s.Type = string(FirecrackerHypervisor)
	s.ID = fc.id
	s.Pid = fc.info.PID
	s.JailRoot = fc.jailerRoot
	s.NetNSPath = fc.netNSPath
	return
}

func (fc *firecracker) Load(s hv.HypervisorState) {
	fc.id = s.ID
	fc.info.PID = s.Pid
	fc.netNSPath = s.NetNSPath

	if s.JailRoot == "" {
		return
	}

	// The API socket lives inside the jail, so knowing the jail root is
	// enough to talk to the VMM again.
	fc.jailerRoot = s.JailRoot
	fc.vmPath = filepath.Dir(s.JailRoot)
	fc.socketPath = filepath.Join(s.JailRoot, "run", fcSocket)
}

func (fc *firecracker) Check() error {
	if err := syscall.Kill(fc.info.PID, syscall.Signal(0)); err != nil {
		return errors.Wrapf(err, "failed to ping fc process")
	}

	return nil
}

func (fc *firecracker) GenerateSocket(id string) (interface{}, error) {
	fc.Logger().Debug("Using hybrid-vsock endpoint")

	// Method is being run outside of the normal VM lifecycle
	if fc.jailerRoot == "" {
		fc.id = fc.truncateID(id)
		fc.setPaths(&fc.config)
	}

	return types.HybridVSock{
		UdsPath: filepath.Join(fc.jailerRoot, defaultHybridVSocketName),
		Port:    uint32(vSockPort),
	}, nil
}

func (fc *firecracker) IsRateLimiterBuiltin() bool {
	return true
}

// In firecracker, it accepts the size of rate limiter in scaling factors of 2^10(1024)
// But the configured rate limiter is, for better Human-readability, in scaling factors of 10^3(1000).
// func revertBytes reverts num from scaling factors of 1000 to 1024, e.g. 10000000(10MB) to 10485760.
func revertBytes(num uint64) uint64 {
	a := num / 1000
	b := num % 1000
	if a == 0 {
		return num
	}
	return 1024*revertBytes(a) + b
}
