// Copyright (c) 2018 HyperHQ Inc.
// Copyright (c) 2023 Confidential Containers Community
//
// SPDX-License-Identifier: Apache-2.0
//

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"

	"github.com/confidential-containers/virtsupervisor/pkg/device/config"
	"github.com/confidential-containers/virtsupervisor/pkg/hvtrace"
	"github.com/confidential-containers/virtsupervisor/pkg/resourcecontrol"
	"github.com/confidential-containers/virtsupervisor/supervisor/persist"
	persistapi "github.com/confidential-containers/virtsupervisor/supervisor/persist/api"
	"github.com/confidential-containers/virtsupervisor/supervisor/types"
)

// healthCheckInterval is how often a re-armed controller asks the
// backend whether the VM is still there.
const healthCheckInterval = 1 * time.Second

// ControllerConfig is a collection of all the info a new VM controller
// needs.
type ControllerConfig struct {
	// ID is the sandbox identifier. It names the VM towards the
	// backend and the on-disk record the VM persists under. When
	// left empty a random one is generated at controller creation.
	ID string

	HypervisorType   HypervisorType
	HypervisorConfig HypervisorConfig
}

// Valid checks ControllerConfig validity.
func (c *ControllerConfig) Valid() error {
	if c.ID == "" {
		return &ConfigError{Err: errors.New("empty sandbox id")}
	}

	if err := c.HypervisorConfig.Valid(); err != nil {
		return &ConfigError{Err: err}
	}

	return nil
}

// PendingDevice is one device requested by the sandbox manager,
// tagged with the driver-specific configuration the backend expects.
type PendingDevice struct {
	DevInfo interface{}
	DevType DeviceType
}

// normalize returns the device in the pointer form the backend drivers
// type-assert on, together with the caller-assigned logical id.
func (d PendingDevice) normalize() (PendingDevice, string, error) {
	var id string

	switch d.DevType {
	case BlockDev:
		switch v := d.DevInfo.(type) {
		case *config.BlockDrive:
			id = v.ID
		case config.BlockDrive:
			id = v.ID
			d.DevInfo = &v
		default:
			return d, "", fmt.Errorf("device configuration %T does not describe a block device", d.DevInfo)
		}
	case NetDev:
		switch v := d.DevInfo.(type) {
		case *config.NetDev:
			id = v.ID
		case config.NetDev:
			id = v.ID
			d.DevInfo = &v
		default:
			return d, "", fmt.Errorf("device configuration %T does not describe a network device", d.DevInfo)
		}
	case VfioDev:
		switch v := d.DevInfo.(type) {
		case *config.VFIODev:
			id = v.ID
		case config.VFIODev:
			id = v.ID
			d.DevInfo = &v
		default:
			return d, "", fmt.Errorf("device configuration %T does not describe a VFIO device", d.DevInfo)
		}
	case VSockPCIDev, HybridVirtioVsockDev:
		return d, "", errors.New("the agent vsock is provisioned with the VM and cannot be requested")
	default:
		return d, "", fmt.Errorf("device type %v cannot be hot-added", d.DevType)
	}

	if id == "" {
		return d, "", errors.New("device carries no id")
	}

	return d, id, nil
}

// queuedDevice pairs a normalized pending device with its logical id.
type queuedDevice struct {
	dev PendingDevice
	id  string
}

type attachedDevice struct {
	backendID string
	devType   DeviceType
	devInfo   interface{}
}

// DeviceIDMap translates the caller-assigned logical id of an attached
// device to the id the backend reported on attach. Process-based VMMs
// assign their own internal names, so removal has to translate back.
// Entries keep attachment order.
type DeviceIDMap struct {
	entries map[string]*attachedDevice
	order   []string
}

func newDeviceIDMap() *DeviceIDMap {
	return &DeviceIDMap{entries: make(map[string]*attachedDevice)}
}

func (m *DeviceIDMap) add(id, backendID string, devType DeviceType, devInfo interface{}) {
	if _, ok := m.entries[id]; !ok {
		m.order = append(m.order, id)
	}
	m.entries[id] = &attachedDevice{
		backendID: backendID,
		devType:   devType,
		devInfo:   devInfo,
	}
}

func (m *DeviceIDMap) remove(id string) {
	if _, ok := m.entries[id]; !ok {
		return
	}
	delete(m.entries, id)
	for i, known := range m.order {
		if known == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// BackendID returns the backend-assigned id for a logical device id.
func (m *DeviceIDMap) BackendID(id string) (string, bool) {
	dev, ok := m.entries[id]
	if !ok {
		return "", false
	}
	return dev.backendID, true
}

// IDs returns the logical device ids in attachment order.
func (m *DeviceIDMap) IDs() []string {
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids
}

// Len returns the number of attached devices.
func (m *DeviceIDMap) Len() int {
	return len(m.order)
}

// LifecycleController owns one sandbox's VM from creation to teardown
// and is the only component that moves its lifecycle state. The
// sandbox manager holds one controller per sandbox and serializes the
// calls on it; the internal lock only keeps Save consistent against a
// Start or Stop already in flight.
type LifecycleController struct {
	id             string
	hypervisorType HypervisorType
	hypervisor     Hypervisor
	config         HypervisorConfig
	store          persistapi.PersistDriver
	protection     guestProtection

	mu      sync.Mutex
	state   types.VmmState
	pending []queuedDevice
	devices *DeviceIDMap
	booted  bool

	cgroup     resourcecontrol.ResourceController
	cgroupPath string

	memoryBlockSizeMB  uint32
	memoryHotplugProbe bool

	// restored marks a controller rebuilt around a VM that an earlier
	// process booted. It re-enters NotReady purely as handoff
	// bookkeeping and must be re-armed, never started.
	restored      bool
	restoredState types.VmmState

	stopping   atomic.Bool
	shutdownCh chan struct{}
	exitCh     chan struct{}
	exitOnce   sync.Once
	exitTaken  bool
}

func (lc *LifecycleController) Logger() *logrus.Entry {
	return hvLogger.WithFields(logrus.Fields{
		"subsystem": "controller",
		"sandbox":   lc.id,
	})
}

func (lc *LifecycleController) tracingTags() map[string]string {
	return map[string]string{
		"source":    "virtsupervisor",
		"package":   "supervisor",
		"subsystem": "controller",
		"vm_id":     lc.id,
	}
}

// NewLifecycleController validates the configuration and prepares a
// NotReady controller with an empty device queue. When the
// configuration asks for a confidential guest, the host protection
// capability is probed here, once, and kept for the VM's lifetime.
// Nothing is spawned until Start.
func NewLifecycleController(ctx context.Context, controllerConfig ControllerConfig) (*LifecycleController, error) {
	if controllerConfig.ID == "" {
		controllerConfig.ID = "vm-" + uuid.New().String()[:8]
	}

	if err := controllerConfig.Valid(); err != nil {
		return nil, err
	}

	hypervisor, err := NewHypervisor(controllerConfig.HypervisorType)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	lc := &LifecycleController{
		id:             controllerConfig.ID,
		hypervisorType: controllerConfig.HypervisorType,
		hypervisor:     hypervisor,
		config:         controllerConfig.HypervisorConfig,
		state:          types.StateNotReady,
		devices:        newDeviceIDMap(),
		exitCh:         make(chan struct{}),
	}

	lc.Logger().WithField("hypervisor", controllerConfig.HypervisorType).Info("create new VM controller")

	if lc.config.ConfidentialGuest {
		protection, err := AvailableGuestProtection()
		if err != nil {
			return nil, err
		}
		if protection == noneProtection {
			return nil, &ConfigError{Err: errors.New("confidential guest requested but the host offers no guest protection")}
		}

		lc.protection = protection
		lc.Logger().WithField("protection", protection).Info("guest protection negotiated")
		lc.logLaunchDigest()
	}

	store, err := persist.GetDriver()
	if err != nil {
		return nil, err
	}
	lc.store = store

	return lc, nil
}

// QueueDevice stages a device while the VM has not booted yet. Queued
// devices are hot-added in FIFO order right after boot, so callers
// queue dependent devices in dependency order. On a Running VM the
// device is hot-added immediately instead, provided the backend
// supports hot-add for its kind; the backend id lands in the device
// id map either way.
func (lc *LifecycleController) QueueDevice(ctx context.Context, dev PendingDevice) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	dev, id, err := dev.normalize()
	if err != nil {
		return err
	}

	if _, ok := lc.devices.BackendID(id); ok {
		return fmt.Errorf("device %s is already attached", id)
	}
	for _, queued := range lc.pending {
		if queued.id == id {
			return fmt.Errorf("device %s is already queued", id)
		}
	}

	switch lc.state {
	case types.StateNotReady:
		if lc.restored {
			// The guest actually runs, no boot is ahead and nothing
			// will ever drain the queue.
			return &InvalidStateError{Op: "queue device", State: lc.state}
		}
		lc.pending = append(lc.pending, queuedDevice{dev: dev, id: id})
		lc.Logger().WithField("device-id", id).Debug("device queued")
		return nil
	case types.StateRunning:
		if !lc.hotplugSupported(ctx, dev.DevType) {
			return &InvalidStateError{Op: "hot-add device", State: lc.state}
		}
		_, err := lc.attachLocked(ctx, dev, id)
		return err
	default:
		return &InvalidStateError{Op: "queue device", State: lc.state}
	}
}

// AddDevice hot-adds a device to a Running VM and returns the id the
// backend assigned. Unlike QueueDevice nothing is ever staged: on a VM
// that is not running the call fails.
func (lc *LifecycleController) AddDevice(ctx context.Context, dev PendingDevice) (string, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	dev, id, err := dev.normalize()
	if err != nil {
		return "", err
	}

	if lc.state != types.StateRunning {
		return "", &InvalidStateError{Op: "hot-add device", State: lc.state}
	}
	if !lc.hotplugSupported(ctx, dev.DevType) {
		return "", &InvalidStateError{Op: "hot-add device", State: lc.state}
	}

	if _, ok := lc.devices.BackendID(id); ok {
		return "", fmt.Errorf("device %s is already attached", id)
	}
	for _, queued := range lc.pending {
		if queued.id == id {
			return "", fmt.Errorf("device %s is already queued", id)
		}
	}

	return lc.attachLocked(ctx, dev, id)
}

func (lc *LifecycleController) hotplugSupported(ctx context.Context, devType DeviceType) bool {
	caps := lc.hypervisor.Capabilities(ctx)

	switch devType {
	case BlockDev:
		return caps.IsBlockDeviceHotplugSupported()
	case NetDev:
		return caps.IsNetDeviceHotplugSupported()
	case VfioDev:
		// No capability bit exists for VFIO. The drivers themselves
		// reject what their VMM cannot take.
		return true
	}

	return false
}

// attachLocked issues one hotplug call and records the id the backend
// assigned. Callers hold lc.mu.
func (lc *LifecycleController) attachLocked(ctx context.Context, dev PendingDevice, id string) (string, error) {
	raw, err := lc.hypervisor.HotplugAddDevice(ctx, dev.DevInfo, dev.DevType)
	if err != nil {
		return "", err
	}

	backendID := backendDeviceID(raw, id)
	lc.devices.add(id, backendID, dev.DevType, dev.DevInfo)

	lc.Logger().WithFields(logrus.Fields{
		"device-id":  id,
		"backend-id": backendID,
	}).Info("device attached")

	return backendID, nil
}

// backendDeviceID coerces the backend's hotplug return value into its
// id string. Backends report plain strings; anything else falls back
// to the logical id.
func backendDeviceID(raw interface{}, fallback string) string {
	switch v := raw.(type) {
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		return v.String()
	}
	return fallback
}

// Start boots the VM inside the given network namespace, then drains
// the device queue with one hotplug call per entry, FIFO. A boot
// failure leaves the controller NotReady, the caller may retry or
// abandon it. A drain failure leaves the VM Running with the devices
// attached so far; the error names them and the caller owns their
// cleanup, nothing is rolled back.
func (lc *LifecycleController) Start(ctx context.Context, netnsPath string) error {
	span, ctx := hvtrace.Trace(ctx, lc.Logger(), "Start", lc.tracingTags())
	defer span.End()

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.restored {
		return &InvalidStateError{Op: "start", State: lc.state}
	}
	if err := lc.state.ValidTransition(types.StateNotReady, types.StateRunning); err != nil {
		return &InvalidStateError{Op: "start", State: lc.state}
	}

	if err := lc.hypervisor.CreateVM(ctx, lc.id, NetworkNamespace{NetNsPath: netnsPath}, &lc.config); err != nil {
		return &StartFailedError{Backend: lc.hypervisorType, Err: err}
	}

	if err := lc.addAgentSocket(ctx); err != nil {
		return &StartFailedError{Backend: lc.hypervisorType, Err: err}
	}

	if err := lc.hypervisor.StartVM(ctx, int(lc.config.VMStartTimeoutSecs)); err != nil {
		if stopErr := lc.hypervisor.StopVM(ctx, false); stopErr != nil {
			lc.Logger().WithError(stopErr).Warn("could not clean up after failed boot")
		}
		return &StartFailedError{Backend: lc.hypervisorType, Err: err}
	}
	lc.booted = true

	if lc.config.SandboxCgroupPath != "" {
		if err := lc.setupCgroup(ctx); err != nil {
			if stopErr := lc.hypervisor.StopVM(ctx, false); stopErr != nil {
				lc.Logger().WithError(stopErr).Warn("could not clean up after cgroup failure")
			}
			lc.booted = false
			return &StartFailedError{Backend: lc.hypervisorType, Err: err}
		}
	}

	lc.state = types.StateRunning
	lc.shutdownCh = make(chan struct{})
	go lc.relayExit()

	if err := lc.drainQueueLocked(ctx); err != nil {
		return err
	}

	lc.Logger().Info("VM started")
	return nil
}

// addAgentSocket gives the guest its agent channel before boot. The
// socket flavor is whatever the backend generates, a hybrid vsock
// unix path or a vhost-vsock context id.
func (lc *LifecycleController) addAgentSocket(ctx context.Context) error {
	sock, err := lc.hypervisor.GenerateSocket(lc.id)
	if err != nil {
		return err
	}

	switch s := sock.(type) {
	case types.VSock:
		return lc.hypervisor.AddDevice(ctx, s, VSockPCIDev)
	case types.HybridVSock:
		return lc.hypervisor.AddDevice(ctx, s, HybridVirtioVsockDev)
	case types.MockHybridVSock:
		return nil
	}

	return fmt.Errorf("unknown agent socket type %T", sock)
}

// setupCgroup places the VMM process and its vCPU threads into the
// configured sandbox cgroup.
func (lc *LifecycleController) setupCgroup(ctx context.Context) error {
	cgroup, err := resourcecontrol.NewSandboxResourceController(lc.config.SandboxCgroupPath, &specs.LinuxResources{}, true)
	if err != nil {
		return err
	}

	for _, pid := range lc.hypervisor.GetPids() {
		if pid <= 0 {
			continue
		}
		if err := cgroup.AddProcess(pid); err != nil {
			return err
		}
	}

	tids, err := lc.hypervisor.GetThreadIDs(ctx)
	if err != nil {
		return err
	}
	for _, tid := range tids.vcpus {
		if err := cgroup.AddThread(tid); err != nil {
			return err
		}
	}

	lc.cgroup = cgroup
	lc.cgroupPath = cgroup.ID()
	return nil
}

// drainQueueLocked hot-adds every queued device in FIFO order. The
// first failure stops the drain; the failed entry and everything
// behind it stay queued. Callers hold lc.mu.
func (lc *LifecycleController) drainQueueLocked(ctx context.Context) error {
	for len(lc.pending) > 0 {
		entry := lc.pending[0]

		if _, err := lc.attachLocked(ctx, entry.dev, entry.id); err != nil {
			return &HotplugError{
				Failed:   entry.id,
				Attached: lc.devices.IDs(),
				Err:      err,
			}
		}

		lc.pending = lc.pending[1:]
	}

	lc.pending = nil
	return nil
}

// relayExit forwards the backend's exit signal to the notifier unless
// the controller itself is tearing the VM down.
func (lc *LifecycleController) relayExit() {
	select {
	case <-lc.shutdownCh:
	case <-lc.hypervisor.watchExit():
		if !lc.stopping.Load() {
			lc.Logger().Warn("VMM exited unexpectedly")
			lc.notifyExit()
		}
	}
}

func (lc *LifecycleController) notifyExit() {
	lc.exitOnce.Do(func() {
		close(lc.exitCh)
	})
}

// ExitNotify hands out the exit notification channel. The channel is
// closed at most once, when the backend dies without Stop having been
// called, and carries no payload; callers consult Check to learn
// more. There is a single channel per controller lifetime.
func (lc *LifecycleController) ExitNotify() (<-chan struct{}, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.exitTaken {
		return nil, errors.New("exit notifier already claimed")
	}
	lc.exitTaken = true

	return lc.exitCh, nil
}

// Save snapshots the controller into its persisted record and writes
// it through the persist driver. Valid in any state.
func (lc *LifecycleController) Save() (persistapi.VMState, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	state := lc.dumpLocked()
	if err := lc.store.ToDisk(state); err != nil {
		return persistapi.VMState{}, err
	}

	return state, nil
}

// RestoreLifecycleController rebuilds a controller around a VM that an
// earlier process booted and left running. No process is spawned and
// the guest is untouched. The controller re-enters NotReady purely as
// handoff bookkeeping; the caller is expected to arm the exit
// notifier next.
func RestoreLifecycleController(ctx context.Context, state persistapi.VMState) (*LifecycleController, error) {
	if state.PersistVersion > persistapi.CurrentPersistVersion {
		return nil, fmt.Errorf("VM record version %d is newer than the supported %d",
			state.PersistVersion, persistapi.CurrentPersistVersion)
	}
	if state.ID == "" {
		return nil, &ConfigError{Err: errors.New("VM record carries no sandbox id")}
	}

	hypervisorType := HypervisorType(state.HypervisorState.Type)
	hypervisor, err := NewHypervisor(hypervisorType)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	hypervisorConfig := loadHypervisorConfig(state.Config)
	if err := hypervisor.setConfig(&hypervisorConfig); err != nil {
		return nil, &ConfigError{Err: err}
	}
	hypervisor.Load(state.HypervisorState)

	store, err := persist.GetDriver()
	if err != nil {
		return nil, err
	}

	lc := &LifecycleController{
		id:                 state.ID,
		hypervisorType:     hypervisorType,
		hypervisor:         hypervisor,
		config:             hypervisorConfig,
		store:              store,
		protection:         guestProtectionFromName(state.HypervisorState.GuestProtection),
		state:              types.StateNotReady,
		devices:            loadDeviceIDMap(state.Devices),
		booted:             true,
		cgroupPath:         state.CgroupPath,
		memoryBlockSizeMB:  state.GuestMemoryBlockSizeMB,
		memoryHotplugProbe: state.GuestMemoryHotplugProbe,
		restored:           true,
		restoredState:      types.VmmState(state.State),
		exitCh:             make(chan struct{}),
	}

	if state.CgroupPath != "" {
		cgroup, err := resourcecontrol.LoadResourceController(state.CgroupPath)
		if err != nil {
			lc.Logger().WithError(err).Warn("could not reload the sandbox cgroup")
		} else {
			lc.cgroup = cgroup
		}
	}

	lc.Logger().WithField("hypervisor", hypervisorType).Info("restored VM controller")
	return lc, nil
}

// ArmExitNotifier re-establishes liveness supervision after a restore.
// The VMM is not our child process anymore, so supervision is a
// periodic status query instead of a pipe. On success the controller
// leaves its handoff NotReady and reports Running again.
func (lc *LifecycleController) ArmExitNotifier() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if !lc.restored || lc.state != types.StateNotReady {
		return &InvalidStateError{Op: "arm exit notifier", State: lc.state}
	}

	if err := lc.hypervisor.Check(); err != nil {
		return fmt.Errorf("backend is gone: %w", err)
	}

	lc.shutdownCh = make(chan struct{})
	go lc.healthWatch()

	lc.state = types.StateRunning
	lc.Logger().Info("exit notifier re-armed")
	return nil
}

// healthWatch polls the backend's status query and fires the exit
// notifier once the backend stops answering.
func (lc *LifecycleController) healthWatch() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lc.shutdownCh:
			return
		case <-ticker.C:
			err := lc.hypervisor.Check()
			if err == nil {
				continue
			}
			if !lc.stopping.Load() {
				lc.Logger().WithError(err).Warn("VMM stopped answering")
				lc.notifyExit()
			}
			return
		}
	}
}

// RemoveDevice hot-removes an attached device by its logical id,
// translating to the id the backend assigned on attach.
func (lc *LifecycleController) RemoveDevice(ctx context.Context, id string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.state != types.StateRunning {
		return &InvalidStateError{Op: "remove device", State: lc.state}
	}

	entry, ok := lc.devices.entries[id]
	if !ok {
		return fmt.Errorf("device %s is not attached", id)
	}

	devInfo := entry.devInfo
	if devInfo == nil {
		// Restored records keep ids only. Hand the driver the id in
		// the shape it expects.
		switch entry.devType {
		case BlockDev:
			devInfo = &config.BlockDrive{ID: id}
		case NetDev:
			devInfo = &config.NetDev{ID: id}
		case VfioDev:
			devInfo = &config.VFIODev{ID: id}
		default:
			return fmt.Errorf("device %s of type %v cannot be removed", id, entry.devType)
		}
	}

	if _, err := lc.hypervisor.HotplugRemoveDevice(ctx, devInfo, entry.devType); err != nil {
		return err
	}

	lc.devices.remove(id)
	lc.Logger().WithField("device-id", id).Info("device removed")
	return nil
}

// Stop tears the VM down, removes the sandbox cgroup and destroys the
// on-disk record. Stopping an already stopped controller is a no-op.
func (lc *LifecycleController) Stop(ctx context.Context) error {
	span, ctx := hvtrace.Trace(ctx, lc.Logger(), "Stop", lc.tracingTags())
	defer span.End()

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.state == types.StateStopped {
		lc.Logger().Debug("controller already stopped")
		return nil
	}

	lc.stopping.Store(true)
	if lc.shutdownCh != nil {
		close(lc.shutdownCh)
		lc.shutdownCh = nil
	}

	var errs *multierror.Error

	if lc.booted {
		if err := lc.hypervisor.StopVM(ctx, false); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := lc.hypervisor.Cleanup(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if lc.cgroup != nil {
		if err := lc.cgroup.Delete(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := lc.store.Destroy(lc.id); err != nil {
		errs = multierror.Append(errs, err)
	}

	lc.state = types.StateStopped
	lc.Logger().Info("VM stopped")

	return errs.ErrorOrNil()
}

// ID returns the sandbox id.
func (lc *LifecycleController) ID() string {
	return lc.id
}

// State reports the current lifecycle state.
func (lc *LifecycleController) State() types.VmmState {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state
}

// GuestProtection reports the protection negotiated at creation. It
// is derived on the host and read-only; a caller-supplied value is
// never accepted.
func (lc *LifecycleController) GuestProtection() string {
	return lc.protection.String()
}

// HypervisorConfig returns a copy of the effective configuration.
func (lc *LifecycleController) HypervisorConfig() HypervisorConfig {
	return lc.config
}

// BackendDeviceID returns the backend-assigned id recorded for a
// logical device id.
func (lc *LifecycleController) BackendDeviceID(id string) (string, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.devices.BackendID(id)
}

// AttachedDeviceIDs returns the logical ids of the attached devices in
// attachment order.
func (lc *LifecycleController) AttachedDeviceIDs() []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.devices.IDs()
}

// Check asks the backend whether the VM is still alive.
func (lc *LifecycleController) Check() error {
	return lc.hypervisor.Check()
}

// Capabilities reports what the backend can do for this VM.
func (lc *LifecycleController) Capabilities(ctx context.Context) types.Capabilities {
	return lc.hypervisor.Capabilities(ctx)
}

// Console returns the protocol and address of the VM console.
func (lc *LifecycleController) Console(ctx context.Context) (string, string, error) {
	return lc.hypervisor.GetVMConsole(ctx, lc.id)
}

// SetGuestMemoryBlockSizeMB records the hotplug granularity the guest
// reported. It shapes later memory resizes and persists with the VM.
func (lc *LifecycleController) SetGuestMemoryBlockSizeMB(size uint32) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.memoryBlockSizeMB = size
}

// SetGuestMemoryHotplugProbe records that the guest kernel wants
// hotplugged memory announced through the probe interface.
func (lc *LifecycleController) SetGuestMemoryHotplugProbe(probe bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.memoryHotplugProbe = probe
}

// ResizeMemory asks the backend for a new memory size and returns the
// size actually in effect. Backends without the capability report the
// current size unchanged.
func (lc *LifecycleController) ResizeMemory(ctx context.Context, reqMemMB uint32) (uint32, error) {
	lc.mu.Lock()
	blockSizeMB := lc.memoryBlockSizeMB
	probe := lc.memoryHotplugProbe
	lc.mu.Unlock()

	newMemMB, _, err := lc.hypervisor.ResizeMemory(ctx, reqMemMB, blockSizeMB, probe)
	return newMemMB, err
}

// ResizeVCPUs asks the backend for a new vCPU count and returns the
// old and new counts.
func (lc *LifecycleController) ResizeVCPUs(ctx context.Context, vcpus uint32) (uint32, uint32, error) {
	return lc.hypervisor.ResizeVCPUs(ctx, vcpus)
}
