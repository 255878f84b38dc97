package operator

import (
	"context"
	"fmt"
	"strings"

	"github.com/runningman84/swap-operator/pkg/config"
	"github.com/runningman84/swap-operator/pkg/fstab"
	"github.com/runningman84/swap-operator/pkg/models"
	"github.com/runningman84/swap-operator/pkg/parser"
	"github.com/runningman84/swap-operator/pkg/runner"
	"github.com/runningman84/swap-operator/pkg/swap"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// State is a step of a provisioning run
type State string

// Run states in execution order
const (
	StateCollectTargets  State = "CollectTargets"
	StateValidateTargets State = "ValidateTargets"
	StateReconcileTable  State = "ReconcileTable"
	StatePersistTable    State = "PersistTable"
	StatePrepareDevices  State = "PrepareDevices"
	StateActivateSystem  State = "ActivateSystem"
	StateVerify          State = "Verify"
	StateDone            State = "Done"
	StateAborted         State = "Aborted"
)

// SwapManager is the host access needed by the operator
type SwapManager interface {
	IsBlockDevice(path string) bool
	ListActiveSwap(ctx context.Context) ([]*models.ActiveSwapEntry, error)
	ActiveSwap(ctx context.Context, path string) (*models.ActiveSwapEntry, error)
	Prepare(ctx context.Context, device string) error
	ActivateAll(ctx context.Context) error
}

// Result summarizes a provisioning run
type Result struct {
	State         State
	Requested     []string // Devices requested, in the order given
	AlreadyActive []string // Requested devices that were swap before the run
	Provisioned   []string // Devices written to the table and formatted
	Verified      []string // Devices confirmed active after the run
	Unverified    []string // Devices not active after the run
}

// Operator provisions block devices as swap
type Operator struct {
	config  *config.Config
	manager SwapManager
}

// NewOperator creates an operator that runs host commands directly
func NewOperator(cfg *config.Config) *Operator {
	return NewOperatorWithManager(cfg, swap.NewManager(cfg, runner.NewExecRunner()))
}

// NewOperatorWithManager creates an operator using the given swap manager
func NewOperatorWithManager(cfg *config.Config, manager SwapManager) *Operator {
	return &Operator{
		config:  cfg,
		manager: manager,
	}
}

func (r *Result) transition(next State) {
	klog.V(1).Infof("State %s -> %s", r.State, next)
	r.State = next
}

// Run executes a provisioning run. On error the result's State is the step
// that failed, or StateAborted if validation rejected the request. Nothing is
// rolled back.
func (o *Operator) Run(ctx context.Context) (*Result, error) {
	result := &Result{State: StateCollectTargets}

	o.logConfig()

	result.Requested = o.collectTargets()
	if len(result.Requested) == 0 {
		klog.Warningf("No swap devices requested (set %s); applying the existing table only", config.SwapDevicesEnvVar)
	} else {
		klog.Infof("Devices to be mounted as swap: %s", strings.Join(result.Requested, ", "))
	}

	result.transition(StateValidateTargets)
	pending, err := o.validateTargets(ctx, result)
	if err != nil {
		result.transition(StateAborted)
		return result, err
	}

	result.transition(StateReconcileTable)
	table, err := o.reconcileTable(pending)
	if err != nil {
		return result, err
	}

	result.transition(StatePersistTable)
	if err := o.persistTable(table); err != nil {
		return result, err
	}

	result.transition(StatePrepareDevices)
	for _, device := range pending {
		if o.config.DryRun {
			klog.Infof("[DRY-RUN] Would unmount and format %s as swap", device)
			continue
		}
		if err := o.manager.Prepare(ctx, device); err != nil {
			klog.Errorf("CRITICAL: Failed to prepare %s: %v", device, err)
			return result, err
		}
		result.Provisioned = append(result.Provisioned, device)
	}

	result.transition(StateActivateSystem)
	if o.config.DryRun {
		klog.Infof("[DRY-RUN] Would run %v and %v", o.config.MountAllCmd, o.config.SwapOnAllCmd)
	} else if err := o.manager.ActivateAll(ctx); err != nil {
		klog.Errorf("CRITICAL: Failed to activate swap: %v", err)
		return result, err
	}

	result.transition(StateVerify)
	if err := o.verify(ctx, result); err != nil {
		return result, err
	}

	result.transition(StateDone)
	klog.Infof("Run completed - %d device(s) requested, %d already active, %d provisioned, %d verified",
		len(result.Requested), len(result.AlreadyActive), len(result.Provisioned), len(result.Verified))
	return result, nil
}

func (o *Operator) logConfig() {
	klog.Info("Current config")
	klog.Infof("Mode: %s", o.config.Mode)
	klog.Infof("Log level: %s", o.config.LogLevel)
	klog.Infof("Fstab path: %s", o.config.FstabPath)
	klog.Infof("Dry run: %t", o.config.DryRun)
	klog.Infof("Strict verify: %t", o.config.StrictVerify)
}

// collectTargets returns the requested devices with blank entries removed
func (o *Operator) collectTargets() []string {
	var devices []string
	for _, device := range o.config.SwapDevices {
		if trimmed := strings.TrimSpace(device); trimmed != "" {
			devices = append(devices, trimmed)
		}
	}
	return devices
}

// validateTargets drops devices that are already swap and requires the rest
// to be block devices. The swap snapshot is taken once and not refreshed.
func (o *Operator) validateTargets(ctx context.Context, result *Result) ([]string, error) {
	active, err := o.manager.ListActiveSwap(ctx)
	if err != nil {
		klog.Errorf("CRITICAL: %v", err)
		return nil, err
	}
	activeSet := make(map[string]bool, len(active))
	for _, entry := range active {
		activeSet[entry.FileName] = true
	}

	var pending, invalid []string
	for _, device := range result.Requested {
		if activeSet[device] {
			klog.Infof("Device %s is already active as swap, skipping", device)
			result.AlreadyActive = append(result.AlreadyActive, device)
			continue
		}
		if !o.manager.IsBlockDevice(device) {
			klog.Errorf("CRITICAL: Device %s is not a block device", device)
			invalid = append(invalid, device)
			continue
		}
		pending = append(pending, device)
	}

	if len(invalid) > 0 {
		return nil, &ValidationError{Devices: invalid}
	}
	return pending, nil
}

func (o *Operator) reconcileTable(devices []string) (*models.FstabTable, error) {
	existing, warnings, err := fstab.Load(o.config.FstabPath)
	for _, warning := range warnings {
		klog.Warning(warning)
	}
	if err != nil {
		klog.Errorf("CRITICAL: %v", err)
		return nil, err
	}
	return fstab.Reconcile(existing, devices), nil
}

func (o *Operator) persistTable(table *models.FstabTable) error {
	klog.Infof("Generating new fstab at %s", o.config.FstabPath)
	for _, entry := range table.Entries {
		if entry.IsComment() {
			continue
		}
		klog.V(1).Infof("Adding %s as %s", entry.Source, entry.FSType)
	}

	if o.config.DryRun {
		klog.Infof("[DRY-RUN] Would write fstab:\n%s", parser.SerializeFstab(table))
		return nil
	}

	if err := fstab.Save(o.config.FstabPath, table); err != nil {
		klog.Errorf("CRITICAL: %v", err)
		return err
	}
	return nil
}

// verify re-queries swap state for every requested device. A device that is
// not active is only logged unless strict verification is enabled.
func (o *Operator) verify(ctx context.Context, result *Result) error {
	var errs error
	seen := make(map[string]bool, len(result.Requested))
	for _, device := range result.Requested {
		if seen[device] {
			continue
		}
		seen[device] = true

		entry, err := o.manager.ActiveSwap(ctx, device)
		if err != nil {
			klog.Errorf("CRITICAL: %v", err)
			return err
		}
		if entry != nil {
			klog.Infof("Swap enabled on: %s", swap.DescribeSwap(entry))
			result.Verified = append(result.Verified, device)
			continue
		}

		if o.config.DryRun {
			klog.Infof("[DRY-RUN] Swap not yet enabled on: %s", device)
		} else {
			klog.Warningf("Swap not enabled on: %s", device)
		}
		result.Unverified = append(result.Unverified, device)
		errs = multierr.Append(errs, fmt.Errorf("%s is not active swap", device))
	}

	if errs != nil && o.config.StrictVerify && !o.config.DryRun {
		return &VerificationError{Devices: result.Unverified, Err: errs}
	}
	return nil
}
