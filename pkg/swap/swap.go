package swap

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/runningman84/swap-operator/pkg/config"
	"github.com/runningman84/swap-operator/pkg/models"
	"github.com/runningman84/swap-operator/pkg/parser"
	"github.com/runningman84/swap-operator/pkg/runner"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// StatFunc reports the file mode bits of a path
type StatFunc func(path string) (uint32, error)

// Manager probes devices and drives swap activation on the host
type Manager struct {
	config *config.Config
	runner runner.Runner
	stat   StatFunc
}

// NewManager creates a new swap manager
func NewManager(cfg *config.Config, r runner.Runner) *Manager {
	return &Manager{
		config: cfg,
		runner: r,
		stat:   unixStat,
	}
}

// WithStat replaces the stat implementation used by IsBlockDevice
func (m *Manager) WithStat(stat StatFunc) *Manager {
	m.stat = stat
	return m
}

func unixStat(path string) (uint32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint32(st.Mode), nil
}

// commandError describes a command that exited non-zero
func commandError(argv []string, result *runner.Result) error {
	if out := result.Output(); out != "" {
		return fmt.Errorf("%s exited with status %d: %s", strings.Join(argv, " "), result.ExitCode, out)
	}
	return fmt.Errorf("%s exited with status %d", strings.Join(argv, " "), result.ExitCode)
}

// run executes argv and converts a non-zero exit into an error
func (m *Manager) run(ctx context.Context, argv []string) (*runner.Result, error) {
	result, err := m.runner.Run(ctx, argv)
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		return result, commandError(argv, result)
	}
	return result, nil
}

// IsBlockDevice reports whether path is a block special device.
// A path that cannot be stat'ed is not a block device.
func (m *Manager) IsBlockDevice(path string) bool {
	mode, err := m.stat(m.config.HostPath(path))
	if err != nil {
		klog.Warningf("Device %s does not exist: %v", path, err)
		return false
	}
	return mode&unix.S_IFMT == unix.S_IFBLK
}

// ListActiveSwap returns the swap areas currently in use
func (m *Manager) ListActiveSwap(ctx context.Context) ([]*models.ActiveSwapEntry, error) {
	result, err := m.run(ctx, m.config.SwapSummaryCmd)
	if err != nil {
		return nil, &ProbeError{Err: err}
	}

	entries, err := parser.ParseSwapSummary(result.Stdout)
	if err != nil {
		return nil, &ProbeError{Err: err}
	}
	return entries, nil
}

// ActiveSwap returns the active swap entry for path, or nil if path is not active
func (m *Manager) ActiveSwap(ctx context.Context, path string) (*models.ActiveSwapEntry, error) {
	entries, err := m.ListActiveSwap(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.FileName == path {
			return entry, nil
		}
	}
	return nil, nil
}

// IsActiveSwap reports whether path is listed in the live swap summary
func (m *Manager) IsActiveSwap(ctx context.Context, path string) (bool, error) {
	entry, err := m.ActiveSwap(ctx, path)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// Probe computes the runtime facts for a device
func (m *Manager) Probe(ctx context.Context, path string) (*models.SwapDevice, error) {
	active, err := m.IsActiveSwap(ctx, path)
	if err != nil {
		return nil, err
	}
	return &models.SwapDevice{
		Path:          path,
		IsBlockDevice: m.IsBlockDevice(path),
		IsActiveSwap:  active,
	}, nil
}

// isNotMounted reports whether umount output means the device was not mounted
func (m *Manager) isNotMounted(output string) bool {
	for _, msg := range m.config.NotMountedMessages {
		if strings.Contains(output, msg) {
			return true
		}
	}
	return false
}

// Prepare unmounts device (best effort) and formats it as swap
func (m *Manager) Prepare(ctx context.Context, device string) error {
	klog.V(1).Infof("Ensure unmounted: %s", device)
	unmountCmd := append(append([]string{}, m.config.UnmountCmd...), device)
	result, err := m.run(ctx, unmountCmd)
	switch {
	case err == nil:
		klog.Infof("Unmounted %s", device)
	case result != nil && m.isNotMounted(result.Output()):
		klog.Warningf("Device %s is not mounted: %s", device, result.Output())
	default:
		klog.Errorf("An error occurred unmounting %s: %v", device, err)
	}

	klog.Infof("Creating swap area on %s", device)
	formatCmd := append(append([]string{}, m.config.FormatSwapCmd...), device)
	if _, err := m.run(ctx, formatCmd); err != nil {
		return &FormatError{Device: device, Err: err}
	}

	return nil
}

// ActivateAll mounts everything in the mount table and then enables every
// swap entry in it. Newly written entries must be mounted before swapon sees them.
func (m *Manager) ActivateAll(ctx context.Context) error {
	for _, cmd := range [][]string{m.config.MountAllCmd, m.config.SwapOnAllCmd} {
		klog.V(1).Infof("System: %s", strings.Join(cmd, " "))
		if _, err := m.run(ctx, cmd); err != nil {
			return &ActivationError{Command: cmd, Err: err}
		}
	}
	return nil
}

// DescribeSwap formats an active swap entry for logging
func DescribeSwap(entry *models.ActiveSwapEntry) string {
	return fmt.Sprintf("%s (%s, %s, %s used, priority %d)",
		entry.FileName, entry.Type,
		humanize.IBytes(uint64(entry.SizeKB)*1024),
		humanize.IBytes(uint64(entry.UsedKB)*1024),
		entry.Priority)
}
