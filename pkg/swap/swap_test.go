package swap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/runningman84/swap-operator/pkg/config"
	"github.com/runningman84/swap-operator/pkg/models"
	"github.com/runningman84/swap-operator/pkg/parser"
	"github.com/runningman84/swap-operator/pkg/runner"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

const summaryHeader = "Filename\t\t\t\tType\t\tSize\t\tUsed\t\tPriority\n"

var summaryCmd = []string{"swapon", "--summary"}

func newTestManager(t *testing.T) (*Manager, *runner.FakeRunner) {
	t.Helper()
	cfg := config.NewConfig("direct")
	fake := runner.NewFakeRunner()
	return NewManager(cfg, fake), fake
}

// fakeStat treats the given paths as block devices and everything else as missing
func fakeStat(blockDevices ...string) StatFunc {
	return func(path string) (uint32, error) {
		for _, dev := range blockDevices {
			if dev == path {
				return unix.S_IFBLK | 0660, nil
			}
		}
		return 0, os.ErrNotExist
	}
}

func TestNewManager(t *testing.T) {
	cfg := config.NewConfig("test")
	fake := runner.NewFakeRunner()
	manager := NewManager(cfg, fake)

	if manager == nil {
		t.Fatal("NewManager() returned nil")
	}
	if manager.config != cfg {
		t.Error("Manager config not properly set")
	}
	if manager.runner != fake {
		t.Error("Manager runner not properly set")
	}
}

func TestIsBlockDevice(t *testing.T) {
	manager, _ := newTestManager(t)
	manager.WithStat(func(path string) (uint32, error) {
		switch path {
		case "/dev/sdb1":
			return unix.S_IFBLK | 0660, nil
		case "/dev/null":
			return unix.S_IFCHR | 0666, nil
		case "/swapfile":
			return unix.S_IFREG | 0600, nil
		default:
			return 0, os.ErrNotExist
		}
	})

	tests := []struct {
		path string
		want bool
	}{
		{"/dev/sdb1", true},
		{"/dev/null", false},
		{"/swapfile", false},
		{"/dev/missing", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := manager.IsBlockDevice(tt.path); got != tt.want {
				t.Errorf("IsBlockDevice(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestIsBlockDeviceRealStat(t *testing.T) {
	manager, _ := newTestManager(t)

	regular := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(regular, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if manager.IsBlockDevice(regular) {
		t.Error("IsBlockDevice(regular file) = true, want false")
	}
	if manager.IsBlockDevice(t.TempDir()) {
		t.Error("IsBlockDevice(directory) = true, want false")
	}
	if manager.IsBlockDevice(filepath.Join(t.TempDir(), "missing")) {
		t.Error("IsBlockDevice(missing) = true, want false")
	}
}

func TestIsBlockDeviceUsesHostRoot(t *testing.T) {
	cfg := config.NewConfig("chroot")
	var seen string
	manager := NewManager(cfg, runner.NewFakeRunner()).WithStat(func(path string) (uint32, error) {
		seen = path
		return unix.S_IFBLK, nil
	})

	if !manager.IsBlockDevice("/dev/sdb1") {
		t.Error("IsBlockDevice() = false, want true")
	}
	if seen != "/host/dev/sdb1" {
		t.Errorf("stat path = %s, want /host/dev/sdb1", seen)
	}
}

func TestListActiveSwap(t *testing.T) {
	manager, fake := newTestManager(t)
	fake.SetOutput(summaryCmd, summaryHeader+"/dev/sdb1 partition 1048572 0 -2\n/dev/sdc1 partition 2097148 1024 -3\n")

	entries, err := manager.ListActiveSwap(context.Background())
	if err != nil {
		t.Fatalf("ListActiveSwap() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListActiveSwap() returned %d entries, want 2", len(entries))
	}
	if entries[1].FileName != "/dev/sdc1" || entries[1].UsedKB != 1024 {
		t.Errorf("entries[1] = %+v", *entries[1])
	}
	if !fake.Called(summaryCmd) {
		t.Error("swap summary command not run")
	}
}

func TestListActiveSwapHeaderOnly(t *testing.T) {
	manager, fake := newTestManager(t)
	fake.SetOutput(summaryCmd, summaryHeader)

	entries, err := manager.ListActiveSwap(context.Background())
	if err != nil {
		t.Fatalf("ListActiveSwap() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ListActiveSwap() returned %d entries, want 0", len(entries))
	}
}

func TestListActiveSwapErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *runner.FakeRunner)
	}{
		{
			name: "non-zero exit",
			setup: func(f *runner.FakeRunner) {
				f.SetFailure(summaryCmd, 1, "swapon: cannot open /proc/swaps")
			},
		},
		{
			name: "command cannot start",
			setup: func(f *runner.FakeRunner) {
				f.Errors[strings.Join(summaryCmd, " ")] = errors.New("executable file not found")
			},
		},
		{
			name: "malformed output",
			setup: func(f *runner.FakeRunner) {
				f.SetOutput(summaryCmd, summaryHeader+"/dev/sdb1 partition\n")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, fake := newTestManager(t)
			tt.setup(fake)

			_, err := manager.ListActiveSwap(context.Background())
			var probeErr *ProbeError
			if !errors.As(err, &probeErr) {
				t.Fatalf("ListActiveSwap() error = %v, want *ProbeError", err)
			}
		})
	}
}

func TestListActiveSwapMalformedIsWrapped(t *testing.T) {
	manager, fake := newTestManager(t)
	fake.SetOutput(summaryCmd, summaryHeader+"/dev/sdb1 partition big 0 -2\n")

	_, err := manager.ListActiveSwap(context.Background())
	var malformed *parser.MalformedSwapSummaryError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v, want wrapped *MalformedSwapSummaryError", err)
	}
}

func TestIsActiveSwap(t *testing.T) {
	manager, fake := newTestManager(t)
	fake.SetOutput(summaryCmd, summaryHeader+"/dev/sdb1 partition 1048572 0 -2\n")
	ctx := context.Background()

	active, err := manager.IsActiveSwap(ctx, "/dev/sdb1")
	if err != nil || !active {
		t.Errorf("IsActiveSwap(/dev/sdb1) = %v, %v, want true", active, err)
	}

	active, err = manager.IsActiveSwap(ctx, "/dev/sdb")
	if err != nil || active {
		t.Errorf("IsActiveSwap(/dev/sdb) = %v, %v, want false", active, err)
	}

	// Each query runs the summary again
	if len(fake.Calls) != 2 {
		t.Errorf("summary ran %d times, want 2", len(fake.Calls))
	}
}

func TestProbe(t *testing.T) {
	manager, fake := newTestManager(t)
	manager.WithStat(fakeStat("/dev/sdb1", "/dev/sdc1"))
	fake.SetOutput(summaryCmd, summaryHeader+"/dev/sdc1 partition 1048572 0 -2\n")

	device, err := manager.Probe(context.Background(), "/dev/sdc1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	want := models.SwapDevice{Path: "/dev/sdc1", IsBlockDevice: true, IsActiveSwap: true}
	if *device != want {
		t.Errorf("Probe() = %+v, want %+v", *device, want)
	}

	device, err = manager.Probe(context.Background(), "/dev/sdd1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if device.IsBlockDevice || device.IsActiveSwap {
		t.Errorf("Probe(/dev/sdd1) = %+v, want all false", *device)
	}
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *runner.FakeRunner)
		wantFormat bool
		wantErr    bool
	}{
		{
			name:       "mounted device",
			setup:      func(f *runner.FakeRunner) {},
			wantFormat: true,
		},
		{
			name: "not mounted is ignored",
			setup: func(f *runner.FakeRunner) {
				f.SetFailure([]string{"umount", "/dev/sdb1"}, 32, "umount: /dev/sdb1: not mounted.")
			},
			wantFormat: true,
		},
		{
			name: "other unmount failure is not fatal",
			setup: func(f *runner.FakeRunner) {
				f.SetFailure([]string{"umount", "/dev/sdb1"}, 32, "umount: /data: target is busy.")
			},
			wantFormat: true,
		},
		{
			name: "unmount cannot start is not fatal",
			setup: func(f *runner.FakeRunner) {
				f.Errors["umount /dev/sdb1"] = errors.New("executable file not found")
			},
			wantFormat: true,
		},
		{
			name: "format failure is fatal",
			setup: func(f *runner.FakeRunner) {
				f.SetFailure([]string{"mkswap", "--force", "/dev/sdb1"}, 1, "mkswap: error: swap area needs to be at least 40 KiB")
			},
			wantFormat: true,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, fake := newTestManager(t)
			tt.setup(fake)

			err := manager.Prepare(context.Background(), "/dev/sdb1")

			if len(fake.Calls) != 2 {
				t.Fatalf("ran %d commands, want 2: %v", len(fake.Calls), fake.Calls)
			}
			if strings.Join(fake.Calls[0], " ") != "umount /dev/sdb1" {
				t.Errorf("first command = %v, want umount /dev/sdb1", fake.Calls[0])
			}
			if strings.Join(fake.Calls[1], " ") != "mkswap --force /dev/sdb1" {
				t.Errorf("second command = %v, want mkswap --force /dev/sdb1", fake.Calls[1])
			}

			if tt.wantErr {
				var formatErr *FormatError
				if !errors.As(err, &formatErr) {
					t.Fatalf("Prepare() error = %v, want *FormatError", err)
				}
				if formatErr.Device != "/dev/sdb1" {
					t.Errorf("FormatError.Device = %s, want /dev/sdb1", formatErr.Device)
				}
			} else if err != nil {
				t.Errorf("Prepare() error = %v", err)
			}
		})
	}
}

// captureLog returns the klog lines written while fn runs
func captureLog(t *testing.T, fn func()) []string {
	t.Helper()
	var buf bytes.Buffer
	klog.LogToStderr(false)
	klog.SetOutput(&buf)
	defer func() {
		klog.SetOutput(os.Stderr)
		klog.LogToStderr(true)
	}()

	fn()
	klog.Flush()
	return strings.Split(buf.String(), "\n")
}

// hasLine reports whether a log line of the given severity contains text
func hasLine(lines []string, severity, text string) bool {
	for _, line := range lines {
		if strings.HasPrefix(line, severity) && strings.Contains(line, text) {
			return true
		}
	}
	return false
}

func TestPrepareUnmountLogSeverity(t *testing.T) {
	t.Run("unexpected failure logged as error", func(t *testing.T) {
		manager, fake := newTestManager(t)
		fake.SetFailure([]string{"umount", "/dev/sdb1"}, 32, "umount: /data: target is busy.")

		var err error
		lines := captureLog(t, func() {
			err = manager.Prepare(context.Background(), "/dev/sdb1")
		})
		if err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
		if !hasLine(lines, "E", "An error occurred unmounting /dev/sdb1") {
			t.Errorf("no error-level unmount line in log:\n%s", strings.Join(lines, "\n"))
		}
	})

	t.Run("not mounted logged as warning", func(t *testing.T) {
		manager, fake := newTestManager(t)
		fake.SetFailure([]string{"umount", "/dev/sdb1"}, 32, "umount: /dev/sdb1: not mounted.")

		lines := captureLog(t, func() {
			if err := manager.Prepare(context.Background(), "/dev/sdb1"); err != nil {
				t.Errorf("Prepare() error = %v", err)
			}
		})
		if !hasLine(lines, "W", "Device /dev/sdb1 is not mounted") {
			t.Errorf("no warning-level not-mounted line in log:\n%s", strings.Join(lines, "\n"))
		}
		if hasLine(lines, "E", "unmounting") {
			t.Error("not-mounted case logged at error level")
		}
	})
}

func TestPrepareCustomNotMountedMessage(t *testing.T) {
	manager, fake := newTestManager(t)
	manager.config.NotMountedMessages = []string{"no mount point specified"}
	fake.SetFailure([]string{"umount", "/dev/sdb1"}, 1, "umount: /dev/sdb1: no mount point specified.")

	if !manager.isNotMounted("umount: /dev/sdb1: no mount point specified.") {
		t.Error("isNotMounted() = false, want true")
	}
	if manager.isNotMounted("umount: /dev/sdb1: not mounted.") {
		t.Error("isNotMounted() = true for unconfigured message")
	}
	if err := manager.Prepare(context.Background(), "/dev/sdb1"); err != nil {
		t.Errorf("Prepare() error = %v", err)
	}
}

func TestActivateAll(t *testing.T) {
	manager, fake := newTestManager(t)

	if err := manager.ActivateAll(context.Background()); err != nil {
		t.Fatalf("ActivateAll() error = %v", err)
	}

	want := []string{"mount --all", "swapon --all"}
	if len(fake.Calls) != len(want) {
		t.Fatalf("ran %v, want %v", fake.Calls, want)
	}
	for i := range want {
		if strings.Join(fake.Calls[i], " ") != want[i] {
			t.Errorf("command %d = %v, want %s", i, fake.Calls[i], want[i])
		}
	}
}

func TestActivateAllErrors(t *testing.T) {
	t.Run("mount failure stops before swapon", func(t *testing.T) {
		manager, fake := newTestManager(t)
		fake.SetFailure([]string{"mount", "--all"}, 32, "mount: /data: special device /dev/sdx1 does not exist.")

		err := manager.ActivateAll(context.Background())
		var activationErr *ActivationError
		if !errors.As(err, &activationErr) {
			t.Fatalf("ActivateAll() error = %v, want *ActivationError", err)
		}
		if fake.Called([]string{"swapon", "--all"}) {
			t.Error("swapon --all ran after mount failure")
		}
	})

	t.Run("swapon failure", func(t *testing.T) {
		manager, fake := newTestManager(t)
		fake.SetFailure([]string{"swapon", "--all"}, 255, "swapon: /dev/sdb1: read swap header failed")

		err := manager.ActivateAll(context.Background())
		var activationErr *ActivationError
		if !errors.As(err, &activationErr) {
			t.Fatalf("ActivateAll() error = %v, want *ActivationError", err)
		}
		if strings.Join(activationErr.Command, " ") != "swapon --all" {
			t.Errorf("ActivationError.Command = %v, want swapon --all", activationErr.Command)
		}
	})
}

func TestChrootCommandVectors(t *testing.T) {
	cfg := config.NewConfig("chroot")
	fake := runner.NewFakeRunner()
	manager := NewManager(cfg, fake)

	if err := manager.Prepare(context.Background(), "/dev/sdb1"); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !fake.Called([]string{"chroot", "/host", "umount", "/dev/sdb1"}) {
		t.Errorf("unmount not run through chroot: %v", fake.Calls)
	}
	if !fake.Called([]string{"chroot", "/host", "mkswap", "--force", "/dev/sdb1"}) {
		t.Errorf("mkswap not run through chroot: %v", fake.Calls)
	}
}

func TestDescribeSwap(t *testing.T) {
	got := DescribeSwap(&models.ActiveSwapEntry{FileName: "/dev/sdb1", Type: "partition", SizeKB: 1048576, UsedKB: 0, Priority: -2})
	want := "/dev/sdb1 (partition, 1.0 GiB, 0 B used, priority -2)"
	if got != want {
		t.Errorf("DescribeSwap() = %q, want %q", got, want)
	}
}
