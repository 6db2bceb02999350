package facade

import (
	"context"

	"github.com/fuzzysecurity/kahlo-host/pkg/deviceio"
	"github.com/fuzzysecurity/kahlo-host/pkg/errs"
)

// DevicesListOutput is the devices.list tool result.
type DevicesListOutput struct {
	Devices []deviceio.DeviceInfo `json:"devices"`
}

// DeviceIDInput is shared by devices.get, devices.health, and
// processes.list — every one of them keys solely on device_id.
type DeviceIDInput struct {
	DeviceID string `json:"device_id" param:"device_id"`
}

// ProcessesListOutput is the processes.list tool result.
type ProcessesListOutput struct {
	Processes []deviceio.ProcessInfo `json:"processes"`
}

// AdbExecInput is the adb.exec tool request.
type AdbExecInput struct {
	DeviceID string   `json:"device_id" param:"device_id"`
	Args     []string `json:"args"`
}

// AdbExecOutput is the adb.exec tool result: raw combined stdout+stderr,
// a literal pass-through (spec §6 "thin pass-throughs; not part of the
// core").
type AdbExecOutput struct {
	Output string `json:"output"`
}

func (f *Facade) requireDevices() error {
	if f.Devices == nil {
		return errs.TargetManagerError(errs.CodeNotImplemented, "device registry is not configured")
	}
	return nil
}

// DevicesList implements devices.list.
func (f *Facade) DevicesList(ctx context.Context, _ struct{}) (DevicesListOutput, error) {
	if err := f.requireDevices(); err != nil {
		return DevicesListOutput{}, err
	}
	return DevicesListOutput{Devices: f.Devices.List()}, nil
}

// DevicesGet implements devices.get.
func (f *Facade) DevicesGet(ctx context.Context, in DeviceIDInput) (deviceio.DeviceInfo, error) {
	if err := f.requireDevices(); err != nil {
		return deviceio.DeviceInfo{}, err
	}
	return f.Devices.Get(in.DeviceID)
}

// DevicesHealth implements devices.health.
func (f *Facade) DevicesHealth(ctx context.Context, in DeviceIDInput) (deviceio.DeviceHealth, error) {
	if err := f.requireDevices(); err != nil {
		return deviceio.DeviceHealth{}, err
	}
	return f.Devices.Health(ctx, in.DeviceID)
}

// ProcessesList implements processes.list.
func (f *Facade) ProcessesList(ctx context.Context, in DeviceIDInput) (ProcessesListOutput, error) {
	if err := f.requireDevices(); err != nil {
		return ProcessesListOutput{}, err
	}
	procs, err := f.Devices.Processes(ctx, in.DeviceID)
	if err != nil {
		return ProcessesListOutput{}, err
	}
	return ProcessesListOutput{Processes: procs}, nil
}

// AdbExec implements adb.exec.
func (f *Facade) AdbExec(ctx context.Context, in AdbExecInput) (AdbExecOutput, error) {
	if err := f.requireDevices(); err != nil {
		return AdbExecOutput{}, err
	}
	out, err := f.Devices.ExecADB(ctx, in.DeviceID, in.Args)
	if err != nil {
		return AdbExecOutput{}, err
	}
	return AdbExecOutput{Output: out}, nil
}
