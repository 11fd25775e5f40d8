package ad7124

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Calibrate runs the internal calibration of a channel group and leaves the
// control register at CtrlCalibrated. Temperatures from the group must not be
// trusted before it succeeds.
//
// RTD group: excitation on, channel 0, zero-scale.
// Thermocouple group: channel 4, offset reset, full-scale then zero-scale.
func (d *Driver) Calibrate(g Group) error {
	if g > GroupThermocouple {
		return errors.Errorf("unknown calibration group %d", g)
	}
	if d.busy >= 0 {
		d.abort(d.busy)
	}
	d.calibrated[g] = false
	d.log.Infow("calibrating", "group", g)

	var err error
	switch g {
	case GroupRTD:
		err = d.calibrateRTD()
	default:
		err = d.calibrateTC()
	}
	err = multierr.Append(err, d.bus.WriteRegister(RegControl, CtrlCalibrated))
	if err != nil {
		return errors.Wrapf(err, "calibrate %s", g)
	}
	d.calibrated[g] = true
	d.log.Infow("calibrated", "group", g)
	return nil
}

func (d *Driver) calibrateRTD() error {
	if err := d.EnableCurrentSource(1); err != nil {
		return err
	}
	if err := d.EnableChannel(RTDChannel(0)); err != nil {
		return err
	}
	err := d.calibrationStep(CtrlZeroScaleCal)
	return multierr.Append(err, d.DisableChannel(RTDChannel(0)))
}

func (d *Driver) calibrateTC() error {
	ch := TCChannel(0)
	if err := d.EnableChannel(ch); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(OffsetReg(1), ResetOffset); err != nil {
		return multierr.Append(err, d.DisableChannel(ch))
	}
	// internal full-scale (0x518) first, then internal zero-scale (0x514)
	err := d.calibrationStep(CtrlFullScaleCal)
	if err == nil {
		err = d.calibrationStep(CtrlZeroScaleCal)
	}
	return multierr.Append(err, d.DisableChannel(ch))
}

// calibrationStep writes a calibration mode, waits for the ready flag and
// then for the device to return to idle, each bounded by CalibrationPolls.
func (d *Driver) calibrationStep(mode uint32) error {
	if err := d.bus.SetChipSelect(true); err != nil {
		return err
	}
	if err := d.bus.WriteRegister(RegControl, mode); err != nil {
		return multierr.Append(err, d.bus.SetChipSelect(false))
	}

	ready := false
	for i := 0; i < d.cfg.CalibrationPolls && !ready; i++ {
		r, err := d.ready()
		if err != nil {
			return multierr.Append(err, d.bus.SetChipSelect(false))
		}
		if ready = r; !ready {
			d.clk.Sleep(d.cfg.PollInterval)
		}
	}
	if err := d.bus.SetChipSelect(false); err != nil {
		return err
	}
	if !ready {
		d.log.Warnw("TIMEOUT", "mode", mode)
	}

	for i := 0; i < d.cfg.CalibrationPolls; i++ {
		v, err := d.bus.ReadRegister(RegControl)
		if err != nil {
			return err
		}
		if v == CtrlIdle {
			return nil
		}
		d.clk.Sleep(d.cfg.PollInterval)
	}
	return errors.Wrapf(ErrCalibrationTimeout, "mode 0x%04x", mode)
}

// CalibrateAll calibrates the RTD group and then the thermocouple group.
func (d *Driver) CalibrateAll() error {
	return multierr.Combine(
		d.Calibrate(GroupRTD),
		d.Calibrate(GroupThermocouple),
	)
}

// Calibrated reports whether group g completed calibration.
func (d *Driver) Calibrated(g Group) bool {
	if int(g) >= len(d.calibrated) {
		return false
	}
	return d.calibrated[g]
}
