// Package mapper translates a raw NUT variable map (string name → string
// value) into a canonical upsmodel.Snapshot. There is no I/O here, no
// external dependencies, and no side effects; every function is pure and
// safe to call from any goroutine — the same contract the teacher's
// internal/metrics package carried for its own derived fields.
package mapper

import (
	"math"
	"strconv"
	"strings"

	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

// roundFields are treated as percentage-like: converted with round().
var roundFields = map[string]bool{
	"battery.charge":         true,
	"battery.charge.warning": true,
	"battery.charge.low":     true,
	"ups.load":                true,
}

// truncFields are treated as time/count-like: converted with trunc().
var truncFields = map[string]bool{
	"battery.runtime":           true,
	"battery.runtime.low":       true,
	"battery.runtime.restart":   true,
	"ups.realpower.nominal":     true,
	"driver.parameter.pollfreq": true,
	"driver.parameter.pollinterval": true,
}

// Map builds a Snapshot for upsName from vars. upsId is always
// lower(upsName); missing keys leave the corresponding field nil rather
// than erroring.
func Map(vars map[string]string, upsName string) upsmodel.Snapshot {
	s := upsmodel.Snapshot{
		UPSID:      strings.ToLower(upsName),
		DataSource: upsmodel.DataSourceNUT,
		StatusRaw:  vars["ups.status"],
	}
	s.Status = deriveStatus(s.StatusRaw)

	s.BatteryPercent = intField(vars, "battery.charge")
	s.BatteryChargeLow = intField(vars, "battery.charge.low")
	s.BatteryChargeWarn = intField(vars, "battery.charge.warning")
	s.LoadPercent = intField(vars, "ups.load")
	s.RuntimeSeconds = intField(vars, "battery.runtime")
	s.BatteryRuntimeLow = intField(vars, "battery.runtime.low")
	s.RuntimeMinutes = runtimeMinutes(s.RuntimeSeconds)

	s.InputVoltage = floatField(vars, "input.voltage")
	s.OutputVoltage = floatField(vars, "output.voltage")
	s.InputVoltageNom = floatField(vars, "input.voltage.nominal")
	s.InputTransferLow = floatField(vars, "input.transfer.low")
	s.InputTransferHigh = floatField(vars, "input.transfer.high")
	s.BatteryVoltage = floatField(vars, "battery.voltage")
	s.BatteryVoltageNom = floatField(vars, "battery.voltage.nominal")

	s.BatteryType = stringField(vars, "battery.type")
	s.UPSBeeperStatus = stringField(vars, "ups.beeper.status")
	s.UPSModel = stringField(vars, "ups.model")
	s.UPSManufacturer = stringField(vars, "ups.mfr")
	s.UPSSerial = stringField(vars, "ups.serial")
	s.DriverName = stringField(vars, "driver.name")
	s.DriverVersion = stringField(vars, "driver.version")
	s.UPSVendorID = stringField(vars, "ups.vendorid")
	s.UPSProductID = stringField(vars, "ups.productid")

	s.UPSRealPowerNominal = intField(vars, "ups.realpower.nominal")
	s.DriverPollInterval = intField(vars, "driver.parameter.pollinterval")
	s.DriverPollFreq = intField(vars, "driver.parameter.pollfreq")
	s.UPSTimerShutdown = intField(vars, "ups.timer.shutdown")
	s.UPSTimerStart = intField(vars, "ups.timer.start")
	s.UPSTimerReboot = intField(vars, "ups.timer.reboot")
	s.UPSDelayShutdown = intField(vars, "ups.delay.shutdown")
	s.UPSDelayStart = intField(vars, "ups.delay.start")

	return s
}

// deriveStatus applies the §4.2 priority rule: OL beats OB/LB beats absent,
// case-insensitively.
func deriveStatus(raw string) upsmodel.Status {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "OL"):
		return upsmodel.StatusOnline
	case strings.Contains(upper, "OB"), strings.Contains(upper, "LB"):
		return upsmodel.StatusOnBattery
	default:
		return upsmodel.StatusOffline
	}
}

// runtimeMinutes derives the legacy floor(seconds/60) field; nil propagates.
func runtimeMinutes(seconds *int) *int {
	if seconds == nil {
		return nil
	}
	m := *seconds / 60
	return &m
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func floatField(vars map[string]string, key string) *float64 {
	v, ok := parseFloat(vars[key])
	if !ok {
		return nil
	}
	return &v
}

// intField parses key as a double then converts to int using round() for
// percentage-like fields and trunc() for time/count-like fields, per
// spec §4.2. Fields not listed in either table default to trunc, matching
// the spec's "time/count-like" catch-all phrasing (ups.*timer*, ups.*delay*).
func intField(vars map[string]string, key string) *int {
	v, ok := parseFloat(vars[key])
	if !ok {
		return nil
	}
	var n int
	if roundFields[key] {
		n = int(math.Round(v))
	} else {
		n = int(math.Trunc(v))
	}
	return &n
}

func stringField(vars map[string]string, key string) *string {
	v, ok := vars[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}
