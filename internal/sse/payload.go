package sse

import (
	"time"

	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

const schemaVersion = "1.0"

// UPSStatusPayload is the body of status_change and metrics_update frames:
// every snapshot field plus a schema version and send-time timestamp.
type UPSStatusPayload struct {
	SchemaVersion string `json:"schemaVersion"`
	UpdatedAt     string `json:"updatedAt"`

	UPSID      string `json:"upsId"`
	DataSource string `json:"dataSource"`
	Status     string `json:"status"`
	StatusRaw  string `json:"statusRaw"`

	BatteryPercent      *int     `json:"batteryPercent,omitempty"`
	RuntimeMinutes      *int     `json:"runtimeMinutes,omitempty"`
	RuntimeSeconds      *int     `json:"runtimeSeconds,omitempty"`
	LoadPercent         *int     `json:"loadPercent,omitempty"`
	InputVoltage        *float64 `json:"inputVoltage,omitempty"`
	OutputVoltage       *float64 `json:"outputVoltage,omitempty"`
	BatteryChargeLow    *int     `json:"batteryChargeLow,omitempty"`
	BatteryChargeWarn   *int     `json:"batteryChargeWarn,omitempty"`
	BatteryRuntimeLow   *int     `json:"batteryRuntimeLow,omitempty"`
	BatteryType         *string  `json:"batteryType,omitempty"`
	BatteryVoltage      *float64 `json:"batteryVoltage,omitempty"`
	BatteryVoltageNom   *float64 `json:"batteryVoltageNom,omitempty"`
	InputVoltageNom     *float64 `json:"inputVoltageNom,omitempty"`
	InputTransferLow    *float64 `json:"inputTransferLow,omitempty"`
	InputTransferHigh   *float64 `json:"inputTransferHigh,omitempty"`
	UPSRealPowerNominal *int     `json:"upsRealPowerNominal,omitempty"`
	UPSBeeperStatus     *string  `json:"upsBeeperStatus,omitempty"`
	UPSModel            *string  `json:"upsModel,omitempty"`
	UPSManufacturer     *string  `json:"upsManufacturer,omitempty"`
	UPSSerial           *string  `json:"upsSerial,omitempty"`
	DriverName          *string  `json:"driverName,omitempty"`
	DriverVersion       *string  `json:"driverVersion,omitempty"`
	DriverPollInterval  *int     `json:"driverPollInterval,omitempty"`
	DriverPollFreq      *int     `json:"driverPollFreq,omitempty"`
	UPSVendorID         *string  `json:"upsVendorId,omitempty"`
	UPSProductID        *string  `json:"upsProductId,omitempty"`
	UPSTimerShutdown    *int     `json:"upsTimerShutdown,omitempty"`
	UPSTimerStart       *int     `json:"upsTimerStart,omitempty"`
	UPSTimerReboot      *int     `json:"upsTimerReboot,omitempty"`
	UPSDelayShutdown    *int     `json:"upsDelayShutdown,omitempty"`
	UPSDelayStart       *int     `json:"upsDelayStart,omitempty"`
	ConsecutiveFailures int      `json:"consecutiveFailures"`
}

// NewUPSStatusPayload stamps s with the current wall-clock time, per §4.5's
// "updatedAt = ISO-8601 string of current wall-clock time at send".
func NewUPSStatusPayload(s upsmodel.Snapshot, now time.Time) UPSStatusPayload {
	return UPSStatusPayload{
		SchemaVersion:       schemaVersion,
		UpdatedAt:           now.UTC().Format(time.RFC3339),
		UPSID:               s.UPSID,
		DataSource:          string(s.DataSource),
		Status:              string(s.Status),
		StatusRaw:           s.StatusRaw,
		BatteryPercent:      s.BatteryPercent,
		RuntimeMinutes:      s.RuntimeMinutes,
		RuntimeSeconds:      s.RuntimeSeconds,
		LoadPercent:         s.LoadPercent,
		InputVoltage:        s.InputVoltage,
		OutputVoltage:       s.OutputVoltage,
		BatteryChargeLow:    s.BatteryChargeLow,
		BatteryChargeWarn:   s.BatteryChargeWarn,
		BatteryRuntimeLow:   s.BatteryRuntimeLow,
		BatteryType:         s.BatteryType,
		BatteryVoltage:      s.BatteryVoltage,
		BatteryVoltageNom:   s.BatteryVoltageNom,
		InputVoltageNom:     s.InputVoltageNom,
		InputTransferLow:    s.InputTransferLow,
		InputTransferHigh:   s.InputTransferHigh,
		UPSRealPowerNominal: s.UPSRealPowerNominal,
		UPSBeeperStatus:     s.UPSBeeperStatus,
		UPSModel:            s.UPSModel,
		UPSManufacturer:     s.UPSManufacturer,
		UPSSerial:           s.UPSSerial,
		DriverName:          s.DriverName,
		DriverVersion:       s.DriverVersion,
		DriverPollInterval:  s.DriverPollInterval,
		DriverPollFreq:      s.DriverPollFreq,
		UPSVendorID:         s.UPSVendorID,
		UPSProductID:        s.UPSProductID,
		UPSTimerShutdown:    s.UPSTimerShutdown,
		UPSTimerStart:       s.UPSTimerStart,
		UPSTimerReboot:      s.UPSTimerReboot,
		UPSDelayShutdown:    s.UPSDelayShutdown,
		UPSDelayStart:       s.UPSDelayStart,
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
}

// HeartbeatPayload is the body of heartbeat frames.
type HeartbeatPayload struct {
	SchemaVersion string `json:"schemaVersion"`
	Timestamp     string `json:"timestamp"`
}

func NewHeartbeatPayload(now time.Time) HeartbeatPayload {
	return HeartbeatPayload{SchemaVersion: schemaVersion, Timestamp: now.UTC().Format(time.RFC3339)}
}
