package dto

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"
)

type RegisterAgentRequest struct {
	HardwareAddress string `json:"hardware_address" binding:"required,max=17"`
	Hostname        string `json:"hostname" binding:"required,max=255"`
	OSType          string `json:"os_type" binding:"required,max=50"`
	OSVersion       string `json:"os_version" binding:"omitempty,max=100"`
}

type RegisterAgentResponse struct {
	MachineID  string `json:"machine_id"`
	Credential string `json:"credential"`
	Message    string `json:"message"`
}

// LenientFloat is an optional numeric field that tolerates malformed
// input: numbers and numeric strings parse, anything else leaves the field
// unset without failing the surrounding request.
type LenientFloat struct {
	Value float64
	Valid bool
}

func (f *LenientFloat) UnmarshalJSON(data []byte) error {
	f.Valid = false
	// encoding/json calls UnmarshalJSON for explicit nulls too, and
	// unmarshalling null into a float64 is a silent no-op; treat it as
	// absent rather than a zero reading.
	if isJSONNull(data) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Value, f.Valid = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			f.Value, f.Valid = n, true
			return nil
		}
	}
	slog.Debug("Dropped unparseable gauge value", "raw", string(data))
	return nil
}

func (f *LenientFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// LenientInt is the integer counterpart of LenientFloat.
type LenientInt struct {
	Value int64
	Valid bool
}

func (i *LenientInt) UnmarshalJSON(data []byte) error {
	i.Valid = false
	if isJSONNull(data) {
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		i.Value, i.Valid = n, true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			i.Value, i.Valid = n, true
			return nil
		}
	}
	slog.Debug("Dropped unparseable gauge value", "raw", string(data))
	return nil
}

func (i *LenientInt) Ptr() *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Value
	return &v
}

func isJSONNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

type HeartbeatRequest struct {
	IdleSeconds   *int64       `json:"idle_seconds" binding:"required"`
	CPUUsage      LenientFloat `json:"cpu_usage"`
	MemoryUsage   LenientFloat `json:"memory_usage"`
	UptimeSeconds LenientInt   `json:"uptime_seconds"`
	Timestamp     *time.Time   `json:"timestamp"`
}

type HeartbeatResponse struct {
	Status          string  `json:"status"`
	EnergyWastedKWh float64 `json:"energy_wasted_kwh"`
	Cost            float64 `json:"cost"`
}

type PendingCommand struct {
	ID      string `json:"id"`
	Command string `json:"command"`
}

type PendingCommandsResponse struct {
	Commands []PendingCommand `json:"commands"`
}

type ReportResultRequest struct {
	Status  string `json:"status" binding:"required,oneof=executed failed"`
	Message string `json:"message" binding:"omitempty,max=500"`
}
