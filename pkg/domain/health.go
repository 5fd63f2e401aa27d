package domain

import (
	"time"
)

// HealthStatus represents the health of a component, such as the prepared
// real-time environment
type HealthStatus struct {
	Status    HealthStatusValue `json:"status" yaml:"status"`
	Message   string            `json:"message" yaml:"message"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`

	Component string `json:"component,omitempty" yaml:"component,omitempty"`

	LastError     error  `json:"-" yaml:"-"`
	LastErrorText string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	ErrorCount    int64  `json:"error_count,omitempty" yaml:"error_count,omitempty"`

	Details map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// HealthStatusValue represents the health state
type HealthStatusValue string

const (
	HealthHealthy   HealthStatusValue = "healthy"
	HealthDegraded  HealthStatusValue = "degraded"
	HealthUnhealthy HealthStatusValue = "unhealthy"
	HealthUnknown   HealthStatusValue = "unknown"
)

// String returns the string representation of the health status
func (h HealthStatusValue) String() string {
	return string(h)
}

// IsHealthy returns true if the status represents a healthy state
func (h HealthStatusValue) IsHealthy() bool {
	return h == HealthHealthy
}

// NewHealthStatus creates a new health status with the given values
func NewHealthStatus(status HealthStatusValue, message string) *HealthStatus {
	return &HealthStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// NewHealthyStatus creates a healthy status
func NewHealthyStatus(message string) *HealthStatus {
	return NewHealthStatus(HealthHealthy, message)
}

// NewUnhealthyStatus creates an unhealthy status
func NewUnhealthyStatus(message string, err error) *HealthStatus {
	hs := NewHealthStatus(HealthUnhealthy, message)
	if err != nil {
		hs.LastError = err
		hs.LastErrorText = err.Error()
		hs.ErrorCount = 1
	}
	return hs
}

// RecordError attaches an error without changing the status value. Degraded
// components keep running with errors on record.
func (h *HealthStatus) RecordError(err error) {
	if err == nil {
		return
	}
	h.LastError = err
	h.LastErrorText = err.Error()
	h.ErrorCount++
}

// SetDetail adds a detail to the health status
func (h *HealthStatus) SetDetail(key string, value interface{}) {
	if h.Details == nil {
		h.Details = make(map[string]interface{})
	}
	h.Details[key] = value
}

// IsHealthy returns true if the status is healthy
func (h *HealthStatus) IsHealthy() bool {
	return h.Status.IsHealthy()
}
