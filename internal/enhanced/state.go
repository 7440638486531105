// ABOUTME: Connection, license and status value types returned by the enhanced gateway
// ABOUTME: Also defines ErrPersistence, the only error class that leaves this package

package enhanced

import (
	"errors"
	"strings"
	"time"
)

// ErrPersistence marks a failure of the backing key/value store. Remote
// failures are never reported as errors; only this class propagates.
var ErrPersistence = errors.New("enhanced: persistence failure")

// Reason explains why the gateway is disconnected.
type Reason string

const (
	// ReasonNotConfigured means no service URL is configured; no network
	// attempt was made.
	ReasonNotConfigured Reason = "not_configured"
	// ReasonUnreachable means an attempt was made and failed in any way.
	ReasonUnreachable Reason = "unreachable"
)

// ConnectionState is the normalized outcome of a remote call.
type ConnectionState struct {
	Connected bool   `json:"connected"`
	Reason    Reason `json:"reason,omitempty"`
}

// Connected returns the state of a successful call.
func Connected() ConnectionState {
	return ConnectionState{Connected: true}
}

// Disconnected returns a failed state with the given reason.
func Disconnected(reason Reason) ConnectionState {
	return ConnectionState{Reason: reason}
}

// LicenseStatus is the license state reported by the enhanced service.
type LicenseStatus string

const (
	LicenseUnknown     LicenseStatus = "unknown"
	LicenseUnactivated LicenseStatus = "unactivated"
	LicenseActive      LicenseStatus = "active"
	LicenseExpired     LicenseStatus = "expired"
)

// ParseLicenseStatus maps a remote value onto a LicenseStatus. Anything it
// does not recognize is LicenseUnknown.
func ParseLicenseStatus(s string) LicenseStatus {
	switch ls := LicenseStatus(strings.ToLower(strings.TrimSpace(s))); ls {
	case LicenseUnactivated, LicenseActive, LicenseExpired:
		return ls
	default:
		return LicenseUnknown
	}
}

// SystemStatus is what status displays consume.
type SystemStatus struct {
	ConnectionState
	LicenseStatus LicenseStatus `json:"licenseStatus"`
	ExpiresAt     *time.Time    `json:"expiresAt,omitempty"`
}

// ProviderConfig carries the AI provider settings pushed to the enhanced
// service. Empty fields are omitted from the request.
type ProviderConfig struct {
	LLMProvider string `json:"llmProvider,omitempty"`
	LLMBaseURL  string `json:"llmBaseUrl,omitempty"`
	LLMAPIKey   string `json:"llmApiKey,omitempty"`
	LLMModel    string `json:"llmModel,omitempty"`
	MTProvider  string `json:"mtProvider,omitempty"`
	MTBaseURL   string `json:"mtBaseUrl,omitempty"`
	MTAPIKey    string `json:"mtApiKey,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p ProviderConfig) IsEmpty() bool {
	return p == ProviderConfig{}
}
