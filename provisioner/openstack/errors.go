package openstack

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAuthenticationFailure  = errors.New("authentication failure")
	ErrNoFloatingIPCapability = errors.New("not allowed to manage floating IPs")
	ErrServerNotFound         = errors.New("no such server")
)

// ActionFailedError reports a provider operation that did not go through.
// Suppressed holds the failure of a compensating action, if any.
type ActionFailedError struct {
	Msg        string
	Err        error
	Suppressed error
}

func (e *ActionFailedError) Error() string {
	return describeFailure(e.Msg, e.Err, e.Suppressed)
}

func (e *ActionFailedError) Unwrap() error {
	return e.Err
}

// ProvisioningFailedError reports a server that never became usable.
type ProvisioningFailedError struct {
	Server     string
	Status     string
	Fault      servers.Fault
	Msg        string
	Err        error
	Suppressed error
}

func (e *ProvisioningFailedError) Error() string {
	return describeFailure(e.Msg, e.Err, e.Suppressed)
}

func (e *ProvisioningFailedError) Unwrap() error {
	return e.Err
}

func describeFailure(msg string, err, suppressed error) string {
	var sb strings.Builder
	sb.WriteString(msg)
	if err != nil {
		sb.WriteString(": ")
		sb.WriteString(err.Error())
	}
	if suppressed != nil {
		sb.WriteString(" (suppressed: ")
		sb.WriteString(suppressed.Error())
		sb.WriteString(")")
	}
	return sb.String()
}

func describeFault(fault servers.Fault) string {
	if fault.Code == 0 && fault.Message == "" {
		return "none"
	}
	description := fmt.Sprintf("%d: %s", fault.Code, fault.Message)
	if fault.Details != "" {
		description += fmt.Sprintf(" (%s)", fault.Details)
	}
	return description
}

// statusCode extracts the HTTP status of a provider error, 0 when there is none.
func statusCode(err error) int {
	var codeErr gophercloud.StatusCodeError
	if errors.As(err, &codeErr) {
		return codeErr.GetStatusCode()
	}
	return 0
}

func isNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

func isForbidden(err error) bool {
	return statusCode(err) == http.StatusForbidden
}

func isUnauthorized(err error) bool {
	return statusCode(err) == http.StatusUnauthorized
}
