// Package apperr defines the failure kinds shared by the session state models.
//
// Operations wrap one of the sentinels below with context using fmt.Errorf and %w;
// callers classify with errors.Is.
package apperr

import (
	"errors"
	"strings"

	"github.com/4xmen/cafemeet/pkg/i18n"
)

var (
	ErrRadioDisabled       = errors.New("radio is not enabled")
	ErrScanInProgress      = errors.New("scan already in progress")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidState        = errors.New("invalid state")
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrNoSession           = errors.New("no active session")
)

// Kind returns the sentinel err wraps, or nil when err is not one of ours.
func Kind(err error) error {
	for _, kind := range []error{
		ErrRadioDisabled,
		ErrScanInProgress,
		ErrNotFound,
		ErrInvalidInput,
		ErrInvalidState,
		ErrCollaboratorFailure,
		ErrNoSession,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Message picks the user-facing text for err, untranslated. Errors read
// "<what happened>: <detail>: <kind>", and the leading part is shown when it
// has translations. Unclassified errors read "internal server error".
func Message(err error) string {
	msg := err.Error()
	if i18n.Known(msg) {
		return msg
	}
	if lead, _, ok := strings.Cut(msg, ": "); ok && i18n.Known(lead) {
		return lead
	}
	if kind := Kind(err); kind != nil {
		return kind.Error()
	}
	return "internal server error"
}
