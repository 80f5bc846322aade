package checkin

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// Failure taxonomy for check-in runs. Every failure, regardless of code,
// routes the machine to its terminal error state; the code only records
// which collaborator gave up.
const (
	ErrCodePreconditionFailed = "CHECKIN_PRECONDITION_FAILED"
	ErrCodeAdapterFailed      = "CHECKIN_ADAPTER_FAILED"
	ErrCodeDecodeFailed       = "CHECKIN_DECODE_FAILED"
	ErrCodePersistenceFailed  = "CHECKIN_PERSISTENCE_FAILED"
)

var (
	ErrPreconditionFailed = apperrors.New("precondition failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePreconditionFailed)
	ErrAdapterFailed = apperrors.New("adapter failed", apperrors.CategoryExternal).
				WithTextCode(ErrCodeAdapterFailed)
	ErrDecodeFailed = apperrors.New("receipt decode failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeDecodeFailed)
	ErrPersistenceFailed = apperrors.New("persistence failed", apperrors.CategoryHandler).
				WithTextCode(ErrCodePersistenceFailed)
)

// CloneError copies a taxonomy sentinel and attaches occurrence details.
func CloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrPreconditionFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the taxonomy text code carried by err, if any.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// Reason renders the human-readable failure reason surfaced to the run
// context. Adapter messages are kept verbatim.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) && strings.TrimSpace(ge.Message) != "" {
		return ge.Message
	}
	return err.Error()
}
