// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/companydir/companydir/internal/shared"
)

// Error codes published by the API.
const (
	CodeInternal           = "ERR50001"
	CodeBadRequest         = "ERR40001"
	CodeNotFound           = "ERR40401"
	CodeDuplicate          = "ERR40901"
	CodeStatusConditionNot = "ERR40902"
	CodeTooManyRequests    = "ERR42901"
)

// ErrorSpec describes the status and message attached to an error code.
type ErrorSpec struct {
	Code   string
	Status int
	Msg    string
}

var errorSpecs = map[string]ErrorSpec{
	CodeInternal:           {Code: CodeInternal, Status: http.StatusInternalServerError, Msg: "Internal Server Error"},
	CodeBadRequest:         {Code: CodeBadRequest, Status: http.StatusBadRequest, Msg: "Bad Request Error"},
	CodeNotFound:           {Code: CodeNotFound, Status: http.StatusNotFound, Msg: "Data Not Found Error"},
	CodeDuplicate:          {Code: CodeDuplicate, Status: http.StatusConflict, Msg: "Duplicate Data Error"},
	CodeStatusConditionNot: {Code: CodeStatusConditionNot, Status: http.StatusConflict, Msg: "Status Condition Not Met Error"},
	CodeTooManyRequests:    {Code: CodeTooManyRequests, Status: http.StatusTooManyRequests, Msg: "Too Many Requests Error"},
}

// Spec returns the registered spec for code, falling back to the internal error.
func Spec(code string) ErrorSpec {
	if spec, ok := errorSpecs[code]; ok {
		return spec
	}
	return errorSpecs[CodeInternal]
}

// Classify maps a domain error onto its published error spec.
func Classify(err error) ErrorSpec {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return Spec(CodeNotFound)
	case errors.Is(err, shared.ErrBadRequest):
		return Spec(CodeBadRequest)
	case errors.Is(err, shared.ErrDuplicate):
		return Spec(CodeDuplicate)
	case errors.Is(err, shared.ErrStatusConditionNotMet):
		return Spec(CodeStatusConditionNot)
	default:
		return Spec(CodeInternal)
	}
}

// RespondError maps domain errors to the {msg, data, code} error envelope.
func RespondError(w http.ResponseWriter, err error) ErrorSpec {
	spec := Classify(err)
	JSON(w, spec.Status, ErrorBody{Msg: spec.Msg, Data: nil, Code: spec.Code})
	return spec
}
