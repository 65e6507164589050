//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// Error codes in the 40001-49999 range are the client's fault and return
// HTTP Status 400 or 404, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault and return HTTP Status
// 500 or 503.
//
// NEVER change any of the current error codes, only append new errors after
// the current last 4XXX or 5XXX. Retired codes are not reused.
var (
	ErrResourceNotFound      = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedCommitment   = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed commitment")}
	ErrMalformedNullifier    = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed nullifier hash")}
	ErrMalformedQueryParam   = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed query parameter")}
	ErrCommitmentNotIndexed  = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("commitment not indexed")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
