package ferrors

import "encoding/json"

// MatrixResponse is the {"errcode", "error"} body the Matrix federation
// API returns for every non-2xx response (spec.md §4.10).
type MatrixResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}

// HTTPStatus returns the HTTP status code to send alongside e, falling
// back to 500 if the error's code was never registered with one.
func HTTPStatus(err error) int {
	te, ok := asTraced(err)
	if !ok {
		return 500
	}
	if status := Lookup(te.Code).HTTPStatus; status != 0 {
		return status
	}
	return 500
}

// ToMatrixResponse converts err into the wire-level {errcode, error}
// body. Errors not constructed through this package map to
// M_UNKNOWN with the bare error string.
func ToMatrixResponse(err error) MatrixResponse {
	te, ok := asTraced(err)
	if !ok {
		return MatrixResponse{ErrCode: "M_UNKNOWN", Error: err.Error()}
	}

	def := Lookup(te.Code)
	errcode := def.MatrixError
	if errcode == "" {
		errcode = "M_UNKNOWN"
	}
	return MatrixResponse{ErrCode: errcode, Error: te.Message}
}

// WriteJSON renders ToMatrixResponse(err) as a JSON body, for handlers
// that need the bytes directly rather than going through an encoder.
func WriteJSON(err error) ([]byte, error) {
	return json.Marshal(ToMatrixResponse(err))
}

func asTraced(err error) (*TracedError, bool) {
	for err != nil {
		if te, ok := err.(*TracedError); ok {
			return te, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
