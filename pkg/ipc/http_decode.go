package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxBodyBytes = 64 * 1024

// decodeJSONBody decodes a bounded JSON request body into dst. The returned
// status is the HTTP status to respond with on error. allowEmpty treats an
// absent or empty body as success, leaving dst zero-valued.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) (int, error) {
	if r.Body == nil {
		if allowEmpty {
			return 0, nil
		}
		return http.StatusBadRequest, fmt.Errorf("request body required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return 0, nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge,
				fmt.Errorf("request body too large (max %d bytes)", int64(maxBodyBytes))
		}
		return http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err)
	}
	return 0, nil
}
