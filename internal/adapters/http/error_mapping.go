package httpadapter

import (
	"net/http"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

// statusByKind is checked in order; the first kind err wraps wins.
var statusByKind = []struct {
	kind   error
	status int
}{
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrDocumentNotFound, http.StatusNotFound},
	{domain.ErrBatchInProgress, http.StatusConflict},
	{domain.ErrTemporary, http.StatusServiceUnavailable},
}

// retryAfterSeconds is advertised with every 503 caused by a temporary
// upstream failure.
const retryAfterSeconds = "5"

func statusForError(err error) int {
	for _, m := range statusByKind {
		if domain.IsKind(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// writeDomainError answers with the status matching err's kind. Unclassified
// errors are reported as a bare 500 so internals do not leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	switch status {
	case http.StatusInternalServerError:
		writeError(w, status, "internal server error")
		return
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeError(w, status, err.Error())
}
