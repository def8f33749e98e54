package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/lojf/paygate/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var ge *services.GatewayError
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrUnknownMethod):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrConcurrencyConflict),
		errors.Is(err, services.ErrAlreadyPaid),
		errors.Is(err, services.ErrMismatch):
		return http.StatusConflict
	case errors.Is(err, services.ErrWrongSettlement), errors.Is(err, services.ErrNotOwner):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrSessionExpired):
		return http.StatusGone
	case errors.As(err, &ge):
		if ge.Retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title></head>
<body style="font-family:sans-serif;max-width:32rem;margin:4rem auto;text-align:center">
<h1>{{.Title}}</h1>
<p>{{.Body}}</p>
{{if .Ref}}<p><code>{{.Ref}}</code></p>{{end}}
<p>You can close this page and return to Telegram.</p>
</body></html>`))

type page struct {
	Title string
	Body  string
	Ref   string
}

func renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTmpl.Execute(w, p)
}
