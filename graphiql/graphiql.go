// Package graphiql serves the GraphiQL browser IDE.
package graphiql

import (
	"bytes"
	_ "embed"
	"net/http"
	"text/template"

	"github.com/rs/zerolog"
)

//go:embed graphiql.html
var graphiql string

var templ = template.Must(template.New("graphiql").Parse(graphiql))

// New endpoint is the url where you have your graphql api hosted
func New(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var buffer bytes.Buffer
		if err := templ.Execute(&buffer, endpoint); err != nil {
			zerolog.Ctx(req.Context()).Error().Err(err).Msg("unable to render graphiql")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(buffer.Bytes())
	}
}
