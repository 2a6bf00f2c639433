package graphiql

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tj/assert"
)

func TestNew(t *testing.T) {
	w := httptest.NewRecorder()
	New("/bus/graphql")(w, httptest.NewRequest(http.MethodGet, "/graphql", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(w.Body.String(), `url: "/bus/graphql"`))
}
