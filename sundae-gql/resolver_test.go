package sundaegql

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	sundaerest "github.com/SundaeSwap-finance/sundae-bus/sundae-rest"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/tj/assert"
)

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func newTestServer(t *testing.T) (*httptest.Server, *sundaebus.Registry) {
	registry := sundaebus.NewRegistry()
	membership := &sundaebus.Membership{
		Directory: sundaebus.NewDirectory(),
		Notifier:  &sundaebus.Notifier{Registry: registry, Logger: zerolog.Nop()},
	}
	config := NewConfig(sundaecli.NewService("test"))
	config.Logger = zerolog.Nop()

	router := sundaerest.Middlewares(config.Service, chi.NewRouter())
	err := Mount(router, NewMembershipResolver(config, membership))
	assert.Nil(t, err)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, registry
}

func post(t *testing.T, server *httptest.Server, query string) gqlResponse {
	body, err := json.Marshal(map[string]string{"query": query})
	assert.Nil(t, err)

	resp, err := http.Post(server.URL+"/graphql", "application/json", bytes.NewReader(body))
	assert.Nil(t, err)
	defer resp.Body.Close()

	var got gqlResponse
	assert.Nil(t, json.NewDecoder(resp.Body).Decode(&got))
	return got
}

type refreshCounter struct {
	id string
	n  int
}

func (r *refreshCounter) ID() string                      { return r.id }
func (r *refreshCounter) Deliver(sundaebus.Message) error { return nil }
func (r *refreshCounter) Refresh() error                  { r.n++; return nil }

func TestMembershipResolver(t *testing.T) {
	t.Run("mutations then query", func(t *testing.T) {
		server, registry := newTestServer(t)
		observer := &refreshCounter{id: "c1"}
		registry.Observe(observer, "bob")

		got := post(t, server, `mutation { a: addMember(channel: "team", identity: "bob") b: addMember(channel: "crew", identity: "bob") }`)
		assert.Len(t, got.Errors, 0)
		assert.JSONEq(t, `{"a": true, "b": true}`, string(got.Data))
		assert.Equal(t, 2, observer.n)

		got = post(t, server, `{ channels(identity: "bob") { id members } }`)
		assert.Len(t, got.Errors, 0)
		assert.JSONEq(t, `{"channels": [{"id": "crew", "members": ["bob"]}, {"id": "team", "members": ["bob"]}]}`, string(got.Data))

		got = post(t, server, `{ channelMap(identity: "bob") }`)
		assert.Len(t, got.Errors, 0)
		assert.JSONEq(t, `{"channelMap": {"crew": ["bob"], "team": ["bob"]}}`, string(got.Data))
	})

	t.Run("remove member", func(t *testing.T) {
		server, _ := newTestServer(t)

		post(t, server, `mutation { addMember(channel: "team", identity: "bob") }`)
		got := post(t, server, `mutation { removeMember(channel: "team", identity: "bob") }`)
		assert.Len(t, got.Errors, 0)

		got = post(t, server, `{ channels(identity: "bob") { id } }`)
		assert.JSONEq(t, `{"channels": []}`, string(got.Data))
	})

	t.Run("channels are sorted by id", func(t *testing.T) {
		directory := sundaebus.NewDirectory()
		for _, id := range []string{"zeta", "alpha", "mid"} {
			directory.Add(id, "bob")
		}
		directory.Add("mid", "carol")
		resolver := NewMembershipResolver(BaseConfig{}, &sundaebus.Membership{
			Directory: directory,
			Notifier:  &sundaebus.Notifier{Registry: sundaebus.NewRegistry(), Logger: zerolog.Nop()},
		})

		channels, err := resolver.Channels(context.Background(), struct{ Identity string }{Identity: "bob"})
		assert.Nil(t, err)
		assert.Len(t, channels, 3)
		assert.Equal(t, "alpha", channels[0].ID)
		assert.Equal(t, "mid", channels[1].ID)
		assert.Equal(t, []string{"bob", "carol"}, channels[1].Members)
		assert.Equal(t, "zeta", channels[2].ID)
	})

	t.Run("invalid identity is an error", func(t *testing.T) {
		server, _ := newTestServer(t)

		got := post(t, server, `mutation { addMember(channel: "team", identity: "b|ob") }`)
		assert.Len(t, got.Errors, 1)
	})

	t.Run("graphiql outside production", func(t *testing.T) {
		server, _ := newTestServer(t)

		resp, err := http.Get(server.URL + "/graphql")
		assert.Nil(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
