package sundaegql

import (
	"fmt"

	"github.com/SundaeSwap-finance/sundae-bus/graphiql"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
)

// Mount adds the graphql endpoint to router, with GraphiQL attached when
// introspection is allowed.
func Mount(router chi.Router, resolver Resolver) error {
	relay, err := GraphQLRelay(resolver)
	if err != nil {
		return err
	}

	router.Post("/graphql", middleware.NoCache(relay).ServeHTTP)
	// Allow arbitrary path parameters, for better UX in the browser
	router.Post("/graphql/*", middleware.NoCache(relay).ServeHTTP)
	if AllowIntrospection() {
		router.Get("/graphql", graphiql.New("/graphql"))
	}
	resolver.Config().Logger.Debug().Bool("graphiql", AllowIntrospection()).Msg("mounted graphql")
	return nil
}

// Construct an http relay that handles graphql requests
func GraphQLRelay(resolver Resolver) (*relay.Handler, error) {
	opts := []graphql.SchemaOpt{
		graphql.MaxDepth(15),
		graphql.UseFieldResolvers(),
	}
	if !AllowIntrospection() {
		opts = append(opts, graphql.DisableIntrospection())
	}

	schema, err := graphql.ParseSchema(resolver.Schema(), resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse schema: %w", err)
	}

	return &relay.Handler{Schema: schema}, nil
}
