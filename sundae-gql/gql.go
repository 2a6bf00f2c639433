// Package sundaegql serves the membership operations as GraphQL next to the
// websocket bus.
package sundaegql

import (
	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
)

// AllowIntrospection enables introspection and GraphiQL outside production.
func AllowIntrospection() bool {
	return sundaecli.CommonOpts.Env != "prod"
}

type Resolver interface {
	Schema() string
	Config() *BaseConfig
}
