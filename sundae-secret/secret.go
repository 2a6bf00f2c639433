// Package sundaesecret provides AWS Secrets Manager integration for loading
// configuration secrets into Go structs and command line flags.
package sundaesecret

import (
	"fmt"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/savaki/secrets"
	"github.com/urfave/cli/v2"
)

var SecretOpts struct {
	SecretName string
}

var SecretNameFlag = sundaecli.StringFlag("secret-name", "Secrets Manager secret whose keys set flags not given otherwise", &SecretOpts.SecretName)

func LoadSecret(s *session.Session, secretName string, data interface{}) error {
	api := secrets.WithSecretsManager(secretsmanager.New(s))
	manager, err := secrets.NewManager(api)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}

	if err := manager.Decode(secretName, &data); err != nil {
		return fmt.Errorf("failed to load secret %v: %v", secretName, err)
	}
	return nil
}

// Apply loads --secret-name, if set, and overlays it onto the flags of c.
func Apply(c *cli.Context, s *session.Session) error {
	if SecretOpts.SecretName == "" {
		return nil
	}

	values := map[string]string{}
	if err := LoadSecret(s, SecretOpts.SecretName, &values); err != nil {
		return err
	}
	return Overlay(c, values)
}

// Overlay sets flags from values, keyed by flag name. Flags given on the
// command line or through their environment variable win; keys that name no
// flag are ignored.
func Overlay(c *cli.Context, values map[string]string) error {
	known := map[string]bool{}
	for _, flag := range c.App.Flags {
		for _, name := range flag.Names() {
			known[name] = true
		}
	}

	for name, value := range values {
		if !known[name] || c.IsSet(name) {
			continue
		}
		if err := c.Set(name, value); err != nil {
			return fmt.Errorf("failed to set flag %v from secret: %w", name, err)
		}
	}
	return nil
}
