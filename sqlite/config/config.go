// Package config re-exports the root config.Validator contract so
// sqlite.Options can be validated and loaded the same way every other
// component's configuration is, without every caller of sqlite.Options
// needing to import the root config package directly.
package config

import "github.com/go-extralite/extralite/config"

// Validator is the contract sqlite.Options implements.
type Validator = config.Validator
