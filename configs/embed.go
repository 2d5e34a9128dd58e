// Package configs carries the configuration template embedded into the
// binary, so `loupe init` works the same for source builds and binary
// releases.
package configs

import _ "embed"

// DefaultConfigTemplate is the annotated YAML written by `loupe init`.
// Every key is optional and documented inline; the file mirrors the
// defaults in internal/config.
//
//go:embed default-config.yaml
var DefaultConfigTemplate string
