// Package spec embeds the published OpenAPI document.
package spec

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
