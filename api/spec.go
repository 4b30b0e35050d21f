// Package api embeds the OpenAPI document for the admin HTTP surface.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
