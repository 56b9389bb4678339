// Package templates embeds the default captive portal pages.
package templates

import "embed"

//go:embed *.html
var FS embed.FS
