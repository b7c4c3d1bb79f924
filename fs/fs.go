// Package appfs embeds the static files the binaries need: DB migrations & email templates.
package appfs

import "embed"

//go:embed migrations all:templates
var FS embed.FS
