// Package web embeds the browser front-end served at the root path.
package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var content embed.FS

// Static returns the front-end files rooted at the static directory.
func Static() fs.FS {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Index returns the front-end page.
func Index() []byte {
	data, err := content.ReadFile("static/index.html")
	if err != nil {
		panic(err)
	}
	return data
}
