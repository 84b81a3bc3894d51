package version

import (
	"embed"
	"strings"
)

//go:embed version.txt
var fs embed.FS

// Version is the release of kube-checker, read from version.txt.
var Version string

func init() {
	c, err := fs.ReadFile("version.txt")
	if err != nil {
		panic(err)
	}
	Version = strings.TrimSpace(string(c))
}
