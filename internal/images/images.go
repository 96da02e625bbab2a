// Package images parses the `<server-alias>:<image-path>` image grammar
// into the InstanceSource Incus expects, resolving the server alias
// against a small static simplestreams registry.
//
// Grounded on compose-go/v2/loader's "parse a domain grammar into a typed
// model, reject unknown tokens" shape; the grammar here is simpler (one
// separator, two tokens) so no parser-combinator library is warranted.
package images

import (
	"strings"

	"github.com/frostyard/kapsule/internal/incus"
	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// servers maps a known alias to the simplestreams endpoint it resolves to.
var servers = map[string]string{
	"images":       "https://images.linuxcontainers.org",
	"ubuntu":       "https://cloud-images.ubuntu.com/releases",
	"ubuntu-daily": "https://cloud-images.ubuntu.com/daily",
}

// Parse splits image into its server-alias and image-path components and
// resolves them into an incus.InstanceSource. An empty image is the
// caller's responsibility to substitute with the configured default
// before calling Parse.
func Parse(image string) (incus.InstanceSource, error) {
	idx := strings.IndexByte(image, ':')
	if idx <= 0 || idx == len(image)-1 {
		return incus.InstanceSource{}, kapsuleerrors.New(kapsuleerrors.InvalidArgument,
			"image must be of the form <server-alias>:<image-path>, got "+image)
	}
	alias, path := image[:idx], image[idx+1:]
	server, ok := servers[alias]
	if !ok {
		return incus.InstanceSource{}, kapsuleerrors.New(kapsuleerrors.InvalidArgument,
			"unknown image server alias "+alias)
	}
	return incus.InstanceSource{
		Type:     "image",
		Protocol: "simplestreams",
		Server:   server,
		Alias:    path,
	}, nil
}
