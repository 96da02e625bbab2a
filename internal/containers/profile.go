package containers

import "github.com/frostyard/kapsule/internal/incus"

// HostfsPath is where the recursive host-root bind mount lands inside
// every kapsule container.
const HostfsPath = "/.kapsule/host"

// buildSpec assembles the CreateInstance request for a new kapsule
// container: security/nesting config, the kapsule mode marker, and the
// root/gpu/hostfs device set.
func buildSpec(name string, source incus.InstanceSource, mode Mode) incus.InstancePost {
	return incus.InstancePost{
		Name:   name,
		Source: source,
		Config: map[string]string{
			"security.privileged": "true",
			"security.nesting":    "true",
			"raw.lxc":             "lxc.net.0.type=none",
			"user.kapsule.mode":   string(mode),
		},
		Devices: map[string]incus.Device{
			"root": {
				"type": "disk",
				"path": "/",
				"pool": "default",
			},
			// required=false: a GPU-less host must not fail CreateInstance
			// over a passthrough device it cannot satisfy.
			"gpu": {
				"type":     "gpu",
				"gid":      "video",
				"required": "false",
			},
			"hostfs": {
				"type":         "disk",
				"source":       "/",
				"path":         HostfsPath,
				"recursive":    "true",
				"allow-mounts": "true",
			},
		},
	}
}
