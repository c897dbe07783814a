package studio

import "sync/atomic"

// Provider identifies a native codec implementation.
type Provider uint8

const (
	ProviderAuto    Provider = iota // Let the registry choose
	ProviderLibvpx                  // BSD VP8/VP9
	ProviderLibopus                 // BSD Opus
	providerCount
)

var providerNames = [providerCount]string{
	ProviderAuto:    "auto",
	ProviderLibvpx:  "libvpx",
	ProviderLibopus: "libopus",
}

func (p Provider) String() string {
	if p < providerCount {
		return providerNames[p]
	}
	return "unknown"
}

// Runtime availability, set once the shared library has been probed.
var providerAvailable [providerCount]atomic.Bool

// Available reports whether the provider's library was loaded.
func (p Provider) Available() bool {
	if p >= providerCount || p == ProviderAuto {
		return false
	}
	return providerAvailable[p].Load()
}

func setProviderAvailable(p Provider, ok bool) {
	if p < providerCount {
		providerAvailable[p].Store(ok)
	}
}
