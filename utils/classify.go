package utils

import (
	"net/netip"
	"strings"
)

type AddressClass int

const (
	Public AddressClass = iota
	Loopback
	Private
	LinkLocal
	Multicast
	Unspecified
	CGNAT
	Invalid
)

var addressClassNames = map[AddressClass]string{
	Public:      "public",
	Loopback:    "loopback",
	Private:     "private",
	LinkLocal:   "link-local",
	Multicast:   "multicast",
	Unspecified: "unspecified",
	CGNAT:       "cgnat",
	Invalid:     "invalid",
}

func (c AddressClass) String() string {
	if name, ok := addressClassNames[c]; ok {
		return name
	}
	return "unknown"
}

// IsPublic is true only for addresses worth submitting to the resolver.
func (c AddressClass) IsPublic() bool {
	return c == Public
}

var (
	cgnatPrefix = netip.MustParsePrefix("100.64.0.0/10")

	// limited broadcast is in no range netip knows about
	broadcast = netip.MustParseAddr("255.255.255.255")
)

// Classify places an address in exactly one AddressClass. The first
// matching check wins.
func Classify(address string) AddressClass {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return Invalid
	}
	addr = addr.WithZone("").Unmap()

	switch {
	case addr.IsLoopback():
		return Loopback
	case addr.IsPrivate():
		return Private
	case addr.IsLinkLocalUnicast():
		return LinkLocal
	case addr.IsMulticast():
		return Multicast
	case addr.IsUnspecified():
		return Unspecified
	}

	if addr == broadcast {
		return Unspecified
	}

	if addr.Is4() && cgnatPrefix.Contains(addr) {
		return CGNAT
	}

	return Public
}
