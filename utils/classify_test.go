package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		address string
		want    AddressClass
	}{
		{"127.0.0.1", Loopback},
		{"127.0.0.53", Loopback},
		{"::1", Loopback},
		{"10.1.2.3", Private},
		{"172.16.0.9", Private},
		{"192.168.1.1", Private},
		{"fd00::1", Private},
		{"169.254.10.1", LinkLocal},
		{"fe80::1", LinkLocal},
		{"fe80::1%eth0", LinkLocal},
		{"fe80::", LinkLocal},
		{"224.0.0.1", Multicast},
		{"ff02::1", Multicast},
		{"ff00::", Multicast},
		{"0.0.0.0", Unspecified},
		{"::", Unspecified},
		{"255.255.255.255", Unspecified},
		{"100.64.0.1", CGNAT},
		{"100.127.255.254", CGNAT},
		{"100.128.0.1", Public},
		{"8.8.8.8", Public},
		{" 1.1.1.1 ", Public},
		{"2001:4860:4860::8888", Public},
		{"::ffff:10.0.0.1", Private},
		{"not-an-ip", Invalid},
		{"", Invalid},
		{"256.1.1.1", Invalid},
		{"1.2.3", Invalid},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.address), "got %s", Classify(tt.address))
		})
	}
}

func TestAddressClassIsPublic(t *testing.T) {
	assert.True(t, Public.IsPublic())
	for _, c := range []AddressClass{Loopback, Private, LinkLocal, Multicast, Unspecified, CGNAT, Invalid} {
		assert.False(t, c.IsPublic(), c.String())
	}
}
