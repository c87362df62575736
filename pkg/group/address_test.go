package group

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/pkg/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantErr   bool
		multicast bool
	}{
		{name: "chat group", in: "224.0.0.123:4983", multicast: true},
		{name: "probe group", in: "224.0.0.125:28324", multicast: true},
		{name: "top of range", in: "239.255.255.255:1", multicast: true},
		{name: "unicast", in: "192.168.1.10:4983", multicast: false},
		{name: "ipv6 multicast", in: "[ff02::1]:4983", multicast: false},
		{name: "missing port", in: "224.0.0.123", wantErr: true},
		{name: "garbage", in: "not-an-address", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.multicast, a.IsMulticast())
			if tt.multicast {
				assert.NoError(t, a.Validate())
			} else {
				assert.True(t, types.IsErrCode(a.Validate(), types.ErrCodeNotMulticast))
			}
		})
	}
}

func TestChannelName(t *testing.T) {
	a := MustParse("224.0.0.123:4983")
	assert.Equal(t, "multicast_communicator:224.0.0.123:4983", a.ChannelName(""))
	assert.Equal(t, "test:224.0.0.123:4983", a.ChannelName("test"))
	assert.Equal(t, a.ChannelName(config.DefaultChannelPrefix), a.ChannelName(""))

	other := MustParse("224.0.0.123:4984")
	assert.NotEqual(t, a.ChannelName(""), other.ChannelName(""))
}

func TestZeroValueIsInvalid(t *testing.T) {
	var a Address
	assert.False(t, a.IsMulticast())
	assert.Error(t, a.Validate())
	assert.Equal(t, "invalid", a.String())
}

func TestUDPAddr(t *testing.T) {
	a := New(netip.MustParseAddr("224.0.0.123"), 4983)
	u := a.UDPAddr()
	assert.Equal(t, "224.0.0.123", u.IP.String())
	assert.Equal(t, 4983, u.Port)
}
