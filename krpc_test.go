package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_packet_Marshal(t *testing.T) {
	p := newQueryPacket("aa", "ping", &answer{ID: "abcdefghij0123456789"})
	b, err := p.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "target")
	assert.NotContains(t, string(b), "1:r")

	var p2 packet
	require.NoError(t, p2.Unmarshal(b))
	assert.Equal(t, "ping", p2.Q)
	require.NotNil(t, p2.A)
	assert.Equal(t, "abcdefghij0123456789", p2.A.ID)
	assert.Nil(t, p2.R)
}

func Test_packet_Unmarshal(t *testing.T) {
	b1 := []byte("d1:eli201e23:A Generic Error Ocurrede1:t2:aa1:y1:ee")
	p := testPacketUnmarshal(t, b1)
	e := p.failure()
	assert.Equal(t, GenericError, e.Code)
	assert.Equal(t, "A Generic Error Ocurred", e.Message)

	b2 := []byte("d1:ad2:id20:abcdefghij0123456789e1:q4:ping1:t2:aa1:y1:qe")
	p = testPacketUnmarshal(t, b2)
	assert.Equal(t, "q", p.Y)
	assert.Equal(t, "aa", p.T)

	b3 := []byte("d1:ad2:id20:abcdefghij01234567896:target20:mnopqrstuvwxyz123456e1:q9:find_node1:t2:aa1:y1:qe")
	p = testPacketUnmarshal(t, b3)
	assert.Equal(t, "mnopqrstuvwxyz123456", p.A.Target)

	b4 := []byte("d1:ad2:id20:abcdefghij01234567899:info_hash20:mnopqrstuvwxyz123456e1:q9:get_peers1:t2:aa1:y1:qe")
	p = testPacketUnmarshal(t, b4)
	assert.Equal(t, "mnopqrstuvwxyz123456", p.A.InfoHash)

	b5 := []byte("d1:ad2:id20:abcdefghij012345678912:implied_porti1e9:info_hash20:mnopqrstuvwxyz1234564:porti6881e5:token8:aoeusnthe1:q13:announce_peer1:t2:aa1:y1:qe")
	p = testPacketUnmarshal(t, b5)
	assert.Equal(t, 6881, p.A.Port)
	assert.Equal(t, 1, p.A.ImpliedPort)
	assert.Equal(t, "aoeusnth", p.A.Token)

	b6 := []byte("d1:rd2:id20:0123456789abcdefghij5:token8:aoeusnth6:valuesl6:axje.u6:idhtnmee1:t2:aa1:y1:re")
	p = testPacketUnmarshal(t, b6)
	require.NotNil(t, p.R)
	assert.Equal(t, []string{"axje.u", "idhtnm"}, p.R.Values)
}

func Test_packet_Unmarshal_garbage(t *testing.T) {
	var p packet
	assert.Error(t, p.Unmarshal([]byte("not bencode")))
	assert.Error(t, p.Unmarshal([]byte("d1:t2:aa")))
}

func Test_packet_failure(t *testing.T) {
	p := newErrorPacket("", MethodUnknown)
	assert.Equal(t, "e", p.T)
	b, err := p.Marshal()
	require.NoError(t, err)
	var p2 packet
	require.NoError(t, p2.Unmarshal(b))
	assert.Equal(t, "e", p2.T)
	assert.Equal(t, &Error{Code: MethodUnknown, Message: "Method Unknown"}, p2.failure())

	p = &packet{Y: "e"}
	assert.Equal(t, ProtocolError, p.failure().Code)
}

func testPacketUnmarshal(t *testing.T, b []byte) *packet {
	var p packet
	require.NoError(t, p.Unmarshal(b))
	_, err := p.Marshal()
	require.NoError(t, err)
	return &p
}
