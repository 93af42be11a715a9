package controlhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractTargetID(t *testing.T) {
	assert := assert.New(t)

	ip, port, err := ExtractTargetID("ipbusudp-2.0-controlhub://hub.example:10203?target=192.168.1.42:50001")
	assert.NoError(err)
	assert.Equal(uint32(192)<<24|uint32(168)<<16|uint32(1)<<8|uint32(42), ip)
	assert.Equal(uint16(50001), port)
}

func TestExtractTargetIDMissingTarget(t *testing.T) {
	assert := assert.New(t)

	_, _, err := ExtractTargetID("ipbusudp-2.0-controlhub://hub.example:10203")
	assert.Error(err)
	var xe *XMLfileMissingRequiredParameters
	assert.ErrorAs(err, &xe)
}

func TestExtractTargetIDBadPort(t *testing.T) {
	assert := assert.New(t)

	_, _, err := ExtractTargetID("ipbusudp-2.0-controlhub://hub.example:10203?target=192.168.1.42:notaport")
	assert.Error(err)
	var xe *XMLfileMissingRequiredParameters
	assert.ErrorAs(err, &xe)
}
