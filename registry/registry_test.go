package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hep-daq/ipbus/ipbus"
)

func TestDialUnknownScheme(t *testing.T) {
	assert := assert.New(t)

	r := New()
	_, err := r.Dial("nope://host:1234")
	assert.Error(err)
}

func TestDialAssignsDefaultIdentifier(t *testing.T) {
	assert := assert.New(t)

	var gotID string
	r := New()
	r.Register("fake", func(uri string, opts ...DialOption) (ipbus.ClientInterface, error) {
		cfg := applyDialOpts(opts)
		gotID = cfg.id
		return nil, nil
	})

	_, err := r.Dial("fake://somewhere")
	assert.NoError(err)
	assert.NotEmpty(gotID)
}

func TestDialHonorsExplicitIdentifier(t *testing.T) {
	assert := assert.New(t)

	var gotID string
	r := New()
	r.Register("fake", func(uri string, opts ...DialOption) (ipbus.ClientInterface, error) {
		cfg := applyDialOpts(opts)
		gotID = cfg.id
		return nil, nil
	})

	_, err := r.Dial("fake://somewhere", WithIdentifier("my-id"))
	assert.NoError(err)
	assert.Equal("my-id", gotID)
}

func TestDefaultRejectsUnknownScheme(t *testing.T) {
	assert := assert.New(t)

	def := Default()
	_, err := def.Dial("nope://host:1234")
	assert.Error(err)
}
