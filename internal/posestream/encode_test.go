package posestream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestOptionsFromRequest(t *testing.T) {
	assert.Equal(t, Options{Particles: true, MaxParticles: DefaultMaxParticles}, OptionsFromRequest(nil))

	req, err := structpb.NewStruct(map[string]interface{}{"particles": false, "max_particles": 20})
	require.NoError(t, err)
	assert.Equal(t, Options{Particles: false, MaxParticles: 20}, OptionsFromRequest(req))

	req, err = structpb.NewStruct(map[string]interface{}{"max_particles": -3})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxParticles, OptionsFromRequest(req).MaxParticles)
}

func TestEncodeFrame_NotUpdated(t *testing.T) {
	f := testFrame(0)
	f.Updated = false
	msg, err := EncodeFrame(f, Options{Particles: true})
	require.NoError(t, err)

	fields := msg.GetFields()
	assert.False(t, fields["updated"].GetBoolValue())
	_, hasCycle := fields["cycle"]
	assert.False(t, hasCycle, "step fields only on update ticks")
	_, hasParticles := fields["particles"]
	assert.False(t, hasParticles)

	tr, ok := DecodePose(msg, "transform")
	require.True(t, ok)
	assert.Equal(t, 0.1, tr.X)
	_, ok = DecodePose(msg, "missing")
	assert.False(t, ok)
}

func TestEncodeFrame_AllParticlesUnderLimit(t *testing.T) {
	msg, err := EncodeFrame(testFrame(7), Options{Particles: true, MaxParticles: 7})
	require.NoError(t, err)
	assert.Len(t, msg.GetFields()["particles"].GetListValue().GetValues(), 7)
}
