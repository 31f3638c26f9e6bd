package ontology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterComputesImplicationClosure(t *testing.T) {
	o := New()
	profile, err := o.Register(RegisterInput{
		RunnerKey:    "gcp-docker",
		Capabilities: []string{"docker", "gcp"},
	})
	require.NoError(t, err)

	// docker implies linux, gcp implies cloud.
	assert.True(t, profile.Capabilities.Has("docker"))
	assert.True(t, profile.Capabilities.Has("linux"))
	assert.True(t, profile.Capabilities.Has("gcp"))
	assert.True(t, profile.Capabilities.Has("cloud"))
}

func TestRegisterTransitiveClosure(t *testing.T) {
	o := New(WithImplications(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"d"},
	}))
	profile, err := o.Register(RegisterInput{RunnerKey: "r", Capabilities: []string{"a"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, profile.Capabilities.Sorted())
}

func TestRegisterCyclicImplicationsTerminate(t *testing.T) {
	o := New(WithImplications(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"c": {"c"},
	}))
	profile, err := o.Register(RegisterInput{RunnerKey: "r", Capabilities: []string{"a", "c"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, profile.Capabilities.Sorted())
}

func TestRegisterNormalizesTokens(t *testing.T) {
	o := New()
	profile, err := o.Register(RegisterInput{
		RunnerKey:    "r",
		Capabilities: []string{" Docker ", "LINUX", ""},
	})
	require.NoError(t, err)
	assert.True(t, profile.Capabilities.Has("docker"))
	assert.True(t, profile.Capabilities.Has("linux"))
	assert.False(t, profile.Capabilities.Has(""))
}

func TestRegisterValidation(t *testing.T) {
	o := New()
	_, err := o.Register(RegisterInput{RunnerKey: "  "})
	require.Error(t, err)

	_, err = o.Register(RegisterInput{RunnerKey: "r", CostPerMinute: -1})
	require.Error(t, err)
}

func TestRegisterReplacesExistingProfile(t *testing.T) {
	o := New()
	_, err := o.Register(RegisterInput{RunnerKey: "r", Capabilities: []string{"docker"}})
	require.NoError(t, err)
	_, err = o.Register(RegisterInput{RunnerKey: "r", Capabilities: []string{"macos"}})
	require.NoError(t, err)

	caps, err := o.CapabilitiesOf("r")
	require.NoError(t, err)
	assert.True(t, caps.Has("macos"))
	assert.False(t, caps.Has("docker"))
}

func TestUnknownTokensBecomeCustomCapabilities(t *testing.T) {
	o := New()
	profile, err := o.Register(RegisterInput{RunnerKey: "r", Capabilities: []string{"quantum-fpga"}})
	require.NoError(t, err)
	assert.True(t, profile.Capabilities.Has("quantum-fpga"))
	assert.Equal(t, KindCustom, o.KindOf("quantum-fpga"))
}

func TestCapabilitiesOfUnknownRunner(t *testing.T) {
	o := New()
	_, err := o.CapabilitiesOf("ghost")
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "ghost", notFound.RunnerKey)
}

func TestProfileReturnsACopy(t *testing.T) {
	o := New()
	_, err := o.Register(RegisterInput{RunnerKey: "r", Capabilities: []string{"docker"}})
	require.NoError(t, err)

	p, err := o.Profile("r")
	require.NoError(t, err)
	p.Capabilities["mutated"] = struct{}{}

	caps, err := o.CapabilitiesOf("r")
	require.NoError(t, err)
	assert.False(t, caps.Has("mutated"))
}

func TestProfilesSortedByKey(t *testing.T) {
	o := New()
	for _, key := range []string{"zeta", "alpha", "mid"} {
		_, err := o.Register(RegisterInput{RunnerKey: key})
		require.NoError(t, err)
	}
	profiles := o.Profiles()
	require.Len(t, profiles, 3)
	assert.Equal(t, "alpha", profiles[0].RunnerKey)
	assert.Equal(t, "mid", profiles[1].RunnerKey)
	assert.Equal(t, "zeta", profiles[2].RunnerKey)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, o.RunnerKeys())
}
