package pool

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointsList(t *testing.T) {
	data := []byte(`
- name: alpha
  url: https://alpha.example.com
  max_concurrent: 2
  cooldown: 3s
  backoff_base: 250ms
  rate_limit_rps: 5
- url: https://beta.example.com
  secondary_url: wss://beta.example.com
`)
	specs, err := ParseEndpoints(data)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, 2, specs[0].MaxConcurrent)
	assert.Equal(t, 3*time.Second, specs[0].Cooldown)
	assert.Equal(t, 250*time.Millisecond, specs[0].BackoffBase)
	assert.Equal(t, 5.0, specs[0].RateLimitRPS)
	assert.Equal(t, "wss://beta.example.com", specs[1].SecondaryURL)
}

func TestParseEndpointsMapping(t *testing.T) {
	data := []byte(`{"endpoints": [{"name": "a", "url": "http://a.example.com"}]}`)
	specs, err := ParseEndpoints(data)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "http://a.example.com", specs[0].URL)
}

func TestParseEndpointsEmptyDocument(t *testing.T) {
	specs, err := ParseEndpoints(nil)
	require.NoError(t, err)
	assert.Empty(t, specs)
}

func TestParseEndpointsRejectsScalar(t *testing.T) {
	_, err := ParseEndpoints([]byte("just a string"))
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- url: http://a.example.com\n- url: http://b.example.com\n"), 0o600))

	specs, err := FileSource{Path: path}.Endpoints()
	require.NoError(t, err)
	assert.Len(t, specs, 2)
}

func TestFileSourceErrorsWrapConfiguration(t *testing.T) {
	_, err := FileSource{}.Endpoints()
	assert.True(t, errors.Is(err, ErrConfiguration))

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "nope.yaml")}.Endpoints()
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestCombinedSource(t *testing.T) {
	combined := CombinedSource{testSpecs(1), nil, StaticSource{{URL: "http://z.example.com"}}}
	specs, err := combined.Endpoints()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "http://z.example.com", specs[1].URL)

	broken := CombinedSource{testSpecs(1), FileSource{}}
	_, err = broken.Endpoints()
	assert.ErrorIs(t, err, ErrConfiguration)
}
