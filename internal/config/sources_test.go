package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldSource_PrecedenceOrder(t *testing.T) {
	t.Setenv("DK_T_NAME", "from-env")

	explicit := map[string]any{"name": "from-explicit"}
	fileSection := map[string]any{"name": "from-file"}

	src := newFieldSource(explicit, []string{"DK_T_"}, fileSection)
	assert.Equal(t, "from-explicit", src.String("name", "from-default"))

	srcNoExplicit := newFieldSource(nil, []string{"DK_T_"}, fileSection)
	assert.Equal(t, "from-env", srcNoExplicit.String("name", "from-default"))
}

func TestFieldSource_FileFallsBackToDefault(t *testing.T) {
	src := newFieldSource(nil, []string{"DK_NOPE_"}, nil)
	assert.Equal(t, "from-default", src.String("name", "from-default"))
}

func TestFieldSource_EnvIsCaseInsensitive(t *testing.T) {
	t.Setenv("dk_t_name", "lowercase-env")
	src := newFieldSource(nil, []string{"DK_T_"}, nil)
	assert.Equal(t, "lowercase-env", src.String("name", "default"))
}

func TestFieldSource_Secret_NeverExposedByString(t *testing.T) {
	src := newFieldSource(map[string]any{"password": "hunter2"}, nil, nil)
	secret := src.Secret("password", "")
	assert.Equal(t, "hunter2", secret.Reveal())
	assert.NotContains(t, secret.String(), "hunter2")
}

func TestFieldSource_Seconds(t *testing.T) {
	src := newFieldSource(map[string]any{"period": 1.5}, nil, nil)
	assert.Equal(t, 1500*time.Millisecond, src.Seconds("period", 0))

	defSrc := newFieldSource(nil, nil, nil)
	assert.Equal(t, 30*time.Second, defSrc.Seconds("missing", 30*time.Second))
}

func TestFieldSource_StringSlice_JSONArray(t *testing.T) {
	src := newFieldSource(map[string]any{"names": `["a", "b", "c"]`}, nil, nil)
	assert.Equal(t, []string{"a", "b", "c"}, src.StringSlice("names", nil))
}

func TestFieldSource_StringSlice_CSVFallback(t *testing.T) {
	src := newFieldSource(map[string]any{"names": "a, b ,c"}, nil, nil)
	assert.Equal(t, []string{"a", "b", "c"}, src.StringSlice("names", nil))
}

func TestFieldSource_URL_RejectsNonHTTPScheme(t *testing.T) {
	src := newFieldSource(map[string]any{"endpoint": "ftp://example.com"}, nil, nil)
	_, err := src.URL("endpoint", "")
	require.Error(t, err)
}

func TestFieldSource_URL_AcceptsHTTPS(t *testing.T) {
	src := newFieldSource(map[string]any{"endpoint": "https://example.com"}, nil, nil)
	got, err := src.URL("endpoint", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got)
}

func TestFieldSource_Port_ValidatesRange(t *testing.T) {
	src := newFieldSource(map[string]any{"port": 70000}, nil, nil)
	_, err := src.Port("port", 443)
	require.Error(t, err)

	ok := newFieldSource(map[string]any{"port": 8443}, nil, nil)
	got, err := ok.Port("port", 443)
	require.NoError(t, err)
	assert.Equal(t, 8443, got)
}
