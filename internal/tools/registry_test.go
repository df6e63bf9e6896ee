package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakitchen/observability-agent/internal/auth"
	"github.com/datakitchen/observability-agent/internal/config"
)

func TestRegistryCoversEveryDocumentedAgentType(t *testing.T) {
	for _, name := range []string{
		"airflow", "databricks", "powerbi", "qlik",
		"synapse_analytics", "ssis", "eventhubs", "dbt_tests",
	} {
		_, ok := Registry[name]
		assert.True(t, ok, "agent_type %q must have a registered constructor", name)
	}
}

func TestBuildAuthenticatorUnknownTypeFails(t *testing.T) {
	_, err := buildAuthenticator(config.ToolAuthConfig{Type: "carrier-pigeon"})
	require.Error(t, err)
}

func TestBuildAuthenticatorNoneIsNoAuth(t *testing.T) {
	a, err := buildAuthenticator(config.ToolAuthConfig{})
	require.NoError(t, err)
	assert.IsType(t, auth.NoAuth{}, a)
}

func TestEnvPrefixesForIncludesBlockSpecificAndGlobalPrefix(t *testing.T) {
	prefixes := envPrefixesFor("airflow")
	assert.Contains(t, prefixes, "DK_AIRFLOW_")
	assert.Contains(t, prefixes, "DK_")
}
