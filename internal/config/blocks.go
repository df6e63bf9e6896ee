package config

import (
	"time"

	"github.com/datakitchen/observability-agent/internal/redact"
)

// CoreConfig is the `core` block: process-wide identity and the
// Observability service-account credential used by the event sender
// and heartbeat.
type CoreConfig struct {
	AgentType                    string
	AgentKey                     string
	Version                      string
	ObservabilityBaseURL         string
	ObservabilityServiceAccountKey redact.Secret
	HeartbeatPeriod              time.Duration
	HeartbeatCron                string
	MaxChannelCapacity           int
}

var CoreEnvPrefixes = []string{"DK_CORE_", "DK_"}

func BuildCoreConfig(src *FieldSource) (CoreConfig, error) {
	baseURL, err := src.URL("observability_base_url", "")
	if err != nil {
		return CoreConfig{}, err
	}
	return CoreConfig{
		AgentType:                      src.String("agent_type", ""),
		AgentKey:                       src.String("agent_key", ""),
		Version:                        src.String("version", "dev"),
		ObservabilityBaseURL:           normalizeTrailingSlash(baseURL),
		ObservabilityServiceAccountKey: src.Secret("observability_service_account_key", ""),
		HeartbeatPeriod:                src.Seconds("heartbeat_period", 60*time.Second),
		HeartbeatCron:                  src.String("heartbeat_poll_cron", ""),
		MaxChannelCapacity:             src.Int("max_channel_capacity", 100),
	}, nil
}

func normalizeTrailingSlash(url string) string {
	if url == "" {
		return url
	}
	if url[len(url)-1] == '/' {
		return url
	}
	return url + "/"
}

// HTTPConfig is the `http` block: transport-level tuning shared by
// every outbound client, independent of which tool or auth scheme it
// targets.
type HTTPConfig struct {
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	PoolTimeout         time.Duration
	MaxConnections      int
	MaxKeepAlive        int
	KeepAliveExpiry     time.Duration
	ConnectionRetries   int
	FollowRedirects     bool
	HTTP2               bool
	TLSVerify           string // "on", "off", "ca_file"
	TLSCAFile           string
	RateLimitPerSecond  float64
	RateLimitBurst      int
}

var HTTPEnvPrefixes = []string{"DK_HTTP_", "DK_"}

func BuildHTTPConfig(src *FieldSource) (HTTPConfig, error) {
	return HTTPConfig{
		ConnectTimeout:     src.Seconds("connect_timeout", 10*time.Second),
		ReadTimeout:        src.Seconds("read_timeout", 30*time.Second),
		WriteTimeout:       src.Seconds("write_timeout", 30*time.Second),
		PoolTimeout:        src.Seconds("pool_timeout", 5*time.Second),
		MaxConnections:     src.Int("max_connections", 100),
		MaxKeepAlive:       src.Int("max_keepalive_connections", 20),
		KeepAliveExpiry:    src.Seconds("keepalive_expiry", 5*time.Second),
		ConnectionRetries:  src.Int("connection_retries", 0),
		FollowRedirects:    src.Bool("follow_redirects", true),
		HTTP2:              src.Bool("http2", false),
		TLSVerify:          src.String("tls_verify", "on"),
		TLSCAFile:          src.String("tls_ca_file", ""),
		RateLimitPerSecond: src.Float("rate_limit_per_second", 0),
		RateLimitBurst:     src.Int("rate_limit_burst", 1),
	}, nil
}

// ObservabilityHTTPConfig is the `observability` block: HTTPConfig
// plus the auth wiring for calls to the ingestion service. Matches the
// Python EventSenderTask's `registry.mutate("observability", ...,
// auth=TokenAuth(...))` pattern — the mutate overlay carries the
// concrete Authenticator, which is not itself file/env-sourced.
type ObservabilityHTTPConfig struct {
	HTTPConfig
}

func BuildObservabilityHTTPConfig(src *FieldSource) (ObservabilityHTTPConfig, error) {
	base, err := BuildHTTPConfig(src)
	if err != nil {
		return ObservabilityHTTPConfig{}, err
	}
	return ObservabilityHTTPConfig{HTTPConfig: base}, nil
}

// RetryRule is a single per-status retry policy entry: {status,
// retry_count, backoff_multiplier} from §4.2.
type RetryRule struct {
	Status            int
	RetryCount        int
	BackoffMultiplier float64
}

// --- Authentication blocks ---

type StaticTokenAuthConfig struct {
	Token      redact.Secret
	HeaderName string
	TokenPrefix string
}

func BuildStaticTokenAuthConfig(src *FieldSource) (StaticTokenAuthConfig, error) {
	return StaticTokenAuthConfig{
		Token:       src.Secret("token", ""),
		HeaderName:  src.String("header_name", "Authorization"),
		TokenPrefix: src.String("token_prefix", "Bearer "),
	}, nil
}

type BasicAuthConfig struct {
	Username string
	Password redact.Secret
}

func BuildBasicAuthConfig(src *FieldSource) (BasicAuthConfig, error) {
	return BasicAuthConfig{
		Username: src.String("username", ""),
		Password: src.Secret("password", ""),
	}, nil
}

type AzureServicePrincipalAuthConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret redact.Secret
	Scope        string
}

func BuildAzureServicePrincipalAuthConfig(src *FieldSource) (AzureServicePrincipalAuthConfig, error) {
	return AzureServicePrincipalAuthConfig{
		TenantID:     src.String("tenant_id", ""),
		ClientID:     src.String("client_id", ""),
		ClientSecret: src.Secret("client_secret", ""),
		Scope:        src.String("scope", "https://graph.microsoft.com/.default"),
	}, nil
}

// ToolAuthConfig is the consolidated per-tool `<agent_type>_auth`
// block: a discriminator plus the union of fields any of the five
// schemes needs, so one registered block name per tool (rather than
// one per scheme) is enough for internal/tools/registry.go to build
// whichever auth.Authenticator the deployment's `type` selects.
type ToolAuthConfig struct {
	Type         string
	Token        redact.Secret
	HeaderName   string
	TokenPrefix  string
	Username     string
	Password     redact.Secret
	TenantID     string
	ClientID     string
	ClientSecret redact.Secret
	Scope        string
	AuthorityURL string
}

func BuildToolAuthConfig(src *FieldSource) (ToolAuthConfig, error) {
	return ToolAuthConfig{
		Type:         src.String("type", "none"),
		Token:        src.Secret("token", ""),
		HeaderName:   src.String("header_name", "Authorization"),
		TokenPrefix:  src.String("token_prefix", "Bearer "),
		Username:     src.String("username", ""),
		Password:     src.Secret("password", ""),
		TenantID:     src.String("tenant_id", ""),
		ClientID:     src.String("client_id", ""),
		ClientSecret: src.Secret("client_secret", ""),
		Scope:        src.String("scope", ""),
		AuthorityURL: src.String("authority_url", ""),
	}, nil
}

type AzureResourceOwnerPasswordAuthConfig struct {
	AuthorityURL string
	ClientID     string
	Username     string
	Password     redact.Secret
	Scope        string
}

func BuildAzureResourceOwnerPasswordAuthConfig(src *FieldSource) (AzureResourceOwnerPasswordAuthConfig, error) {
	return AzureResourceOwnerPasswordAuthConfig{
		AuthorityURL: src.String("authority_url", ""),
		ClientID:     src.String("client_id", ""),
		Username:     src.String("username", ""),
		Password:     src.Secret("password", ""),
		Scope:        src.String("scope", ""),
	}, nil
}

// --- Tool-specific blocks ---

type AirflowConfig struct {
	BaseURL        string
	PollPeriod     time.Duration
	PollCron       string
	WatchPeriod    time.Duration
	JobNameFilters []string
}

func BuildAirflowConfig(src *FieldSource) (AirflowConfig, error) {
	base, err := src.URL("base_url", "")
	if err != nil {
		return AirflowConfig{}, err
	}
	return AirflowConfig{
		BaseURL:        base,
		PollPeriod:     src.Seconds("poll_period", 30*time.Second),
		PollCron:       src.String("poll_cron", ""),
		WatchPeriod:    src.Seconds("watch_period", 10*time.Second),
		JobNameFilters: src.StringSlice("job_name_filters", nil),
	}, nil
}

type DatabricksConfig struct {
	BaseURL             string
	PollPeriod          time.Duration
	PollCron            string
	WatchPeriod         time.Duration
	FailedWatchPeriod   time.Duration
	FailedWatchMaxTime  time.Duration
}

func BuildDatabricksConfig(src *FieldSource) (DatabricksConfig, error) {
	base, err := src.URL("base_url", "")
	if err != nil {
		return DatabricksConfig{}, err
	}
	return DatabricksConfig{
		BaseURL:            base,
		PollPeriod:         src.Seconds("poll_period", 30*time.Second),
		PollCron:           src.String("poll_cron", ""),
		WatchPeriod:        src.Seconds("watch_period", 15*time.Second),
		FailedWatchPeriod:  src.Seconds("databricks_failed_watch_period", 60*time.Second),
		FailedWatchMaxTime: src.Seconds("databricks_failed_watch_max_time", 600*time.Second),
	}, nil
}

type PowerBIConfig struct {
	BaseURL     string
	GroupID     string
	DatasetID   string
	PollPeriod  time.Duration
	PollCron    string
	WatchPeriod time.Duration
}

func BuildPowerBIConfig(src *FieldSource) (PowerBIConfig, error) {
	base, err := src.URL("base_url", "https://api.powerbi.com")
	if err != nil {
		return PowerBIConfig{}, err
	}
	return PowerBIConfig{
		BaseURL:     base,
		GroupID:     src.String("group_id", ""),
		DatasetID:   src.String("dataset_id", ""),
		PollPeriod:  src.Seconds("poll_period", 60*time.Second),
		PollCron:    src.String("poll_cron", ""),
		WatchPeriod: src.Seconds("watch_period", 20*time.Second),
	}, nil
}

type QlikConfig struct {
	BaseURL     string
	PollPeriod  time.Duration
	PollCron    string
	WatchPeriod time.Duration
}

func BuildQlikConfig(src *FieldSource) (QlikConfig, error) {
	base, err := src.URL("base_url", "")
	if err != nil {
		return QlikConfig{}, err
	}
	return QlikConfig{
		BaseURL:     base,
		PollPeriod:  src.Seconds("poll_period", 30*time.Second),
		PollCron:    src.String("poll_cron", ""),
		WatchPeriod: src.Seconds("watch_period", 15*time.Second),
	}, nil
}

type SynapseConfig struct {
	BaseURL           string
	WorkspaceName     string
	PollPeriod        time.Duration
	PollCron          string
	WatchPeriod       time.Duration
	FinalizeConfirmTicks int
}

func BuildSynapseConfig(src *FieldSource) (SynapseConfig, error) {
	base, err := src.URL("base_url", "")
	if err != nil {
		return SynapseConfig{}, err
	}
	return SynapseConfig{
		BaseURL:              base,
		WorkspaceName:        src.String("workspace_name", ""),
		PollPeriod:           src.Seconds("poll_period", 30*time.Second),
		PollCron:             src.String("poll_cron", ""),
		WatchPeriod:          src.Seconds("watch_period", 15*time.Second),
		FinalizeConfirmTicks: src.Int("finalize_confirm_ticks", 2),
	}, nil
}

type SSISConfig struct {
	DSN                   string
	FetchPollPeriod       time.Duration
	FetchPollCron         string
	UpdatedPollPeriod     time.Duration
	StatisticsPollPeriod  time.Duration
	StatisticsBatchSize   int
}

func BuildSSISConfig(src *FieldSource) (SSISConfig, error) {
	return SSISConfig{
		DSN:                  src.Secret("dsn", "").Reveal(),
		FetchPollPeriod:      src.Seconds("fetch_poll_period", 30*time.Second),
		FetchPollCron:        src.String("fetch_poll_cron", ""),
		UpdatedPollPeriod:    src.Seconds("updated_poll_period", 15*time.Second),
		StatisticsPollPeriod: src.Seconds("statistics_poll_period", 15*time.Second),
		StatisticsBatchSize:  src.Int("statistics_batch_size", 100),
	}, nil
}

type EventHubsConfig struct {
	ConnectionString redact.Secret
	EventHubName     string
	ConsumerGroup    string
	CheckpointStoreContainerURL string
	CheckpointNotifyAddr string
	QueueCapacity    int
	MessageTypes     []string
	QueuePopSleep    time.Duration
	QueuePutSleep    time.Duration
}

func BuildEventHubsConfig(src *FieldSource) (EventHubsConfig, error) {
	return EventHubsConfig{
		ConnectionString:             src.Secret("connection_string", ""),
		EventHubName:                 src.String("event_hub_name", ""),
		ConsumerGroup:                src.String("consumer_group", "$Default"),
		CheckpointStoreContainerURL:  src.String("checkpoint_store_container_url", ""),
		CheckpointNotifyAddr:         src.String("checkpoint_notify_addr", ""),
		QueueCapacity:                src.Int("queue_capacity", 500),
		MessageTypes:                 src.StringSlice("message_types", []string{"ADF"}),
		QueuePopSleep:                src.Seconds("queue_pop_sleep", 2*time.Second),
		QueuePutSleep:                src.Seconds("queue_put_sleep", 2*time.Second),
	}, nil
}

type BlobStorageConfig struct {
	ContainerURL string
	SASToken     redact.Secret
}

func BuildBlobStorageConfig(src *FieldSource) (BlobStorageConfig, error) {
	return BlobStorageConfig{
		ContainerURL: src.String("container_url", ""),
		SASToken:     src.Secret("sas_token", ""),
	}, nil
}

type ExampleConfig struct {
	PollPeriod time.Duration
}

func BuildExampleConfig(src *FieldSource) (ExampleConfig, error) {
	return ExampleConfig{
		PollPeriod: src.Seconds("poll_period", 30*time.Second),
	}, nil
}

type DBTTestsConfig struct {
	RunResultsPath string
	ManifestPath   string
	PipelineKey    string
	PipelineName   string
	PollPeriod     time.Duration
}

func BuildDBTTestsConfig(src *FieldSource) (DBTTestsConfig, error) {
	return DBTTestsConfig{
		RunResultsPath: src.String("run_results_path", "run_results.json"),
		ManifestPath:   src.String("manifest_path", "manifest.json"),
		PipelineKey:    src.String("pipeline_key", ""),
		PipelineName:   src.String("pipeline_name", ""),
		PollPeriod:     src.Seconds("poll_period", 60*time.Second),
	}, nil
}
