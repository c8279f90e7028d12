// Package easm provides the attack surface management API client.
//
// A Session talks to both API planes: the control plane (workspace
// lifecycle, ARM resource tags) and the data plane (assets, tasks,
// discovery, data connections). Workspace names resolve through a
// case-insensitive registry populated by GetWorkspaces, with a default
// workspace fallback.
package easm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/easmkit/sdk/pkg/auth"
	"github.com/easmkit/sdk/pkg/backoff"
	"github.com/easmkit/sdk/pkg/core"
	sdkerrors "github.com/easmkit/sdk/pkg/errors"
	"github.com/easmkit/sdk/pkg/metrics"
)

const (
	// DefaultManagementEndpoint is the ARM control-plane base URL.
	DefaultManagementEndpoint = "https://management.azure.com"

	// DefaultTokenEndpoint is the OAuth2 token URL template; %s is the
	// tenant id.
	DefaultTokenEndpoint = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

	// DefaultDataAPIVersion is the data-plane api-version query param.
	DefaultDataAPIVersion = "2024-03-01-preview"

	// DefaultControlAPIVersion is the control-plane api-version query param.
	DefaultControlAPIVersion = "2023-04-01-preview"

	dataPlaneScope    = "https://easm.defender.microsoft.com/.default"
	controlPlaneScope = "https://management.azure.com/.default"
)

// Config holds session configuration.
type Config struct {
	TenantID     string `yaml:"tenant_id" json:"tenant_id"`
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"client_secret"`

	SubscriptionID string `yaml:"subscription_id" json:"subscription_id"`
	ResourceGroup  string `yaml:"resource_group" json:"resource_group"`
	Region         string `yaml:"region" json:"region"`
	WorkspaceName  string `yaml:"workspace_name" json:"workspace_name"`

	// ManagementEndpoint is the control-plane base URL.
	ManagementEndpoint string `yaml:"management_endpoint" json:"management_endpoint"`

	// TokenEndpoint overrides the OAuth2 token URL (template with one
	// %s for the tenant id).
	TokenEndpoint string `yaml:"token_endpoint" json:"token_endpoint"`

	DataAPIVersion    string `yaml:"data_api_version" json:"data_api_version"`
	ControlAPIVersion string `yaml:"control_api_version" json:"control_api_version"`

	// ConnectTimeout bounds connection establishment; RequestTimeout
	// bounds the whole request including the body read.
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	MaxRetry      int   `yaml:"max_retry" json:"max_retry"`
	RetryStatuses []int `yaml:"retry_statuses" json:"retry_statuses"`
}

// DefaultConfig returns default session config.
func DefaultConfig() *Config {
	return &Config{
		ManagementEndpoint: DefaultManagementEndpoint,
		TokenEndpoint:      DefaultTokenEndpoint,
		DataAPIVersion:     DefaultDataAPIVersion,
		ControlAPIVersion:  DefaultControlAPIVersion,
		ConnectTimeout:     10 * time.Second,
		RequestTimeout:     60 * time.Second,
		MaxRetry:           5,
		RetryStatuses:      []int{408, 425, 429, 500, 502, 503, 504},
	}
}

// workspaceEndpoints holds the per-workspace plane base URLs.
type workspaceEndpoints struct {
	DataPlane    string
	ControlPlane string
}

// Session is the API client. Safe for concurrent use.
type Session struct {
	cfg        *Config
	httpClient *http.Client
	tokens     *auth.Manager
	logger     core.Logger
	collector  metrics.Collector
	limiter    *rate.Limiter
	backoff    backoff.Config
	retryable  map[int]bool

	mu               sync.RWMutex
	workspaces       map[string]workspaceEndpoints // keys lowercased
	defaultWorkspace string
}

// Option is a function that configures the session.
type Option func(*Session)

// WithLogger sets the session logger. Default is NopLogger.
func WithLogger(l core.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets the metrics collector. Default is NopCollector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Session) { s.collector = c }
}

// WithRateLimit caps request issuance at rps requests per second with
// the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Session) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithTokenManager replaces the token manager. Useful for tests or
// pre-acquired tokens.
func WithTokenManager(m *auth.Manager) Option {
	return func(s *Session) { s.tokens = m }
}

// WithBackoff replaces the retry backoff configuration.
func WithBackoff(cfg backoff.Config) Option {
	return func(s *Session) { s.backoff = cfg }
}

// New creates a session from cfg. Missing credentials are a
// configuration error unless a token manager option is supplied.
func New(cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyConfigDefaults(cfg)

	s := &Session{
		cfg:        cfg,
		logger:     &core.NopLogger{},
		collector:  &metrics.NopCollector{},
		backoff:    *backoff.DefaultConfig(),
		workspaces: make(map[string]workspaceEndpoints),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.httpClient == nil {
		s.httpClient = &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
			},
		}
	}

	if s.tokens == nil {
		if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, sdkerrors.Configuration("easm.New",
				"tenant id, client id and client secret are required")
		}
		tokenURL := fmt.Sprintf(cfg.TokenEndpoint, cfg.TenantID)
		control := auth.Credentials{
			TokenURL:     tokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{controlPlaneScope},
		}
		data := auth.Credentials{
			TokenURL:     tokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{dataPlaneScope},
		}
		mgr, err := auth.NewManager(control, data)
		if err != nil {
			return nil, err
		}
		s.tokens = mgr
	}

	s.retryable = make(map[int]bool, len(cfg.RetryStatuses))
	for _, code := range cfg.RetryStatuses {
		s.retryable[code] = true
	}

	s.defaultWorkspace = cfg.WorkspaceName
	return s, nil
}

// NewFromEnv creates a session from the conventional environment
// variables: TENANT_ID, CLIENT_ID, CLIENT_SECRET, SUBSCRIPTION_ID
// (required), WORKSPACE_NAME, RESOURCE_GROUP, REGION,
// EASM_API_VERSION, EASM_DP_API_VERSION, EASM_CP_API_VERSION
// (optional).
func NewFromEnv(opts ...Option) (*Session, error) {
	var missing []string
	for _, key := range []string{"TENANT_ID", "CLIENT_ID", "CLIENT_SECRET", "SUBSCRIPTION_ID"} {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, sdkerrors.Configuration("easm.NewFromEnv",
			fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}

	cfg := DefaultConfig()
	cfg.TenantID = os.Getenv("TENANT_ID")
	cfg.ClientID = os.Getenv("CLIENT_ID")
	cfg.ClientSecret = os.Getenv("CLIENT_SECRET")
	cfg.SubscriptionID = os.Getenv("SUBSCRIPTION_ID")
	cfg.ResourceGroup = os.Getenv("RESOURCE_GROUP")
	cfg.Region = os.Getenv("REGION")
	cfg.WorkspaceName = os.Getenv("WORKSPACE_NAME")

	if v := os.Getenv("EASM_API_VERSION"); v != "" {
		cfg.DataAPIVersion = v
		cfg.ControlAPIVersion = v
	}
	if v := os.Getenv("EASM_DP_API_VERSION"); v != "" {
		cfg.DataAPIVersion = v
	}
	if v := os.Getenv("EASM_CP_API_VERSION"); v != "" {
		cfg.ControlAPIVersion = v
	}

	return New(cfg, opts...)
}

// LoadConfig loads session configuration from a YAML file, layered
// over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sdkerrors.Configuration("easm.LoadConfig",
			fmt.Sprintf("reading config file: %v", err))
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, sdkerrors.Configuration("easm.LoadConfig",
			fmt.Sprintf("parsing config file: %v", err))
	}
	return cfg, nil
}

// NewFromFile creates a session from a YAML config file.
func NewFromFile(path string, opts ...Option) (*Session, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

func applyConfigDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.ManagementEndpoint == "" {
		cfg.ManagementEndpoint = def.ManagementEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = def.TokenEndpoint
	}
	if cfg.DataAPIVersion == "" {
		cfg.DataAPIVersion = def.DataAPIVersion
	}
	if cfg.ControlAPIVersion == "" {
		cfg.ControlAPIVersion = def.ControlAPIVersion
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxRetry == 0 {
		cfg.MaxRetry = def.MaxRetry
	}
	if cfg.RetryStatuses == nil {
		cfg.RetryStatuses = def.RetryStatuses
	}
}

// TokenManager exposes the session's token manager, mainly for
// preflight probes.
func (s *Session) TokenManager() *auth.Manager {
	return s.tokens
}

// ManagementEndpoint returns the control-plane base URL the session
// was configured with.
func (s *Session) ManagementEndpoint() string {
	return s.cfg.ManagementEndpoint
}

// SetDefaultWorkspace sets the workspace used when operations are
// called with an empty workspace name.
func (s *Session) SetDefaultWorkspace(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultWorkspace = name
}

// DefaultWorkspace returns the current default workspace name.
func (s *Session) DefaultWorkspace() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultWorkspace
}

// WorkspaceNames returns the registered workspace names.
func (s *Session) WorkspaceNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.workspaces))
	for name := range s.workspaces {
		names = append(names, name)
	}
	return names
}

// registerWorkspace records a workspace's plane endpoints.
func (s *Session) registerWorkspace(name string, ep workspaceEndpoints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[strings.ToLower(name)] = ep
}

// resolveWorkspace resolves name (default fallback, case-insensitive)
// against the registry. An unknown name is a WorkspaceNotFound error.
func (s *Session) resolveWorkspace(op, name string) (string, workspaceEndpoints, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name == "" {
		name = s.defaultWorkspace
	}
	if name == "" {
		return "", workspaceEndpoints{}, sdkerrors.E(sdkerrors.KindWorkspaceNotFound, op,
			"no workspace name given and no default workspace set")
	}
	ep, ok := s.workspaces[strings.ToLower(name)]
	if !ok {
		return "", workspaceEndpoints{}, sdkerrors.WorkspaceNotFound(op, name)
	}
	return name, ep, nil
}

// waitLimiter blocks on the configured rate limiter, if any.
func (s *Session) waitLimiter(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}
