package cli

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	stackupArtifactDirectoryNameConstant = ".stackup"
	catalogIndexFileNameConstant         = "catalog.index"
	stateLedgerFileNameConstant          = "state.ledger"
	packageCacheDirectoryNameConstant    = "cache"
	jobLogDirectoryNameConstant          = "logs"
	defaultProjectRootConstant           = "."
	defaultSourceRootNameConstant        = "tasks"
	embeddedConfigurationTypeConstant    = "yaml"
)

const embeddedConfigurationContentConstant = `common:
  log_level: error
  log_format: structured
  project_root: .
install:
  source_root: tasks
  force: false
  freshness_window_minutes: 60
  retry_delay_seconds: 5
  termination_grace_seconds: 2
  disable_summary: false
  variables: {}
prefetch:
  enabled: false
  fetch_command: "apt-get download %s"
  cache_max_age_hours: 24
  concurrency: 4
  wait_seconds: 30
  manifest: ""
  profiles: {}
`

// Feature profiles shipped with the binary. A manifest file configured under
// prefetch.manifest replaces this mapping entirely.
const embeddedProfileManifestContentConstant = `database:
  - postgresql
  - postgresql-client
webserver:
  - nginx
tls:
  - certbot
monitoring:
  - prometheus-node-exporter
`

// EmbeddedDefaultConfiguration returns the built-in configuration document and its format.
func EmbeddedDefaultConfiguration() ([]byte, string) {
	return []byte(embeddedConfigurationContentConstant), embeddedConfigurationTypeConstant
}

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common   ApplicationCommonConfiguration `mapstructure:"common"`
	Install  InstallConfiguration           `mapstructure:"install"`
	Prefetch PrefetchConfiguration          `mapstructure:"prefetch"`
}

// ApplicationCommonConfiguration stores logging and project defaults shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	ProjectRoot string `mapstructure:"project_root"`
}

// InstallConfiguration captures orchestration defaults for install and run commands.
type InstallConfiguration struct {
	SourceRoot              string            `mapstructure:"source_root"`
	Force                   bool              `mapstructure:"force"`
	FreshnessWindowMinutes  int               `mapstructure:"freshness_window_minutes"`
	RetryDelaySeconds       int               `mapstructure:"retry_delay_seconds"`
	TerminationGraceSeconds int               `mapstructure:"termination_grace_seconds"`
	DisableSummary          bool              `mapstructure:"disable_summary"`
	Variables               map[string]string `mapstructure:"variables"`
}

// PrefetchConfiguration captures background prefetch defaults.
type PrefetchConfiguration struct {
	Enabled          bool            `mapstructure:"enabled"`
	FetchCommand     string          `mapstructure:"fetch_command"`
	CacheMaxAgeHours int             `mapstructure:"cache_max_age_hours"`
	Concurrency      int             `mapstructure:"concurrency"`
	WaitSeconds      int             `mapstructure:"wait_seconds"`
	ManifestPath     string          `mapstructure:"manifest"`
	Profiles         map[string]bool `mapstructure:"profiles"`
}

// FreshnessWindow converts the configured window to a duration.
func (configuration InstallConfiguration) FreshnessWindow() time.Duration {
	return time.Duration(configuration.FreshnessWindowMinutes) * time.Minute
}

// RetryDelay converts the configured delay to a duration.
func (configuration InstallConfiguration) RetryDelay() time.Duration {
	return time.Duration(configuration.RetryDelaySeconds) * time.Second
}

// TerminationGrace converts the configured grace period to a duration.
func (configuration InstallConfiguration) TerminationGrace() time.Duration {
	return time.Duration(configuration.TerminationGraceSeconds) * time.Second
}

// CacheMaxAge converts the configured entry age limit to a duration.
func (configuration PrefetchConfiguration) CacheMaxAge() time.Duration {
	return time.Duration(configuration.CacheMaxAgeHours) * time.Hour
}

// WaitTimeout converts the configured wait budget to a duration.
func (configuration PrefetchConfiguration) WaitTimeout() time.Duration {
	return time.Duration(configuration.WaitSeconds) * time.Second
}

// artifactPaths resolves the per-project file layout under the project root.
type artifactPaths struct {
	CatalogIndexPath  string
	StateLedgerPath   string
	CacheDirectory    string
	JobLogDirectory   string
	ArtifactDirectory string
}

func resolveArtifactPaths(projectRoot string) artifactPaths {
	trimmedRoot := strings.TrimSpace(projectRoot)
	if len(trimmedRoot) == 0 {
		trimmedRoot = defaultProjectRootConstant
	}
	artifactDirectory := filepath.Join(trimmedRoot, stackupArtifactDirectoryNameConstant)
	return artifactPaths{
		CatalogIndexPath:  filepath.Join(artifactDirectory, catalogIndexFileNameConstant),
		StateLedgerPath:   filepath.Join(artifactDirectory, stateLedgerFileNameConstant),
		CacheDirectory:    filepath.Join(artifactDirectory, packageCacheDirectoryNameConstant),
		JobLogDirectory:   filepath.Join(artifactDirectory, jobLogDirectoryNameConstant),
		ArtifactDirectory: artifactDirectory,
	}
}

func resolveSourceRoot(projectRoot string, configuredSourceRoot string, argumentSourceRoot string) string {
	candidate := strings.TrimSpace(argumentSourceRoot)
	if len(candidate) == 0 {
		candidate = strings.TrimSpace(configuredSourceRoot)
	}
	if len(candidate) == 0 {
		candidate = defaultSourceRootNameConstant
	}
	if filepath.IsAbs(candidate) {
		return candidate
	}
	trimmedRoot := strings.TrimSpace(projectRoot)
	if len(trimmedRoot) == 0 {
		trimmedRoot = defaultProjectRootConstant
	}
	return filepath.Join(trimmedRoot, candidate)
}
