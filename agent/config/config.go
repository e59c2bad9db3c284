// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/queue-autoscaler/policy"
	errHelper "github.com/hashicorp/queue-autoscaler/sdk/helper/error"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/file"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/ptr"
	"github.com/mitchellh/copystructure"
)

// Agent is the overall configuration of an autoscaler agent and includes all
// required information for it to start successfully.
//
// All time.Duration values should have two parts:
//   - a string field tagged with an hcl:"foo" and json:"-"
//   - a time.Duration field in the same struct which is populated within the
//     parseFile if the HCL param is populated.
//
// The string reference of a duration can include "ns", "us" (or "µs"), "ms",
// "s", "m", "h" suffixes.
type Agent struct {

	// LogLevel is the level of the logs to emit.
	LogLevel string `hcl:"log_level,optional"`

	// LogJson enables log output in JSON format.
	LogJson bool `hcl:"log_json,optional"`

	// EnableDebug is used to enable debugging HTTP endpoints.
	EnableDebug bool `hcl:"enable_debug,optional"`

	// Broker is the configuration used to reach the message broker.
	Broker *Broker `hcl:"broker,block"`

	// Pool is the scaling configuration of the worker pool.
	Pool *Pool `hcl:"pool,block"`

	// Fleet is the configuration of the backend running the workers.
	Fleet *Fleet `hcl:"fleet,block"`

	// HTTP is the configuration used to setup the HTTP health server.
	HTTP *HTTP `hcl:"http,block"`

	// Telemetry is the configuration used to setup metrics collection.
	Telemetry *Telemetry `hcl:"telemetry,block"`
}

// Broker holds the connection details of the RabbitMQ broker and its
// management API.
type Broker struct {
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`
	VHost    string `hcl:"vhost,optional"`
	Queue    string `hcl:"queue,optional"`

	// ManagementURL is the full URL of the queue resource on the management
	// API, for example http://localhost:15672/api/queues/%2f/my-queue.
	ManagementURL string `hcl:"management_url,optional"`

	// RequestTimeout bounds a single management API request.
	RequestTimeout    time.Duration
	RequestTimeoutHCL string `hcl:"request_timeout,optional" json:"-"`

	// RetryMax is the number of retries of a failed management API request.
	RetryMaxPtr *int `hcl:"retry_max,optional"`
	RetryMax    int

	// RateLimit is the maximum number of management API requests per second.
	// A negative value disables rate limiting.
	RateLimit int `hcl:"rate_limit,optional"`

	// DeclareQueue controls whether the queue is declared at startup.
	DeclareQueue *bool `hcl:"declare_queue,optional"`
}

// Pool holds the scaling policy of the worker pool and the timings of the
// control loop.
type Pool struct {

	// Min is the lower bound of the pool size. Zero is a valid value so the
	// HCL field is a pointer.
	MinPtr *int64 `hcl:"min,optional"`
	Min    int64

	// Max is the upper bound of the pool size.
	MaxPtr *int64 `hcl:"max,optional"`
	Max    int64

	// ScaleUpThreshold is the backlog at or above which the pool grows.
	ScaleUpThresholdPtr *int64 `hcl:"scale_up_threshold,optional"`
	ScaleUpThreshold    int64

	// ScaleDownThreshold is the backlog at or below which the pool shrinks.
	ScaleDownThresholdPtr *int64 `hcl:"scale_down_threshold,optional"`
	ScaleDownThreshold    int64

	// MessagesPerWorker is the backlog a single worker is expected to drain.
	// Values below one are treated as one.
	MessagesPerWorkerPtr *int64 `hcl:"messages_per_worker,optional"`
	MessagesPerWorker    int64

	// PollInterval is the time between the end of a cycle and the start of
	// the next one.
	PollInterval    time.Duration
	PollIntervalHCL string `hcl:"poll_interval,optional" json:"-"`

	// CooldownPeriod is the minimum time between two scaling actions. The
	// pointer is set whenever a source supplies a value, including zero.
	CooldownPeriod    time.Duration
	CooldownPeriodPtr *time.Duration `json:"-"`
	CooldownPeriodHCL string         `hcl:"cooldown_period,optional" json:"-"`

	// StopTimeout is the grace period given to a worker before it is killed.
	// Zero stops workers immediately.
	StopTimeout    time.Duration
	StopTimeoutPtr *time.Duration `json:"-"`
	StopTimeoutHCL string         `hcl:"stop_timeout,optional" json:"-"`

	// DryRun computes and logs decisions without touching the fleet.
	DryRun bool `hcl:"dry_run,optional"`
}

// Fleet describes the workers and the backend used to run them.
type Fleet struct {

	// Driver is the backend used to run workers, either "docker" or "nomad".
	Driver string `hcl:"driver,optional"`

	// WorkerPrefix is prepended to the name of every managed worker.
	WorkerPrefix string `hcl:"worker_prefix,optional"`

	// WorkerImage is the container image of a worker.
	WorkerImage string `hcl:"worker_image,optional"`

	// Network is the network workers are attached to. Empty means the
	// backend default.
	Network string `hcl:"network,optional"`

	// ComposeProject and ComposeService are attached as compose labels so
	// workers are grouped with the rest of the stack.
	ComposeProject string `hcl:"compose_project,optional"`
	ComposeService string `hcl:"compose_service,optional"`

	// WorkerEnv is merged over the broker environment given to workers.
	WorkerEnv map[string]string `hcl:"worker_env,optional"`

	// WorkerLabels are extra labels attached to every worker.
	WorkerLabels map[string]string `hcl:"worker_labels,optional"`

	// MaxParallel bounds concurrent lifecycle operations.
	MaxParallel int `hcl:"max_parallel,optional"`

	// Selector is the scale in strategy, "oldest_create" or "newest_create".
	Selector string `hcl:"selector,optional"`

	Docker *Docker `hcl:"docker,block"`
	Nomad  *Nomad  `hcl:"nomad,block"`
}

// Docker holds the configuration of the Docker driver.
type Docker struct {

	// Endpoint is the Docker daemon address. Empty means the DOCKER_HOST
	// family of environment variables is used.
	Endpoint string `hcl:"endpoint,optional"`
}

// Nomad holds the user specified configuration for connectivity to the Nomad
// API and the jobs registered for workers.
type Nomad struct {

	// Address is the address of the Nomad agent.
	Address string `hcl:"address,optional"`

	// Region to use.
	Region string `hcl:"region,optional"`

	// Namespace to use.
	Namespace string `hcl:"namespace,optional"`

	// Token is the SecretID of an ACL token to use to authenticate API
	// requests with.
	Token string `hcl:"token,optional"`

	// HTTPAuth is the auth info to use for http access.
	HTTPAuth string `hcl:"http_auth,optional"`

	// CACert is the path to a PEM-encoded CA cert file to use to verify the
	// Nomad server SSL certificate.
	CACert string `hcl:"ca_cert,optional"`

	// CAPath is the path to a directory of PEM-encoded CA cert files to verify
	// the Nomad server SSL certificate.
	CAPath string `hcl:"ca_path,optional"`

	// ClientCert is the path to the certificate for Nomad communication.
	ClientCert string `hcl:"client_cert,optional"`

	// ClientKey is the path to the private key for Nomad communication.
	ClientKey string `hcl:"client_key,optional"`

	// TLSServerName, if set, is used to set the SNI host when connecting via
	// TLS.
	TLSServerName string `hcl:"tls_server_name,optional"`

	// SkipVerify enables or disables SSL verification.
	SkipVerify bool `hcl:"skip_verify,optional"`

	// Datacenters the worker jobs are placed in.
	Datacenters []string `hcl:"datacenters,optional"`

	// Priority of the worker jobs.
	Priority int `hcl:"priority,optional"`
}

// HTTP contains all configuration details for the running of the agent HTTP
// health server.
type HTTP struct {

	// BindAddress is the tcp address to bind to.
	BindAddress string `hcl:"bind_address,optional"`

	// BindPort is the port used to run the HTTP server.
	BindPort int `hcl:"bind_port,optional"`
}

// Telemetry holds the user specified configuration for metrics collection.
type Telemetry struct {

	// PrometheusRetentionTime is the retention time for prometheus metrics if
	// greater than 0.
	PrometheusRetentionTime    time.Duration
	PrometheusRetentionTimeHCL string `hcl:"prometheus_retention_time,optional" json:"-"`

	// PrometheusMetrics specifies whether the agent should make Prometheus
	// formatted metrics available.
	PrometheusMetrics bool `hcl:"prometheus_metrics,optional"`

	// DisableHostname specifies if gauge values should be prefixed with the
	// local hostname.
	DisableHostname bool `hcl:"disable_hostname,optional"`

	// EnableHostnameLabel adds the hostname as a label on all metrics.
	EnableHostnameLabel bool `hcl:"enable_hostname_label,optional"`

	// CollectionInterval specifies the time interval at which the agent
	// collects telemetry data.
	CollectionInterval    time.Duration
	CollectionIntervalHCL string `hcl:"collection_interval,optional" json:"-"`

	// StatsiteAddr specifies the address of a statsite server to forward
	// metrics data to.
	StatsiteAddr string `hcl:"statsite_address,optional"`

	// StatsdAddr specifies the address of a statsd server to forward metrics
	// to.
	StatsdAddr string `hcl:"statsd_address,optional"`

	// DogStatsDAddr specifies the address of a DataDog statsd server to
	// forward metrics to.
	DogStatsDAddr string `hcl:"dogstatsd_address,optional"`

	// DogStatsDTags specifies a list of global tags that will be added to all
	// telemetry packets sent to DogStatsD.
	DogStatsDTags []string `hcl:"dogstatsd_tags,optional"`
}

const (
	// defaultLogLevel is the default log level used for the autoscaler agent.
	defaultLogLevel = "info"

	// defaultHTTPBindAddress is the default address used for the HTTP health
	// server.
	defaultHTTPBindAddress = "127.0.0.1"

	// defaultHTTPBindPort is the default port used for the HTTP health server.
	defaultHTTPBindPort = 8080

	// defaultTelemetryCollectionInterval is the default telemetry metrics
	// collection interval.
	defaultTelemetryCollectionInterval = 1 * time.Second

	defaultBrokerHost           = "rabbitmq"
	defaultBrokerPort           = 5672
	defaultBrokerUser           = "guest"
	defaultBrokerPass           = "guest"
	defaultBrokerQueue          = "my-queue"
	defaultManagementURL        = "http://localhost:15672/api/queues/%2f/my-queue"
	defaultBrokerRetryMax       = 5
	defaultBrokerRateLimit      = -1
	defaultBrokerRequestTimeout = 10 * time.Second

	defaultPoolMin                = 1
	defaultPoolMax                = 10
	defaultPoolScaleUpThreshold   = 100
	defaultPoolScaleDownThreshold = 10
	defaultPoolMessagesPerWorker  = 200
	defaultPoolPollInterval       = 10 * time.Second
	defaultPoolCooldownPeriod     = 30 * time.Second
	defaultPoolStopTimeout        = 60 * time.Second

	defaultFleetDriver         = DriverDocker
	defaultFleetWorkerPrefix   = "worker"
	defaultFleetWorkerImage    = "my-worker:latest"
	defaultFleetComposeProject = "myapp"
	defaultFleetComposeService = "worker"
	defaultFleetMaxParallel    = 4
	defaultFleetSelector       = "oldest_create"

	defaultNomadPriority = 50
)

const (
	// DriverDocker runs workers as containers on a Docker daemon.
	DriverDocker = "docker"

	// DriverNomad runs workers as Nomad service jobs.
	DriverNomad = "nomad"
)

// ConfigError is returned when the agent configuration is invalid. The agent
// refuses to start on a ConfigError.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Default is used to generate a new default agent configuration.
func Default() *Agent {
	return &Agent{
		LogLevel: defaultLogLevel,
		Broker: &Broker{
			Host:           defaultBrokerHost,
			Port:           defaultBrokerPort,
			Username:       defaultBrokerUser,
			Password:       defaultBrokerPass,
			Queue:          defaultBrokerQueue,
			ManagementURL:  defaultManagementURL,
			RequestTimeout: defaultBrokerRequestTimeout,
			RetryMax:       defaultBrokerRetryMax,
			RateLimit:      defaultBrokerRateLimit,
			DeclareQueue:   ptr.BoolToPtr(true),
		},
		Pool: &Pool{
			Min:                defaultPoolMin,
			Max:                defaultPoolMax,
			ScaleUpThreshold:   defaultPoolScaleUpThreshold,
			ScaleDownThreshold: defaultPoolScaleDownThreshold,
			MessagesPerWorker:  defaultPoolMessagesPerWorker,
			PollInterval:       defaultPoolPollInterval,
			CooldownPeriod:     defaultPoolCooldownPeriod,
			StopTimeout:        defaultPoolStopTimeout,
		},
		Fleet: &Fleet{
			Driver:         defaultFleetDriver,
			WorkerPrefix:   defaultFleetWorkerPrefix,
			WorkerImage:    defaultFleetWorkerImage,
			ComposeProject: defaultFleetComposeProject,
			ComposeService: defaultFleetComposeService,
			MaxParallel:    defaultFleetMaxParallel,
			Selector:       defaultFleetSelector,
			Docker:         &Docker{},
			Nomad:          &Nomad{Priority: defaultNomadPriority},
		},
		HTTP: &HTTP{
			BindAddress: defaultHTTPBindAddress,
			BindPort:    defaultHTTPBindPort,
		},
		Telemetry: &Telemetry{
			CollectionInterval: defaultTelemetryCollectionInterval,
		},
	}
}

// PolicyConfig returns the scaling policy described by the pool block.
func (a *Agent) PolicyConfig() policy.Config {
	return policy.Config{
		Min:                a.Pool.Min,
		Max:                a.Pool.Max,
		ScaleUpThreshold:   a.Pool.ScaleUpThreshold,
		ScaleDownThreshold: a.Pool.ScaleDownThreshold,
		MessagesPerWorker:  a.Pool.MessagesPerWorker,
	}
}

// Merge is used to merge two agent configurations.
func (a *Agent) Merge(b *Agent) *Agent {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}

	result := *a

	if b.EnableDebug {
		result.EnableDebug = true
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogJson {
		result.LogJson = true
	}

	if b.Broker != nil {
		result.Broker = result.Broker.merge(b.Broker)
	}
	if b.Pool != nil {
		result.Pool = result.Pool.merge(b.Pool)
	}
	if b.Fleet != nil {
		result.Fleet = result.Fleet.merge(b.Fleet)
	}
	if b.HTTP != nil {
		result.HTTP = result.HTTP.merge(b.HTTP)
	}
	if b.Telemetry != nil {
		result.Telemetry = result.Telemetry.merge(b.Telemetry)
	}

	return &result
}

// Validate checks the fully merged configuration. The returned error, if
// any, is a *ConfigError.
func (a *Agent) Validate() error {
	var result *multierror.Error

	if a.Broker == nil || a.Pool == nil || a.Fleet == nil {
		return &ConfigError{Err: fmt.Errorf("broker, pool and fleet blocks are required")}
	}

	if a.Broker.ManagementURL == "" {
		result = multierror.Append(result, fmt.Errorf("broker.management_url must not be empty"))
	}
	if a.Broker.Queue == "" {
		result = multierror.Append(result, fmt.Errorf("broker.queue must not be empty"))
	}
	if a.Broker.RetryMax < 0 {
		result = multierror.Append(result, fmt.Errorf("broker.retry_max must be zero or greater"))
	}
	if a.Broker.RateLimit == 0 || a.Broker.RateLimit < -1 {
		result = multierror.Append(result, fmt.Errorf("broker.rate_limit must be greater than zero, or -1 to disable"))
	}

	if err := a.PolicyConfig().Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("pool: %w", err))
	}
	if a.Pool.PollInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("pool.poll_interval must be greater than zero"))
	}
	if a.Pool.CooldownPeriod < 0 {
		result = multierror.Append(result, fmt.Errorf("pool.cooldown_period must be zero or greater"))
	}
	if a.Pool.StopTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("pool.stop_timeout must be zero or greater"))
	}

	switch a.Fleet.Driver {
	case DriverDocker, DriverNomad:
	default:
		result = multierror.Append(result, fmt.Errorf("fleet.driver must be %q or %q, got %q",
			DriverDocker, DriverNomad, a.Fleet.Driver))
	}
	if a.Fleet.WorkerPrefix == "" {
		result = multierror.Append(result, fmt.Errorf("fleet.worker_prefix must not be empty"))
	}
	if a.Fleet.WorkerImage == "" {
		result = multierror.Append(result, fmt.Errorf("fleet.worker_image must not be empty"))
	}

	if err := errHelper.FormattedMultiError(result); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

func (b *Broker) merge(o *Broker) *Broker {
	if b == nil {
		return o
	}

	result := *b

	if o.Host != "" {
		result.Host = o.Host
	}
	if o.Port != 0 {
		result.Port = o.Port
	}
	if o.Username != "" {
		result.Username = o.Username
	}
	if o.Password != "" {
		result.Password = o.Password
	}
	if o.VHost != "" {
		result.VHost = o.VHost
	}
	if o.Queue != "" {
		result.Queue = o.Queue
	}
	if o.ManagementURL != "" {
		result.ManagementURL = o.ManagementURL
	}
	if o.RequestTimeout != 0 {
		result.RequestTimeout = o.RequestTimeout
	}
	if o.RetryMaxPtr != nil {
		result.RetryMaxPtr = o.RetryMaxPtr
		result.RetryMax = *o.RetryMaxPtr
	}
	if o.RateLimit != 0 {
		result.RateLimit = o.RateLimit
	}
	if o.DeclareQueue != nil {
		result.DeclareQueue = o.DeclareQueue
	}

	return &result
}

func (p *Pool) merge(b *Pool) *Pool {
	if p == nil {
		return b
	}

	result := *p

	if b.MinPtr != nil {
		result.MinPtr = b.MinPtr
		result.Min = *b.MinPtr
	}
	if b.MaxPtr != nil {
		result.MaxPtr = b.MaxPtr
		result.Max = *b.MaxPtr
	}
	if b.ScaleUpThresholdPtr != nil {
		result.ScaleUpThresholdPtr = b.ScaleUpThresholdPtr
		result.ScaleUpThreshold = *b.ScaleUpThresholdPtr
	}
	if b.ScaleDownThresholdPtr != nil {
		result.ScaleDownThresholdPtr = b.ScaleDownThresholdPtr
		result.ScaleDownThreshold = *b.ScaleDownThresholdPtr
	}
	if b.MessagesPerWorkerPtr != nil {
		result.MessagesPerWorkerPtr = b.MessagesPerWorkerPtr
		result.MessagesPerWorker = *b.MessagesPerWorkerPtr
	}
	if b.PollInterval != 0 {
		result.PollInterval = b.PollInterval
	}
	if b.CooldownPeriodPtr != nil {
		result.CooldownPeriodPtr = b.CooldownPeriodPtr
		result.CooldownPeriod = *b.CooldownPeriodPtr
	}
	if b.StopTimeoutPtr != nil {
		result.StopTimeoutPtr = b.StopTimeoutPtr
		result.StopTimeout = *b.StopTimeoutPtr
	}
	if b.DryRun {
		result.DryRun = true
	}

	return &result
}

func (f *Fleet) merge(b *Fleet) *Fleet {
	if f == nil {
		return b
	}

	result := *f

	if b.Driver != "" {
		result.Driver = b.Driver
	}
	if b.WorkerPrefix != "" {
		result.WorkerPrefix = b.WorkerPrefix
	}
	if b.WorkerImage != "" {
		result.WorkerImage = b.WorkerImage
	}
	if b.Network != "" {
		result.Network = b.Network
	}
	if b.ComposeProject != "" {
		result.ComposeProject = b.ComposeProject
	}
	if b.ComposeService != "" {
		result.ComposeService = b.ComposeService
	}
	if len(b.WorkerEnv) != 0 {
		result.WorkerEnv = mergeStringMap(result.WorkerEnv, b.WorkerEnv)
	}
	if len(b.WorkerLabels) != 0 {
		result.WorkerLabels = mergeStringMap(result.WorkerLabels, b.WorkerLabels)
	}
	if b.MaxParallel != 0 {
		result.MaxParallel = b.MaxParallel
	}
	if b.Selector != "" {
		result.Selector = b.Selector
	}
	if b.Docker != nil {
		result.Docker = result.Docker.merge(b.Docker)
	}
	if b.Nomad != nil {
		result.Nomad = result.Nomad.merge(b.Nomad)
	}

	return &result
}

func (d *Docker) merge(b *Docker) *Docker {
	if d == nil {
		return b
	}

	result := *d

	if b.Endpoint != "" {
		result.Endpoint = b.Endpoint
	}

	return &result
}

func (n *Nomad) merge(b *Nomad) *Nomad {
	if n == nil {
		return b
	}

	result := *n

	if b.Address != "" {
		result.Address = b.Address
	}
	if b.Region != "" {
		result.Region = b.Region
	}
	if b.Namespace != "" {
		result.Namespace = b.Namespace
	}
	if b.Token != "" {
		result.Token = b.Token
	}
	if b.HTTPAuth != "" {
		result.HTTPAuth = b.HTTPAuth
	}
	if b.CACert != "" {
		result.CACert = b.CACert
	}
	if b.CAPath != "" {
		result.CAPath = b.CAPath
	}
	if b.ClientCert != "" {
		result.ClientCert = b.ClientCert
	}
	if b.ClientKey != "" {
		result.ClientKey = b.ClientKey
	}
	if b.TLSServerName != "" {
		result.TLSServerName = b.TLSServerName
	}
	if b.SkipVerify {
		result.SkipVerify = b.SkipVerify
	}
	if len(b.Datacenters) != 0 {
		result.Datacenters = append([]string(nil), b.Datacenters...)
	}
	if b.Priority != 0 {
		result.Priority = b.Priority
	}

	return &result
}

func (h *HTTP) merge(b *HTTP) *HTTP {
	if h == nil {
		return b
	}

	result := *h

	if b.BindAddress != "" {
		result.BindAddress = b.BindAddress
	}
	if b.BindPort != 0 {
		result.BindPort = b.BindPort
	}

	return &result
}

func (t *Telemetry) merge(b *Telemetry) *Telemetry {
	if t == nil {
		return b
	}

	result := *t

	if b.StatsiteAddr != "" {
		result.StatsiteAddr = b.StatsiteAddr
	}
	if b.StatsdAddr != "" {
		result.StatsdAddr = b.StatsdAddr
	}
	if b.DogStatsDAddr != "" {
		result.DogStatsDAddr = b.DogStatsDAddr
	}
	if b.DogStatsDTags != nil {
		result.DogStatsDTags = b.DogStatsDTags
	}
	if b.PrometheusMetrics {
		result.PrometheusMetrics = b.PrometheusMetrics
	}
	if b.PrometheusRetentionTime != 0 {
		result.PrometheusRetentionTime = b.PrometheusRetentionTime
	}
	if b.DisableHostname {
		result.DisableHostname = true
	}
	if b.EnableHostnameLabel {
		result.EnableHostnameLabel = true
	}
	if b.CollectionInterval != 0 {
		result.CollectionInterval = b.CollectionInterval
	}

	return &result
}

// mergeStringMap returns a deep copy of a with the entries of b layered on
// top. Neither input is modified.
func mergeStringMap(a, b map[string]string) map[string]string {
	out := map[string]string{}
	if a != nil {
		i, err := copystructure.Copy(a)
		if err != nil {
			panic(err.Error())
		}
		out = i.(map[string]string)
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func parseFile(file string, cfg *Agent) error {
	if err := hclsimple.DecodeFile(file, nil, cfg); err != nil {
		return err
	}

	if cfg.Broker != nil {
		if cfg.Broker.RequestTimeoutHCL != "" {
			d, err := time.ParseDuration(cfg.Broker.RequestTimeoutHCL)
			if err != nil {
				return err
			}
			cfg.Broker.RequestTimeout = d
		}
		if cfg.Broker.RetryMaxPtr != nil {
			cfg.Broker.RetryMax = *cfg.Broker.RetryMaxPtr
		}
	}

	if cfg.Pool != nil {
		if cfg.Pool.MinPtr != nil {
			cfg.Pool.Min = *cfg.Pool.MinPtr
		}
		if cfg.Pool.MaxPtr != nil {
			cfg.Pool.Max = *cfg.Pool.MaxPtr
		}
		if cfg.Pool.ScaleUpThresholdPtr != nil {
			cfg.Pool.ScaleUpThreshold = *cfg.Pool.ScaleUpThresholdPtr
		}
		if cfg.Pool.ScaleDownThresholdPtr != nil {
			cfg.Pool.ScaleDownThreshold = *cfg.Pool.ScaleDownThresholdPtr
		}
		if cfg.Pool.MessagesPerWorkerPtr != nil {
			cfg.Pool.MessagesPerWorker = *cfg.Pool.MessagesPerWorkerPtr
		}

		durations := []struct {
			hcl string
			dst *time.Duration
			set **time.Duration
		}{
			{cfg.Pool.PollIntervalHCL, &cfg.Pool.PollInterval, nil},
			{cfg.Pool.CooldownPeriodHCL, &cfg.Pool.CooldownPeriod, &cfg.Pool.CooldownPeriodPtr},
			{cfg.Pool.StopTimeoutHCL, &cfg.Pool.StopTimeout, &cfg.Pool.StopTimeoutPtr},
		}
		for _, d := range durations {
			if d.hcl == "" {
				continue
			}
			v, err := time.ParseDuration(d.hcl)
			if err != nil {
				return err
			}
			*d.dst = v
			if d.set != nil {
				*d.set = ptr.Of(v)
			}
		}
	}

	if cfg.Telemetry != nil {
		if cfg.Telemetry.CollectionIntervalHCL != "" {
			d, err := time.ParseDuration(cfg.Telemetry.CollectionIntervalHCL)
			if err != nil {
				return err
			}
			cfg.Telemetry.CollectionInterval = d
		}
		if cfg.Telemetry.PrometheusRetentionTimeHCL != "" {
			d, err := time.ParseDuration(cfg.Telemetry.PrometheusRetentionTimeHCL)
			if err != nil {
				return err
			}
			cfg.Telemetry.PrometheusRetentionTime = d
		}
	}

	return nil
}

// LoadPaths builds a configuration from the defaults with every path merged
// on top, in order.
func LoadPaths(paths []string) (*Agent, error) {
	cfg := Default()

	for _, path := range paths {
		current, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("error loading configuration from %s: %s", path, err)
		}
		cfg = cfg.Merge(current)
	}

	return cfg, nil
}

// Load loads the configuration at the given path, regardless if its a file or
// directory. Called for each -config to build up the runtime config value.
func Load(path string) (*Agent, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return loadDir(path)
	}

	cleaned := filepath.Clean(path)

	cfg := &Agent{}
	if err := parseFile(cleaned, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %v", cleaned, err)
	}
	return cfg, nil
}

// loadDir loads all the configurations in the given directory in alphabetical
// order.
func loadDir(dir string) (*Agent, error) {

	files, err := file.GetFileListFromDir(dir, ".hcl", ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to load config directory: %v", err)
	}

	// Fast-path if we have no files
	if len(files) == 0 {
		return &Agent{}, nil
	}

	sort.Strings(files)

	var result *Agent
	for _, f := range files {

		cfg := &Agent{}

		if err := parseFile(f, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %v", f, err)
		}

		if result == nil {
			result = cfg
		} else {
			result = result.Merge(cfg)
		}
	}

	return result, nil
}

// LoadEnv builds a configuration overlay from the environment variables read
// through lookup. Unset variables leave the corresponding field empty so the
// overlay merges cleanly on top of file configuration. Durations accept
// either a Go duration string or a bare number of seconds.
func LoadEnv(lookup func(string) (string, bool)) (*Agent, error) {
	cfg := &Agent{
		Broker: &Broker{},
		Pool:   &Pool{},
		Fleet:  &Fleet{},
	}

	var mErr *multierror.Error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, set func(int64)) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: invalid integer %q", name, v))
			return
		}
		set(i)
	}
	duration := func(name string, set func(time.Duration)) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		d, err := parseEnvDuration(v)
		if err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %v", name, err))
			return
		}
		set(d)
	}

	str(EnvBrokerHost, &cfg.Broker.Host)
	integer(EnvBrokerPort, func(i int64) { cfg.Broker.Port = int(i) })
	str(EnvBrokerUser, &cfg.Broker.Username)
	str(EnvBrokerPass, &cfg.Broker.Password)
	str(EnvBrokerAPI, &cfg.Broker.ManagementURL)
	str(EnvQueueName, &cfg.Broker.Queue)

	integer(EnvMinContainers, func(i int64) { cfg.Pool.MinPtr = ptr.Int64ToPtr(i); cfg.Pool.Min = i })
	integer(EnvMaxContainers, func(i int64) { cfg.Pool.MaxPtr = ptr.Int64ToPtr(i); cfg.Pool.Max = i })
	integer(EnvScaleUpThreshold, func(i int64) {
		cfg.Pool.ScaleUpThresholdPtr = ptr.Int64ToPtr(i)
		cfg.Pool.ScaleUpThreshold = i
	})
	integer(EnvScaleDownThreshold, func(i int64) {
		cfg.Pool.ScaleDownThresholdPtr = ptr.Int64ToPtr(i)
		cfg.Pool.ScaleDownThreshold = i
	})
	integer(EnvMessagesPerWorker, func(i int64) {
		cfg.Pool.MessagesPerWorkerPtr = ptr.Int64ToPtr(i)
		cfg.Pool.MessagesPerWorker = i
	})
	duration(EnvPollInterval, func(d time.Duration) { cfg.Pool.PollInterval = d })
	duration(EnvCooldownPeriod, func(d time.Duration) {
		cfg.Pool.CooldownPeriodPtr = ptr.Of(d)
		cfg.Pool.CooldownPeriod = d
	})
	duration(EnvStopTimeout, func(d time.Duration) {
		cfg.Pool.StopTimeoutPtr = ptr.Of(d)
		cfg.Pool.StopTimeout = d
	})

	str(EnvWorkerImage, &cfg.Fleet.WorkerImage)
	str(EnvWorkerPrefix, &cfg.Fleet.WorkerPrefix)
	str(EnvComposeProject, &cfg.Fleet.ComposeProject)
	str(EnvComposeService, &cfg.Fleet.ComposeService)
	str(EnvDockerNetwork, &cfg.Fleet.Network)

	if err := errHelper.FormattedMultiError(mErr); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

func parseEnvDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}
