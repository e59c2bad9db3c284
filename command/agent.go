// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/queue-autoscaler/agent"
	"github.com/hashicorp/queue-autoscaler/agent/config"
	agentHTTP "github.com/hashicorp/queue-autoscaler/agent/http"
	flaghelper "github.com/hashicorp/queue-autoscaler/sdk/helper/flag"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/ptr"
	"github.com/hashicorp/queue-autoscaler/version"
)

type AgentCommand struct {
	args []string

	// lookupEnv reads the environment overrides. It defaults to
	// os.LookupEnv.
	lookupEnv func(string) (string, bool)

	agent      *agent.Agent
	httpServer *agentHTTP.Server
}

// Help should return long-form help text that includes the command-line
// usage, a brief few sentences explaining the function of the command,
// and the complete list of flags the command accepts.
func (c *AgentCommand) Help() string {
	helpText := `
Usage: queue-autoscaler agent [options]

  Starts the queue autoscaler agent and runs until an interrupt is received.

  The agent polls the depth of a RabbitMQ queue and grows or shrinks a pool of
  worker containers to match it. On SIGTERM or SIGINT every worker created by
  the agent is removed before exit. SIGUSR1 removes every worker but keeps the
  agent running.

  Configuration is read from the config files, then from the environment
  variables listed below, then from CLI arguments. Later sources win.

Options:

  -config=<path>
    The path to either a single config file or a directory of config
    files to use for configuring the agent.

  -log-level=<level>
    Specify the verbosity level of the agent's logs. Valid values include
    DEBUG, INFO, and WARN, in decreasing order of verbosity. The default is
    INFO.

  -log-json
    Output logs in a JSON format. The default is false.

  -enable-debug
    Enable the agent debugging HTTP endpoints. The default is false.

Broker Options:

  -broker-host=<host>
    The RabbitMQ host handed to workers. Overrides RABBITMQ_HOST. The default
    is rabbitmq.

  -broker-port=<port>
    The RabbitMQ AMQP port. Overrides RABBITMQ_PORT. The default is 5672.

  -broker-username=<user>
    The RabbitMQ user. Overrides RABBITMQ_USER. The default is guest.

  -broker-password=<pass>
    The RabbitMQ password. Overrides RABBITMQ_PASS. The default is guest.

  -broker-vhost=<vhost>
    The RabbitMQ virtual host used when declaring the queue.

  -queue=<name>
    The name of the monitored queue. Overrides QUEUE_NAME. The default is
    my-queue.

  -management-url=<url>
    The management API URL of the queue. Overrides RABBITMQ_API. The default
    is http://localhost:15672/api/queues/%2f/my-queue.

  -broker-request-timeout=<dur>
    The timeout of a single management API request. The default is 10s.

  -broker-retry-max=<num>
    The number of retries of a failed management API request. The default
    is 5.

  -broker-rate-limit=<num>
    The maximum number of management API requests per second. A negative
    value disables the limit, which is the default.

  -declare-queue=<bool>
    Declare the queue at startup. The default is true.

Pool Options:

  -min=<num>
    The minimum number of workers. Overrides MIN_CONTAINERS. The default is 1.

  -max=<num>
    The maximum number of workers. Overrides MAX_CONTAINERS. The default is
    10.

  -scale-up-threshold=<num>
    The backlog at or above which the pool grows. Overrides
    SCALE_UP_THRESHOLD. The default is 100.

  -scale-down-threshold=<num>
    The backlog at or below which the pool shrinks. Overrides
    SCALE_DOWN_THRESHOLD. The default is 10.

  -messages-per-worker=<num>
    The backlog a single worker is expected to drain. Overrides
    MESSAGES_PER_WORKER. The default is 200.

  -poll-interval=<dur>
    The time between two control loop cycles. Overrides POLL_INTERVAL. The
    default is 10s.

  -cooldown-period=<dur>
    The minimum time between two scaling actions. Overrides COOLDOWN_PERIOD.
    The default is 30s.

  -stop-timeout=<dur>
    The grace period given to a worker before it is killed. Overrides
    STOP_TIMEOUT. The default is 60s.

  -dry-run
    Compute and log scaling decisions without creating or removing workers.

Fleet Options:

  -driver=<name>
    The backend used to run workers, either docker or nomad. The default is
    docker.

  -worker-prefix=<prefix>
    The name prefix of managed workers. Overrides WORKER_PREFIX. The default
    is worker.

  -worker-image=<image>
    The image of a worker. Overrides WORKER_IMAGE. The default is
    my-worker:latest.

  -network=<name>
    The network workers are attached to. Overrides DOCKER_NETWORK.

  -compose-project=<name>
    The compose project label set on workers. Overrides COMPOSE_PROJECT. The
    default is myapp.

  -compose-service=<name>
    The compose service label set on workers. Overrides
    WORKER_COMPOSE_SERVICE. The default is worker.

  -worker-env=<key=value>
    An environment variable passed to every worker. May be repeated.

  -max-parallel=<num>
    The maximum number of concurrent worker create or remove operations. The
    default is 4.

  -selector=<name>
    The scale in strategy, either oldest_create or newest_create. The
    default is oldest_create.

  -docker-endpoint=<addr>
    The Docker daemon address. The DOCKER_HOST family of environment
    variables is used when empty.

  -nomad-address=<addr>
    The address of the Nomad server in the form of protocol://addr:port. The
    default is http://127.0.0.1:4646.

  -nomad-region=<region>
    The region of the Nomad servers to connect with.

  -nomad-namespace=<namespace>
    The namespace worker jobs are registered in.

  -nomad-token=<token>
    The SecretID of an ACL token to use to authenticate API requests with.

  -nomad-http-auth=<username:password>
    The authentication information to use when connecting to a Nomad API which
    is using HTTP authentication.

  -nomad-ca-cert=<path>
    Path to a PEM encoded CA cert file to use to verify the Nomad server SSL
    certificate.

  -nomad-ca-path=<path>
    Path to a directory of PEM encoded CA cert files to verify the Nomad server
    SSL certificate.

  -nomad-client-cert=<path>
    Path to a PEM encoded client certificate for TLS authentication to the
    Nomad server. Must also specify -nomad-client-key.

  -nomad-client-key=<path>
    Path to an unencrypted PEM encoded private key matching the client
    certificate from -nomad-client-cert.

  -nomad-tls-server-name=<name>
    The server name to use as the SNI host when connecting via TLS.

  -nomad-skip-verify
    Do not verify TLS certificates. This is strongly discouraged.

  -nomad-datacenter=<dc>
    A datacenter worker jobs may be placed in. May be repeated.

  -nomad-priority=<num>
    The priority of worker jobs. The default is 50.

HTTP Options:

  -http-bind-address=<addr>
    The HTTP address that the agent API will bind to. The default is
    127.0.0.1.

  -http-bind-port=<port>
    The port that the agent API will bind to. The default is 8080.

Telemetry Options:

  -telemetry-disable-hostname
    Specifies whether gauge values should be prefixed with the local hostname.

  -telemetry-enable-hostname-label
    Enable adding hostname to metric labels.

  -telemetry-collection-interval=<dur>
    Specifies the time interval at which the agent collects telemetry data. The
    default is 1s.

  -telemetry-statsite-address=<addr>
    The address of the statsite aggregation server.

  -telemetry-statsd-address=<addr>
    The address of the statsd aggregation.

  -telemetry-dogstatsd-address=<addr>
    The address of the Datadog statsd server.

  -telemetry-dogstatsd-tag=<tag>
    A global tag that will be added to all telemetry packets sent to
    DogStatsD. May be repeated.

  -telemetry-prometheus-metrics
    Indicates whether the agent should make Prometheus formatted metrics
    available. Defaults to false.

  -telemetry-prometheus-retention-time=<dur>
    The time to retain Prometheus metrics before they are expired and untracked.
`
	return strings.TrimSpace(helpText)
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be less than 50 characters ideally.
func (c *AgentCommand) Synopsis() string {
	return "Runs a queue autoscaler agent"
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
func (c *AgentCommand) Run(args []string) int {

	c.args = args

	parsedConfig := c.readConfig()
	if parsedConfig == nil {
		fmt.Println("Run 'queue-autoscaler agent --help' for more information.")
		return 1
	}

	// Create the agent logger.
	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:       "agent",
		Level:      hclog.LevelFromString(parsedConfig.LogLevel),
		JSONFormat: parsedConfig.LogJson,
	})

	c.agent = agent.NewAgent(parsedConfig, logger)

	logger.Info("Starting queue autoscaler agent")
	// Compile agent information for output later
	info := make(map[string]string)
	info["agent id"] = c.agent.ID()
	info["bind addrs"] = parsedConfig.HTTP.BindAddress
	info["log level"] = parsedConfig.LogLevel
	info["version"] = version.GetHumanVersion()
	info["driver"] = parsedConfig.Fleet.Driver
	info["queue"] = parsedConfig.Broker.Queue
	info["workers"] = fmt.Sprintf("min=%d max=%d", parsedConfig.Pool.Min, parsedConfig.Pool.Max)
	info["thresholds"] = fmt.Sprintf("up=%d down=%d per_worker=%d",
		parsedConfig.Pool.ScaleUpThreshold, parsedConfig.Pool.ScaleDownThreshold, parsedConfig.Pool.MessagesPerWorker)
	info["timings"] = fmt.Sprintf("poll=%s cooldown=%s stop=%s",
		parsedConfig.Pool.PollInterval, parsedConfig.Pool.CooldownPeriod, parsedConfig.Pool.StopTimeout)
	info["dry run"] = strconv.FormatBool(parsedConfig.Pool.DryRun)

	// Sort the keys for output
	infoKeys := make([]string, 0, len(info))
	for key := range info {
		infoKeys = append(infoKeys, key)
	}
	sort.Strings(infoKeys)

	// Agent configuration output
	padding := 18
	logger.Info("Queue autoscaler agent configuration:")
	logger.Info("")
	for _, k := range infoKeys {
		logger.Info(fmt.Sprintf(
			"%s%s: %s",
			strings.Repeat(" ", padding-len(k)),
			strings.Title(k),
			info[k]))
	}
	logger.Info("")

	if err := c.agent.Setup(); err != nil {
		logger.Error("failed to setup agent", "error", err)
		return 1
	}

	httpServer, err := agentHTTP.NewHTTPServer(
		parsedConfig.EnableDebug, parsedConfig.Telemetry.PrometheusMetrics, parsedConfig.HTTP, logger, c.agent)
	if err != nil {
		logger.Error("failed to setup HTTP server", "error", err)
		return 1
	}

	c.httpServer = httpServer
	go c.httpServer.Start()
	defer c.httpServer.Stop()

	// Output the header that the agent has started
	logger.Info("Queue autoscaler agent started! Log data will stream in below:")

	if err := c.agent.Run(context.Background()); err != nil {
		logger.Error("failed to run agent", "error", err)
		return 1
	}
	return 0
}

// readConfig builds the agent configuration from defaults, config files, the
// environment and CLI flags, in increasing order of precedence. It returns
// nil if the configuration could not be read or is invalid.
func (c *AgentCommand) readConfig() *config.Agent {
	var configPath []string
	var workerEnv []string

	// cmdConfig is used to store any passed CLI flags.
	cmdConfig := &config.Agent{
		Broker: &config.Broker{},
		Pool:   &config.Pool{},
		Fleet: &config.Fleet{
			Docker: &config.Docker{},
			Nomad:  &config.Nomad{},
		},
		HTTP:      &config.HTTP{},
		Telemetry: &config.Telemetry{},
	}

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { fmt.Println(c.Help()) }

	// Specify our top level CLI flags.
	flags.Var((*flaghelper.StringFlag)(&configPath), "config", "")
	flags.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flags.BoolVar(&cmdConfig.LogJson, "log-json", false, "")
	flags.BoolVar(&cmdConfig.EnableDebug, "enable-debug", false, "")

	// Specify our broker flags.
	flags.StringVar(&cmdConfig.Broker.Host, "broker-host", "", "")
	flags.IntVar(&cmdConfig.Broker.Port, "broker-port", 0, "")
	flags.StringVar(&cmdConfig.Broker.Username, "broker-username", "", "")
	flags.StringVar(&cmdConfig.Broker.Password, "broker-password", "", "")
	flags.StringVar(&cmdConfig.Broker.VHost, "broker-vhost", "", "")
	flags.StringVar(&cmdConfig.Broker.Queue, "queue", "", "")
	flags.StringVar(&cmdConfig.Broker.ManagementURL, "management-url", "", "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Broker.RequestTimeout = d
		return nil
	}), "broker-request-timeout", "")
	flags.Var((flaghelper.FuncIntVar)(func(i int) error {
		cmdConfig.Broker.RetryMaxPtr = ptr.IntToPtr(i)
		return nil
	}), "broker-retry-max", "")
	flags.IntVar(&cmdConfig.Broker.RateLimit, "broker-rate-limit", 0, "")
	flags.BoolFunc("declare-queue", "", func(s string) error {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		cmdConfig.Broker.DeclareQueue = ptr.BoolToPtr(b)
		return nil
	})

	// Specify our pool flags.
	flags.Var((flaghelper.FuncInt64Var)(func(i int64) error {
		cmdConfig.Pool.MinPtr = ptr.Int64ToPtr(i)
		return nil
	}), "min", "")
	flags.Var((flaghelper.FuncInt64Var)(func(i int64) error {
		cmdConfig.Pool.MaxPtr = ptr.Int64ToPtr(i)
		return nil
	}), "max", "")
	flags.Var((flaghelper.FuncInt64Var)(func(i int64) error {
		cmdConfig.Pool.ScaleUpThresholdPtr = ptr.Int64ToPtr(i)
		return nil
	}), "scale-up-threshold", "")
	flags.Var((flaghelper.FuncInt64Var)(func(i int64) error {
		cmdConfig.Pool.ScaleDownThresholdPtr = ptr.Int64ToPtr(i)
		return nil
	}), "scale-down-threshold", "")
	flags.Var((flaghelper.FuncInt64Var)(func(i int64) error {
		cmdConfig.Pool.MessagesPerWorkerPtr = ptr.Int64ToPtr(i)
		return nil
	}), "messages-per-worker", "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Pool.PollInterval = d
		return nil
	}), "poll-interval", "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Pool.CooldownPeriodPtr = ptr.Of(d)
		return nil
	}), "cooldown-period", "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Pool.StopTimeoutPtr = ptr.Of(d)
		return nil
	}), "stop-timeout", "")
	flags.BoolVar(&cmdConfig.Pool.DryRun, "dry-run", false, "")

	// Specify our fleet flags.
	flags.StringVar(&cmdConfig.Fleet.Driver, "driver", "", "")
	flags.StringVar(&cmdConfig.Fleet.WorkerPrefix, "worker-prefix", "", "")
	flags.StringVar(&cmdConfig.Fleet.WorkerImage, "worker-image", "", "")
	flags.StringVar(&cmdConfig.Fleet.Network, "network", "", "")
	flags.StringVar(&cmdConfig.Fleet.ComposeProject, "compose-project", "", "")
	flags.StringVar(&cmdConfig.Fleet.ComposeService, "compose-service", "", "")
	flags.Var((*flaghelper.StringFlag)(&workerEnv), "worker-env", "")
	flags.IntVar(&cmdConfig.Fleet.MaxParallel, "max-parallel", 0, "")
	flags.StringVar(&cmdConfig.Fleet.Selector, "selector", "", "")
	flags.StringVar(&cmdConfig.Fleet.Docker.Endpoint, "docker-endpoint", "", "")

	// Specify our Nomad client CLI flags.
	flags.StringVar(&cmdConfig.Fleet.Nomad.Address, "nomad-address", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.Region, "nomad-region", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.Namespace, "nomad-namespace", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.Token, "nomad-token", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.HTTPAuth, "nomad-http-auth", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.CACert, "nomad-ca-cert", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.CAPath, "nomad-ca-path", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.ClientCert, "nomad-client-cert", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.ClientKey, "nomad-client-key", "", "")
	flags.StringVar(&cmdConfig.Fleet.Nomad.TLSServerName, "nomad-tls-server-name", "", "")
	flags.BoolVar(&cmdConfig.Fleet.Nomad.SkipVerify, "nomad-skip-verify", false, "")
	flags.Var((*flaghelper.StringFlag)(&cmdConfig.Fleet.Nomad.Datacenters), "nomad-datacenter", "")
	flags.IntVar(&cmdConfig.Fleet.Nomad.Priority, "nomad-priority", 0, "")

	// Specify our HTTP bind flags.
	flags.StringVar(&cmdConfig.HTTP.BindAddress, "http-bind-address", "", "")
	flags.IntVar(&cmdConfig.HTTP.BindPort, "http-bind-port", 0, "")

	// Specify our Telemetry CLI flags.
	flags.BoolVar(&cmdConfig.Telemetry.DisableHostname, "telemetry-disable-hostname", false, "")
	flags.BoolVar(&cmdConfig.Telemetry.EnableHostnameLabel, "telemetry-enable-hostname-label", false, "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Telemetry.CollectionInterval = d
		return nil
	}), "telemetry-collection-interval", "")
	flags.StringVar(&cmdConfig.Telemetry.StatsiteAddr, "telemetry-statsite-address", "", "")
	flags.StringVar(&cmdConfig.Telemetry.StatsdAddr, "telemetry-statsd-address", "", "")
	flags.StringVar(&cmdConfig.Telemetry.DogStatsDAddr, "telemetry-dogstatsd-address", "", "")
	flags.Var((*flaghelper.StringFlag)(&cmdConfig.Telemetry.DogStatsDTags), "telemetry-dogstatsd-tag", "")
	flags.BoolVar(&cmdConfig.Telemetry.PrometheusMetrics, "telemetry-prometheus-metrics", false, "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Telemetry.PrometheusRetentionTime = d
		return nil
	}), "telemetry-prometheus-retention-time", "")

	if err := flags.Parse(c.args); err != nil {
		return nil
	}

	if len(workerEnv) > 0 {
		cmdConfig.Fleet.WorkerEnv = make(map[string]string, len(workerEnv))
		for _, kv := range workerEnv {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				fmt.Printf("invalid -worker-env %q, expected <key>=<value>\n", kv)
				return nil
			}
			cmdConfig.Fleet.WorkerEnv[k] = v
		}
	}

	fileConfig, err := config.LoadPaths(configPath)
	if err != nil {
		fmt.Printf("%s\n", err)
		return nil
	}

	lookup := c.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	envConfig, err := config.LoadEnv(lookup)
	if err != nil {
		fmt.Printf("%s\n", err)
		return nil
	}

	result := fileConfig.Merge(envConfig).Merge(cmdConfig)
	if err := result.Validate(); err != nil {
		fmt.Printf("%s\n", err)
		return nil
	}
	return result
}
