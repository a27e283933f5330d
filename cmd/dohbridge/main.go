package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	bridge "github.com/fernwood/dohbridge"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	listen           []string
	port             int
	provider         string
	bootstrapAddress string
	workers          int
	queueSize        int
	logLevel         string
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "dohbridge [config-file]",
		Short: "DNS to DNS-over-HTTPS bridge",
		Long: fmt.Sprintf(`DNS to DNS-over-HTTPS bridge.

It listens for regular DNS queries over UDP and TCP and forwards
them to a DNS-over-HTTPS provider using the JSON protocol. The
answers are translated back to wire format, so any standard DNS
client can resolve through an encrypted provider without knowing
anything about HTTPS.

Available providers: %s
`, strings.Join(bridge.ProviderNames(), ", ")),
		Example: `  dohbridge --provider cloudflare --port 1053
  dohbridge config.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, args, opt)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringSliceVarP(&opt.listen, "listen", "l", nil, "addresses to listen on")
	cmd.Flags().IntVarP(&opt.port, "port", "p", 0, "port to listen on")
	cmd.Flags().StringVar(&opt.provider, "provider", "", "DoH provider to forward queries to")
	cmd.Flags().StringVar(&opt.bootstrapAddress, "bootstrap-address", "", "pre-resolved IP of the provider endpoint")
	cmd.Flags().IntVar(&opt.workers, "workers", 0, "number of resolution workers (0 = number of CPUs)")
	cmd.Flags().IntVar(&opt.queueSize, "queue-size", 0, "capacity of the work queue")
	cmd.Flags().StringVar(&opt.logLevel, "log-level", "", "error, warn, info, debug or trace")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(cmd *cobra.Command, args []string, opt options) error {
	cfg := defaultConfig()
	if len(args) > 0 {
		var err error
		cfg, err = loadConfig(args[0])
		if err != nil {
			return err
		}
	}
	applyFlags(cmd, opt, &cfg)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", cfg.LogLevel)
	}
	bridge.Log.SetLevel(level)

	providerName := cfg.Provider
	if providerName == "" {
		providerName = bridge.DefaultProvider
	}
	provider, err := bridge.LookupProvider(providerName)
	if err != nil {
		return fmt.Errorf("unknown provider '%s', available: %s", providerName, strings.Join(bridge.ProviderNames(), ", "))
	}

	var resolver bridge.Resolver
	resolver, err = bridge.NewDoHJSONClient("doh", provider, bridge.DoHJSONClientOptions{
		BootstrapAddr: cfg.BootstrapAddress,
	})
	if err != nil {
		return err
	}
	if cfg.Syslog.Enabled {
		resolver, err = bridge.NewSyslog("syslog", resolver, bridge.SyslogOptions{
			Network:   cfg.Syslog.Network,
			Address:   cfg.Syslog.Address,
			Priority:  cfg.Syslog.Priority,
			Tag:       cfg.Syslog.Tag,
			LogQuery:  cfg.Syslog.LogQuery,
			LogAnswer: cfg.Syslog.LogAnswer,
		})
		if err != nil {
			return err
		}
	}

	processor := bridge.NewProcessor("processor", resolver, bridge.ProcessorOptions{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})

	services := []bridge.Service{processor}
	for _, ip := range cfg.Listen {
		addr := net.JoinHostPort(ip, strconv.Itoa(cfg.Port))
		services = append(services,
			bridge.NewUDPServer("udp@"+addr, addr, processor),
			bridge.NewTCPServer("tcp@"+addr, addr, processor, bridge.TCPServerOptions{}),
		)
	}

	stack := bridge.NewStack(services...)
	if err := stack.Start(); err != nil {
		return err
	}
	bridge.Log.WithField("provider", providerName).Info("bridge running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	bridge.Log.Info("shutting down")
	stack.Stop()
	return nil
}

// Flags given on the command line win over the config file.
func applyFlags(cmd *cobra.Command, opt options, cfg *config) {
	if cmd.Flags().Changed("listen") {
		cfg.Listen = opt.listen
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = opt.port
	}
	if cmd.Flags().Changed("provider") {
		cfg.Provider = opt.provider
	}
	if cmd.Flags().Changed("bootstrap-address") {
		cfg.BootstrapAddress = opt.bootstrapAddress
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = opt.workers
	}
	if cmd.Flags().Changed("queue-size") {
		cfg.QueueSize = opt.queueSize
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = opt.logLevel
	}
}
