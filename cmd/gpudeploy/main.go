package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/AccessibleAI/gpu-deploy/pkg/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type param struct {
	name      string
	shorthand string
	value     interface{}
	usage     string
	required  bool
}

const (
	// flagJSONLog enables log json.
	flagJSONLog = "json-log"
	// flagVerbose enables verbose logging.
	flagVerbose = "verbose"
	// flagConfig path to the config file with machines and host groups.
	flagConfig = "config"
	// flagUser remote user, also the owner encoded in job names.
	flagUser = "user"
	// flagHosts comma separated target hosts.
	flagHosts = "hosts"
	// flagHostsS short form of flagHosts.
	flagHostsS = "H"
	// flagAll targets every configured machine.
	flagAll = "all"
	// flagOn targets a configured host group.
	flagOn = "on"
	// flagExclude removes hosts from the targets.
	flagExclude = "exclude"
	// flagParallel runs on all targets concurrently.
	flagParallel = "parallel"
	// flagParallelS short form of flagParallel.
	flagParallelS = "P"
	flagSSHPort   = "ssh-port"
	// flagIdentity private key files offered to the hosts.
	flagIdentity    = "identity-file"
	flagKnownHosts  = "known-hosts"
	flagDialTimeout = "dial-timeout"
	// flagLocal runs every command on this machine instead of over ssh.
	flagLocal = "local"
	// flagMetricsFile node exporter textfile to write metrics to.
	flagMetricsFile = "metrics-file"
)

var (
	Version    string
	Build      string
	recorder   = metrics.NewRecorder()
	rootParams = []param{
		{name: flagJSONLog, shorthand: "", value: false, usage: "output logs in json format"},
		{name: flagVerbose, shorthand: "", value: false, usage: "enable verbose logs"},
		{name: flagConfig, shorthand: "", value: defaultConfigFile(), usage: "config file with machines and hostGroups"},
		{name: flagUser, shorthand: "u", value: os.Getenv("USER"), usage: "remote user and job owner"},
		{name: flagHosts, shorthand: flagHostsS, value: "", usage: "comma separated target hosts"},
		{name: flagAll, shorthand: "", value: false, usage: "target all configured machines"},
		{name: flagOn, shorthand: "", value: "", usage: "target a configured host group"},
		{name: flagExclude, shorthand: "", value: "", usage: "comma separated hosts to skip"},
		{name: flagParallel, shorthand: flagParallelS, value: false, usage: "run on all target hosts concurrently"},
		{name: flagSSHPort, shorthand: "", value: "22", usage: "ssh port used when a host does not carry one"},
		{name: flagIdentity, shorthand: "i", value: "", usage: "comma separated private keys, defaults to ~/.ssh/id_rsa and ~/.ssh/id_ed25519"},
		{name: flagKnownHosts, shorthand: "", value: "", usage: "known_hosts file, host keys are not verified when empty"},
		{name: flagDialTimeout, shorthand: "", value: 10, usage: "ssh dial timeout in seconds"},
		{name: flagLocal, shorthand: "", value: false, usage: "run commands on this machine instead of over ssh"},
		{name: flagMetricsFile, shorthand: "", value: "", usage: "write prometheus metrics to this textfile"},
	}
)

var gpuDeployVersion = &cobra.Command{
	Use:   "version",
	Short: "Print gpu-deploy version and build sha",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("🐾 version: %s build: %s \n", Version, Build)
	},
}

var rootCmd = &cobra.Command{
	Use:           "gpu-deploy",
	Short:         "gpu-deploy - run docker-compose services on free GPUs of remote machines",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// flags shared by several commands are bound to the one that runs
		return viper.BindPFlags(cmd.Flags())
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	setParams(deployParams, deployCmd)
	setParams(stopParams, stopCmd)
	setParams(stopParams, killCmd)
	setParams(availabilityParams, availabilityCmd)
	setParams(logsParams, logsCmd)
	setParams(rootParams, rootCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(availabilityCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(gpuDeployVersion)
}

func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gpu-deploy.yaml")
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("GPU_DEPLOY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	setupLogging()
	if cfg := viper.GetString(flagConfig); cfg != "" {
		viper.SetConfigFile(cfg)
		if err := viper.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(cfg); statErr == nil {
				log.Fatalf("failed to read config file %s, err: %s", cfg, err)
			}
			log.Debugf("no config file at %s", cfg)
		}
	}
}

func setParams(params []param, command *cobra.Command) {
	for _, param := range params {
		switch v := param.value.(type) {
		case int:
			command.PersistentFlags().IntP(param.name, param.shorthand, v, param.usage)
		case string:
			command.PersistentFlags().StringP(param.name, param.shorthand, v, param.usage)
		case bool:
			command.PersistentFlags().BoolP(param.name, param.shorthand, v, param.usage)
		}
		if param.required {
			if err := command.MarkPersistentFlagRequired(param.name); err != nil {
				panic(err)
			}
		}
		if err := viper.BindPFlag(param.name, command.PersistentFlags().Lookup(param.name)); err != nil {
			panic(err)
		}
	}
}

func setupLogging() {

	// Set log verbosity
	if viper.GetBool(flagVerbose) {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
				fileName := fmt.Sprintf(" [%s]", path.Base(frame.Function)+":"+strconv.Itoa(frame.Line))
				return "", fileName
			},
		})
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	// Set log format
	if viper.GetBool(flagJSONLog) {
		log.SetFormatter(&log.JSONFormatter{})
	}

	// Logs are always goes to STDOUT
	log.SetOutput(os.Stdout)
}

func main() {

	err := rootCmd.Execute()
	if mErr := recorder.WriteTextfile(viper.GetString(flagMetricsFile)); mErr != nil {
		log.Errorf("failed to write metrics, err: %s", mErr)
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

}
