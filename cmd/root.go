/*
Copyright © 2022 FairwindsOps Inc
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/client-go/kubernetes"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/audit"
	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/kube"
	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/metrics"
	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/report"
)

const defaultRegistryPrefix = "123456789.dkr.ecr.us-east-1.amazonaws.com"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kube-checker",
	Short: "Audit Deployments and StatefulSets for operational best practices",
	Long: `kube-checker lists every running pod, resolves it to its owning Deployment or
StatefulSet and checks the workload for a node selector, CPU and memory
requests on every container, and images pulled from the approved registry.
Sidecars injected at admission time are included because the checks run
against live pods rather than manifests.`,
	Run: func(cmd *cobra.Command, args []string) {
		startAudit(cmd.Context())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kube-checker.yaml)")
	flags.BoolP("debug", "D", false, "Enable debug logging.")
	flags.Bool("disable-filter", false, "Include every pod, grouping pods without a Deployment or StatefulSet owner as \"unresolved\".")
	flags.Bool("failing-only", true, "Only print table rows failing at least one check. Ignored with --disable-filter; CSV, JSON and metrics always carry every row.")
	flags.Bool("print-table", false, "Print the results as tables to stdout.")
	flags.Bool("generate-csv", false, "Write "+report.ByObjectFile+" and "+report.ByContainerNameFile+" to --output-dir.")
	flags.String("output-dir", ".", "Directory for the CSV files.")
	flags.String("output-file", "", "Destination file for the JSON report.")
	flags.String("metrics-file", "", "Destination file for Prometheus textfile metrics.")
	flags.String("registry-prefix", defaultRegistryPrefix, "Image prefix of the approved container registry.")
	flags.StringArrayP("namespace", "n", []string{}, "Namespace to audit. Can be repeated; defaults to all namespaces.")
	flags.StringArray("exclude-namespace", []string{}, "Namespace to skip. Can be repeated.")
	flags.Int("workers", runtime.NumCPU(), "Number of partitions the pods are audited in.")
	flags.Int("concurrency", kube.DefaultConcurrency, "Number of namespaces listed in parallel.")
	flags.String("snapshot-file", "", "Audit a snapshot saved with --save-snapshot instead of the live cluster.")
	flags.String("save-snapshot", "", "Save the collected snapshot to this file.")

	for _, name := range []string{
		"debug", "disable-filter", "failing-only", "print-table", "generate-csv", "output-dir",
		"output-file", "metrics-file", "registry-prefix", "namespace", "exclude-namespace",
		"workers", "concurrency", "snapshot-file", "save-snapshot",
	} {
		cobra.CheckErr(viper.BindPFlag(name, flags.Lookup(name)))
	}

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".kube-checker")
	}
	viper.SetEnvPrefix("KUBE_CHECKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// Config is the resolved command line and file configuration.
type Config struct {
	DisableFilter     bool
	FailingOnly       bool
	PrintTable        bool
	GenerateCSV       bool
	OutputDir         string
	OutputFile        string
	MetricsFile       string
	RegistryPrefix    string
	Namespaces        []string
	ExcludeNamespaces []string
	Workers           int
	Concurrency       int
	SnapshotFile      string
	SaveSnapshot      string
}

func configFromViper() Config {
	return Config{
		DisableFilter:     viper.GetBool("disable-filter"),
		FailingOnly:       viper.GetBool("failing-only"),
		PrintTable:        viper.GetBool("print-table"),
		GenerateCSV:       viper.GetBool("generate-csv"),
		OutputDir:         viper.GetString("output-dir"),
		OutputFile:        viper.GetString("output-file"),
		MetricsFile:       viper.GetString("metrics-file"),
		RegistryPrefix:    viper.GetString("registry-prefix"),
		Namespaces:        viper.GetStringSlice("namespace"),
		ExcludeNamespaces: viper.GetStringSlice("exclude-namespace"),
		Workers:           viper.GetInt("workers"),
		Concurrency:       viper.GetInt("concurrency"),
		SnapshotFile:      viper.GetString("snapshot-file"),
		SaveSnapshot:      viper.GetString("save-snapshot"),
	}
}

func startAudit(ctx context.Context) {
	if viper.GetBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debugf("Debugging is enabled...")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logrus.Info("Starting kube-checker")
	err := runAudit(ctx, configFromViper(), afero.NewOsFs(), os.Stdout, kube.GetKubeClient)
	if errors.Is(err, audit.ErrNoData) {
		logrus.Errorf("No pod data to audit: %v", err)
		os.Exit(1)
	}
	if err != nil {
		logrus.Error("There were errors while running kube-checker.")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAudit(ctx context.Context, cfg Config, fs afero.Fs, out io.Writer, getClient func() (kubernetes.Interface, error)) error {
	snapshot, err := loadSnapshot(ctx, cfg, fs, getClient)
	if err != nil {
		return err
	}
	if cfg.SaveSnapshot != "" {
		if err := kube.SaveSnapshot(fs, cfg.SaveSnapshot, snapshot); err != nil {
			return err
		}
		logrus.Infof("Saved snapshot to %s", cfg.SaveSnapshot)
	}

	result, err := audit.Run(snapshot, audit.Options{
		RegistryPrefix:    cfg.RegistryPrefix,
		DisableFilter:     cfg.DisableFilter,
		Workers:           cfg.Workers,
		Namespaces:        cfg.Namespaces,
		ExcludeNamespaces: cfg.ExcludeNamespaces,
	})
	if err != nil {
		return err
	}
	logrus.Infof("Finished audit, %d object rows and %d container rows", len(result.ByObject), len(result.ByContainerName))

	var allErrs *multierror.Error
	if cfg.PrintTable {
		if err := report.PrintTables(out, result, cfg.FailingOnly && !cfg.DisableFilter); err != nil {
			allErrs = multierror.Append(allErrs, fmt.Errorf("printing table: %w", err))
		}
	}
	if cfg.GenerateCSV {
		if err := report.WriteCSV(fs, cfg.OutputDir, result); err != nil {
			allErrs = multierror.Append(allErrs, err)
		}
	}
	if cfg.OutputFile != "" {
		if err := report.WriteJSON(fs, cfg.OutputFile, result); err != nil {
			allErrs = multierror.Append(allErrs, err)
		}
	}
	if cfg.MetricsFile != "" {
		recorder := metrics.NewRecorder()
		recorder.Record(result)
		if err := recorder.WriteTextfile(fs, cfg.MetricsFile); err != nil {
			allErrs = multierror.Append(allErrs, err)
		}
	}
	return allErrs.ErrorOrNil()
}

func loadSnapshot(ctx context.Context, cfg Config, fs afero.Fs, getClient func() (kubernetes.Interface, error)) (*models.Snapshot, error) {
	if cfg.SnapshotFile != "" {
		logrus.Infof("Loading snapshot from %s", cfg.SnapshotFile)
		return kube.LoadSnapshot(fs, cfg.SnapshotFile)
	}
	client, err := getClient()
	if err != nil {
		return nil, fmt.Errorf("error fetching Kubernetes client: %w", err)
	}
	logrus.Info("connected to kube")
	snapshot, err := kube.CollectSnapshot(ctx, client, cfg.Namespaces, cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("error fetching Kubernetes resources: %w", err)
	}
	return snapshot, nil
}
