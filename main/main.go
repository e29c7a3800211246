package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/ontanj/encprofile"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	Config   string
	DataDir  string
	Backend  string
	LogLevel string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "encprofile",
	Short: "Encrypted user profile vault",
	Long: `encprofile runs an encrypted profile vault with a threshold
decryption oracle. Scenarios are YAML files of vault calls; histogram and
status read an on-disk store without starting the oracle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Execute a scenario against a fresh vault node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sc, err := parseScenario(args[0])
		if err != nil {
			return err
		}
		logger, err := encprofile.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		results, err := runScenario(ctx, cfg, logger, sc)
		renderResults(results)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("%d steps passed", len(results))
		return nil
	},
}

var histogramCmd = &cobra.Command{
	Use:   "histogram",
	Short: "Show the plaintext distributions of a stored vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		d, err := encprofile.LoadDistributions(store)
		if err != nil {
			return err
		}
		return renderHistograms(d.Snapshot())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <identity>",
	Short: "Show the profile status of a name or address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		identity, err := newDirectory(cfg.OwnerAddress()).address(args[0])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()
		ps, err := encprofile.LoadProfileStatus(store, identity)
		if err != nil {
			return err
		}
		if !ps.Active {
			pterm.Info.Printfln("%s has no profile", identity.Hex())
			return nil
		}
		pterm.DefaultBox.WithTitle(identity.Hex()).WithTitleTopCenter().Println(
			fmt.Sprintf("created  %s\nupdated  %s",
				ps.CreatedAt.Format(time.RFC3339), ps.LastUpdated.Format(time.RFC3339)))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.Config, "config", "c", "", "YAML config file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&flags.DataDir, "data-dir", "", "badger directory, overrides store.path")
	rootCmd.PersistentFlags().StringVar(&flags.Backend, "backend", "", "cryptosystem backend: bfv|dj|clear")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "debug|info|warn|error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(histogramCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func loadConfig() (encprofile.Config, error) {
	cfg := encprofile.DefaultConfig()
	if flags.Config != "" {
		var err error
		if cfg, err = encprofile.LoadConfig(flags.Config); err != nil {
			return cfg, err
		}
	}
	if flags.DataDir != "" {
		cfg.Store.Path = flags.DataDir
		cfg.Store.InMemory = false
	}
	if flags.Backend != "" {
		cfg.Cryptosystem.Backend = flags.Backend
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	return cfg, cfg.Validate()
}

func openStore() (*encprofile.BadgerStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.InMemory || cfg.Store.Path == "" {
		return nil, fmt.Errorf("an on-disk store is required, set store.path or --data-dir")
	}
	return encprofile.OpenBadger(cfg.Store, zap.NewNop())
}

func runScenario(ctx context.Context, cfg encprofile.Config, logger *zap.Logger, sc Scenario) ([]stepResult, error) {
	node, err := encprofile.NewNode(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer node.Close()

	r, err := newRunner(node, cfg.OwnerAddress(), cfg.Oracle.Timeout)
	if err != nil {
		return nil, err
	}
	defer r.close()
	return r.run(ctx, sc)
}

func renderResults(results []stepResult) {
	if len(results) == 0 {
		return
	}
	data := pterm.TableData{{"#", "op", "result"}}
	for _, res := range results {
		detail := res.Detail
		if res.Err != nil {
			detail = "error: " + res.Err.Error()
		}
		data = append(data, []string{strconv.Itoa(res.Index), res.Op, detail})
	}
	pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
}

func renderHistograms(h encprofile.Histograms) error {
	pterm.DefaultSection.Printfln("%d users", h.TotalUsers)
	charts := []struct {
		title   string
		buckets []uint64
	}{
		{"age range", h.Age[:]},
		{"income level", h.Income[:]},
		{"spending pattern", h.Spending[:]},
	}
	for _, c := range charts {
		bars := make(pterm.Bars, 0, len(c.buckets))
		for i, n := range c.buckets {
			bars = append(bars, pterm.Bar{Label: strconv.Itoa(i), Value: int(n)})
		}
		pterm.DefaultSection.WithLevel(2).Println(c.title)
		if err := pterm.DefaultBarChart.WithBars(bars).WithShowValue().Render(); err != nil {
			return err
		}
	}

	data := pterm.TableData{{"bucket", "age", "income", "spending"}}
	for i := range h.Income {
		age := "-"
		if i < len(h.Age) {
			age = strconv.FormatUint(h.Age[i], 10)
		}
		data = append(data, []string{strconv.Itoa(i), age,
			strconv.FormatUint(h.Income[i], 10), strconv.FormatUint(h.Spending[i], 10)})
	}
	return pterm.DefaultTable.WithHasHeader(true).WithData(data).Render()
}
