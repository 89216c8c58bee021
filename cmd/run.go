// -- cmd/run.go --
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/internal/anty"
	"github.com/xkilldash9x/drawbot/internal/engine"
	"github.com/xkilldash9x/drawbot/internal/identity/fingerprint"
	"github.com/xkilldash9x/drawbot/internal/identity/profile"
	"github.com/xkilldash9x/drawbot/internal/identity/provision"
	"github.com/xkilldash9x/drawbot/internal/identity/proxypool"
	"github.com/xkilldash9x/drawbot/internal/observability"
)

var (
	flagProxyFile string
	flagTasks     int
	flagTarget    string
)

// runCmd provisions one browser identity per task and drives the entry flow
// through it.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Provision browser identities and run the configured number of tasks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		if flagProxyFile != "" {
			cfg.Provision.ProxyFile = flagProxyFile
		}
		if flagTasks > 0 {
			cfg.Engine.Tasks = flagTasks
		}
		if flagTarget != "" {
			cfg.Engine.TargetURL = flagTarget
		}

		if cfg.Anty.Token == "" {
			return fmt.Errorf("anty.token is required (set DRAWBOT_ANTY_TOKEN)")
		}

		proxies, err := loadProxyList(cfg.Provision.ProxyFile)
		if err != nil {
			return err
		}
		logger.Info("Loaded candidate proxies.", zap.Int("count", len(proxies)))

		client := anty.NewClient(cfg.Anty, logger)
		source := fingerprint.NewSource(client, logger,
			fingerprint.WithMaxRetries(cfg.Provision.FingerprintMaxRetries),
			fingerprint.WithBackoff(cfg.Provision.FingerprintBackoff),
		)
		registry := proxypool.NewRegistry(client, cfg.Provision.ProxyType, logger)
		defaults := profile.Defaults{
			Platform:         cfg.Provision.Platform,
			BrowserType:      cfg.Provision.BrowserType,
			BrowserVersion:   cfg.Provision.BrowserVersion,
			MainWebsite:      cfg.Provision.MainWebsite,
			Tags:             cfg.Provision.Tags,
			WebRTCMode:       cfg.Provision.WebRTCMode,
			TimezoneMode:     cfg.Provision.TimezoneMode,
			LocaleMode:       cfg.Provision.LocaleMode,
			GeolocationMode:  cfg.Provision.GeolocationMode,
			MediaDevicesMode: cfg.Provision.MediaDevicesMode,
			PortsBlacklist:   cfg.Provision.PortsBlacklist,
		}

		// Every worker owns a private orchestrator; the provisioner and
		// registry underneath are stateless per call and safe to share.
		provisioner := profile.NewProvisioner(client, source, registry, defaults, logger)
		newOrchestrator := func() (engine.Orchestrator, error) {
			return provision.New(registry, provisioner, logger,
				provision.WithMaxRetries(cfg.Provision.MaxRetries))
		}

		eng, err := engine.New(cfg.Engine, cfg.Browser, proxies, newOrchestrator, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return eng.Run(ctx)
	},
}

func init() {
	runCmd.Flags().StringVarP(&flagProxyFile, "proxy-file", "p", "", "newline-delimited host:port:user:pass proxy list")
	runCmd.Flags().IntVarP(&flagTasks, "tasks", "t", 0, "number of tasks to run (overrides config)")
	runCmd.Flags().StringVar(&flagTarget, "target", "", "target URL to open after provisioning")
	rootCmd.AddCommand(runCmd)
}

// loadProxyList reads the newline-delimited candidate proxy file. Blank
// lines and '#' comments are skipped; format validation happens later,
// per-attempt, so one bad line cannot block startup.
func loadProxyList(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("provision.proxy_file is required (or pass --proxy-file)")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy file %q: %w", path, err)
	}
	defer f.Close()

	var proxies []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxies = append(proxies, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy file %q: %w", path, err)
	}
	return proxies, nil
}
