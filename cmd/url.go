package main

import (
	"fmt"
	"strings"

	"github.com/httprunner/bizlogic/internal/config"
	"github.com/httprunner/bizlogic/internal/providers/adb"
	"github.com/httprunner/bizlogic/internal/storage"
	"github.com/httprunner/bizlogic/pkg/bizlogic"
	"github.com/httprunner/bizlogic/pkg/buildinfo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	envBuildInfo   = "BUSINESS_LOGIC_BUILD_INFO"
	envRecord      = "BUSINESS_LOGIC_RECORD"
	envConcurrency = "BUSINESS_LOGIC_CONCURRENCY"
)

type urlResult struct {
	serial string
	url    string
	// includes the api key
	params int
}

func newURLCmd() *cobra.Command {
	var (
		flagSerials     []string
		flagBuildInfo   string
		flagURL         string
		flagAPIKey      string
		flagModule      string
		flagContentURI  string
		flagRecord      bool
		flagConcurrency int
	)

	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the business logic request URL for devices",
		Long:  "Builds one request URL per device serial (all online devices when --serial is omitted) and prints them in serial order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			spec := bizlogic.RequestSpecFromEnv()
			if v := strings.TrimSpace(flagURL); v != "" {
				spec.URL = v
			}
			if v := strings.TrimSpace(flagAPIKey); v != "" {
				spec.APIKey = v
			}
			if v := strings.TrimSpace(flagModule); v != "" {
				spec.Module = v
			}
			if cmd.Flags().Changed("content-uri") {
				spec.ContentProviderURI = strings.TrimSpace(flagContentURI)
			}

			buildPath := strings.TrimSpace(flagBuildInfo)
			if buildPath == "" {
				buildPath = config.String(envBuildInfo, "")
			}
			if buildPath == "" {
				return errors.Errorf("--build-info or $%s is required", envBuildInfo)
			}
			info, err := buildinfo.Load(buildPath)
			if err != nil {
				return err
			}

			provider, err := adb.NewDefault()
			if err != nil {
				return err
			}
			serials := flagSerials
			if len(serials) == 0 {
				if serials, err = provider.OnlineDevices(ctx); err != nil {
					return err
				}
			}
			if len(serials) == 0 {
				return errors.New("no online adb device found")
			}

			builder := bizlogic.NewBuilder()
			results := make([]urlResult, len(serials))
			group, _ := errgroup.WithContext(ctx)
			if concurrency := concurrencyLimit(flagConcurrency, cmd.Flags().Changed("concurrency")); concurrency > 0 {
				group.SetLimit(concurrency)
			}
			for i, serial := range serials {
				group.Go(func() error {
					dev, err := provider.Device(serial)
					if err != nil {
						return err
					}
					req, err := builder.BuildRequest(spec, dev, info)
					if err != nil {
						return errors.Wrapf(err, "build request for %s", serial)
					}
					results[i] = urlResult{serial: serial, url: req.URL, params: len(req.Params) + 1}
					log.Info().
						Str("serial", serial).
						Int("params", results[i].params).
						Msg("business logic request built")
					return nil
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}

			for _, res := range results {
				fmt.Fprintln(cmd.OutOrStdout(), res.url)
			}

			if !flagRecord && !config.Bool(envRecord, false) {
				return nil
			}
			reqLog, err := storage.OpenDefault()
			if err != nil {
				return err
			}
			defer reqLog.Close()
			suite, _ := info.Attribute(bizlogic.AttrSuiteName)
			for _, res := range results {
				if _, err := reqLog.Record(ctx, storage.RequestRecord{
					Serial:     res.serial,
					Suite:      suite,
					Module:     spec.Module,
					URL:        res.url,
					ParamCount: res.params,
				}); err != nil {
					return err
				}
			}
			log.Info().Str("db", reqLog.Path()).Int("records", len(results)).Msg("business logic requests recorded")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&flagSerials, "serial", nil, "Device serials (default: all online devices)")
	cmd.Flags().StringVar(&flagBuildInfo, "build-info", "", "Build descriptor YAML (overrides $"+envBuildInfo+")")
	cmd.Flags().StringVar(&flagURL, "url", "", "Service URL template with {suite-name}, {module} and {version} (overrides $"+bizlogic.EnvURL+")")
	cmd.Flags().StringVar(&flagAPIKey, "api-key", "", "Service API key (overrides $"+bizlogic.EnvAPIKey+")")
	cmd.Flags().StringVar(&flagModule, "module", "", "Test module name (overrides $"+bizlogic.EnvModule+")")
	cmd.Flags().StringVar(&flagContentURI, "content-uri", bizlogic.DefaultContentProviderURI, "Content provider queried for properties missing from getprop; empty disables")
	cmd.Flags().BoolVar(&flagRecord, "record", false, "Record built requests in the local SQLite log")
	cmd.Flags().IntVar(&flagConcurrency, "concurrency", 4, "Devices processed in parallel (overrides $"+envConcurrency+")")
	return cmd
}

// concurrencyLimit prefers an explicit --concurrency over $BUSINESS_LOGIC_CONCURRENCY.
func concurrencyLimit(flagValue int, flagChanged bool) int {
	if flagChanged {
		return flagValue
	}
	return config.Int(envConcurrency, flagValue)
}
