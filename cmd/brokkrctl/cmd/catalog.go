package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/brokkr-labs/brokkr/internal/catalog"
	"github.com/brokkr-labs/brokkr/internal/config"
	"github.com/brokkr-labs/brokkr/internal/platform"
)

// catalogFetchTimeout bounds the whole fetch including retries; the platform
// client's own timeout only covers a single HTTP exchange.
const catalogFetchTimeout = 30 * time.Second

var (
	catalogProject    string
	catalogJSON       bool
	catalogInvalidate bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Fetch and print a project's published firmware catalog",
	Long: `Catalog lists every firmware image published to a project, grouped by
target. Platform credentials come from the BROKKR_PLATFORM_* environment
variables; --invalidate additionally drops the shared snapshot in redis so
service instances stop adopting it.`,
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().StringVar(&catalogProject, "project", "", "project UID (defaults to BROKKR_PLATFORM_PROJECT_UID)")
	catalogCmd.Flags().BoolVar(&catalogJSON, "json", false, "output machine-readable JSON")
	catalogCmd.Flags().BoolVar(&catalogInvalidate, "invalidate", false, "drop the shared catalog snapshot before fetching")
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var cfg config.PlatformConfig
	if err := config.LoadSection("PLATFORM", &cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("project") {
		cfg.ProjectUID = catalogProject
	}
	if cfg.ProjectUID == "" {
		return fmt.Errorf("--project required (or set BROKKR_PLATFORM_PROJECT_UID)")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("platform configuration: %w", err)
	}

	if catalogInvalidate {
		if err := dropSharedSnapshot(ctx, cfg.ProjectUID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dropped shared snapshot for %s\n", cfg.ProjectUID)
	}

	client := platform.NewClient(newLogger(), &cfg)
	project := platform.NewProject(client, cfg.ProjectUID)

	fetchCtx, cancel := context.WithTimeout(ctx, catalogFetchTimeout)
	defer cancel()

	cat, err := project.CatalogFetch(fetchCtx, cfg.ProjectUID)
	if err != nil {
		return fmt.Errorf("failed to fetch catalog: %w", err)
	}

	if catalogJSON {
		return writeCatalogJSON(cmd, cfg.ProjectUID, cat)
	}
	writeCatalogTable(cmd, cfg.ProjectUID, cat)
	return nil
}

// dropSharedSnapshot deletes the project's catalog snapshot from redis.
// A running service instance keeps its in-memory copy until the TTL ages it
// out; this only stops restarted or newly scaled instances adopting it.
func dropSharedSnapshot(ctx context.Context, projectUID string) error {
	var redisCfg config.RedisConfig
	if err := config.LoadSection("REDIS", &redisCfg); err != nil {
		return err
	}
	if !redisCfg.IsConfigured() {
		return fmt.Errorf("--invalidate needs redis (set BROKKR_REDIS_URL or BROKKR_REDIS_HOST/PORT)")
	}

	var catalogCfg config.CatalogConfig
	if err := config.LoadSection("CATALOG", &catalogCfg); err != nil {
		return err
	}

	client, err := catalog.NewRedisClient(ctx, &redisCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer client.Close()

	return catalog.NewRedisStore(client, catalogCfg.TTL).Delete(ctx, projectUID)
}

func writeCatalogTable(cmd *cobra.Command, projectUID string, cat *catalog.Catalog) {
	fmt.Fprintf(cmd.OutOrStdout(), "Project: %s\n", projectUID)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tVERSION\tFILENAME")
	for _, img := range cat.Images() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", img.Target, img.Version, img.Filename)
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "Images: %d\n", cat.Len())
}

func writeCatalogJSON(cmd *cobra.Command, projectUID string, cat *catalog.Catalog) error {
	payload := struct {
		Project string          `json:"project"`
		Images  []catalog.Image `json:"images"`
	}{
		Project: projectUID,
		Images:  cat.Images(),
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
