package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodegeo/nodegeo/provider"
	"github.com/nodegeo/nodegeo/utils"
)

const downloadTimeout = 10 * time.Minute

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the local city database",
	Run:   execDownload,
}

func init() {
	downloadCmd.Flags().String("account-id", "", "MaxMind account ID")
	downloadCmd.Flags().String("license-key", "", "MaxMind license key")
	downloadCmd.Flags().String("edition", "GeoLite2-City", "MaxMind edition ID")
	downloadCmd.Flags().String("url", "", "download URL, used when no license key is set")
	downloadCmd.Flags().String("dest", "", "destination file (default is the first local.paths entry)")

	viper.BindPFlag("providers.maxmind.account_id", downloadCmd.Flags().Lookup("account-id"))
	viper.BindPFlag("providers.maxmind.license_key", downloadCmd.Flags().Lookup("license-key"))
	viper.BindPFlag("providers.maxmind.edition", downloadCmd.Flags().Lookup("edition"))
	viper.BindPFlag("providers.maxmind.url", downloadCmd.Flags().Lookup("url"))
	viper.BindPFlag("providers.maxmind.path", downloadCmd.Flags().Lookup("dest"))

	rootCmd.AddCommand(downloadCmd)
}

// databaseSource reports the configured download source, if any.
func databaseSource() (utils.DatabaseSource, bool) {
	source := utils.DatabaseSource{
		AccountID:  viper.GetString("providers.maxmind.account_id"),
		LicenseKey: viper.GetString("providers.maxmind.license_key"),
		EditionID:  viper.GetString("providers.maxmind.edition"),
		URL:        viper.GetString("providers.maxmind.url"),
	}

	return source, source.LicenseKey != "" || source.URL != ""
}

func downloadDestination() string {
	if dest := viper.GetString("providers.maxmind.path"); dest != "" {
		return utils.ExpandPath(dest)
	}

	paths := viper.GetStringSlice("local.paths")
	if len(paths) == 0 {
		return "GeoLite2-City.mmdb"
	}
	return utils.ExpandPath(paths[0])
}

func downloadDatabase(ctx context.Context, source utils.DatabaseSource) (bool, error) {
	dest := downloadDestination()
	log.Info().Str("dest", dest).Str("edition", source.EditionID).Msg("downloading local database")

	return utils.DownloadDatabase(ctx, &http.Client{Timeout: downloadTimeout}, source, dest)
}

func execDownload(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	source, ok := databaseSource()
	if !ok {
		log.Fatal().Msg("set providers.maxmind.license_key or providers.maxmind.url to download a database")
	}

	changed, err := downloadDatabase(ctx, source)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to download the local database")
	}
	if !changed {
		return
	}

	// make sure what landed on disk is a usable city database
	local := provider.NewLocalDatabase(provider.OpenMaxMind, viper.GetString("local.locale"))
	if err := local.Open(ctx, []string{downloadDestination()}); err != nil {
		log.Fatal().Err(err).Msg("downloaded file is not a usable city database")
	}
	defer local.Close()

	if meta, ok := local.Metadata(); ok {
		log.Info().Str("type", meta.DatabaseType).Time("build_time", meta.BuildTime).Msg("local database ready")
	}
}
