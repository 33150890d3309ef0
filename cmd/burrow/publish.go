package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/devwatch"
	"github.com/cuemby/burrow/pkg/fingerprint"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/momclient"
	"github.com/cuemby/burrow/pkg/revision"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const publishParallelism = 4

var publishCmd = &cobra.Command{
	Use:   "publish DIR",
	Short: "Upload a built site to the coordinator",
	Long: `Upload the inputs a revision needs, then the revision itself.

DIR is the site root. Input paths in the revision are relative to it.
Only inputs the coordinator reports missing are uploaded.`,
	Example: `  # Publish the revision written by the dev server
  burrow publish --tenant acme ./site

  # Publish an explicit revision file to a remote coordinator
  burrow publish --tenant acme --mom https://mom.example.com --pak rev.json ./site

  # Publish to the upstream coordinator named in a development config
  burrow publish --tenant acme --config mom.yaml ./site`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		tenant, _ := cmd.Flags().GetString("tenant")
		pakPath, _ := cmd.Flags().GetString("pak")
		if pakPath == "" {
			pakPath = devwatch.Path(dir)
		}

		client, err := publishTarget(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		return publish(ctx, client.Tenant(tenant), dir, pakPath)
	},
}

var transcodeCmd = &cobra.Command{
	Use:   "transcode FILE",
	Short: "Transcode a media file through the coordinator",
	Example: `  burrow transcode --tenant acme --format AV1 clip.mov -o clip.mp4`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := newMomClient(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		return transcode(ctx, client.Tenant(tenant), types.TargetFormat(format), args[0], output)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{publishCmd, transcodeCmd} {
		cmd.Flags().String("tenant", "", "Tenant name")
		cmd.Flags().String("mom", config.DefaultMomBaseURL, "Coordinator base URL")
		cmd.Flags().String("api-key", "", "Coordinator API key (default $BURROW_MOM_API_KEY)")
		_ = cmd.MarkFlagRequired("tenant")
	}

	publishCmd.Flags().String("pak", "", "Revision file (default DIR/.internal/revision.json)")
	publishCmd.Flags().String("config", "", "Coordinator config; a development config with an upstream publishes there")

	transcodeCmd.Flags().String("format", string(types.FormatAV1), "Target format (AV1, AVC, VP9, ThumbJXL, ThumbAVIF, ThumbWEBP)")
	transcodeCmd.Flags().StringP("output", "o", "", "Output file")
	_ = transcodeCmd.MarkFlagRequired("output")
}

func newMomClient(cmd *cobra.Command) (*momclient.Client, error) {
	base, _ := cmd.Flags().GetString("mom")
	key, _ := cmd.Flags().GetString("api-key")
	if key == "" {
		key = os.Getenv("BURROW_MOM_API_KEY")
	}
	if key == "" {
		key = config.DefaultDevAPIKey
	}
	return momclient.New(momclient.Config{BaseURL: base, APIKey: key})
}

// publishTarget follows a development config to its upstream coordinator
// unless --mom is given or BURROW_FORCE_LOCAL_MOM is set
func publishTarget(cmd *cobra.Command) (*momclient.Client, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" || cmd.Flags().Changed("mom") || config.ForceLocalMom() {
		return newMomClient(cmd)
	}
	cfg, err := config.LoadMomConfig(path)
	if err != nil {
		return nil, err
	}
	if !cfg.Env.IsDev() || cfg.Upstream == nil || cfg.Upstream.BaseURL == "" {
		return newMomClient(cmd)
	}
	log.Logger.Info().Str("upstream", cfg.Upstream.BaseURL).Msg("Publishing to upstream coordinator")
	return momclient.New(momclient.Config{BaseURL: cfg.Upstream.BaseURL, APIKey: cfg.Upstream.APIKey})
}

func publish(ctx context.Context, tc *momclient.TenantClient, dir, pakPath string) error {
	data, err := os.ReadFile(pakPath)
	if err != nil {
		return fmt.Errorf("failed to read revision: %w", err)
	}
	// Decode runs the same checks the coordinator will
	rev, err := revision.Decode(data)
	if err != nil {
		return err
	}
	pak := rev.Pak()

	query := make(map[string]string, len(pak.Inputs))
	for path, in := range pak.Inputs {
		query[fingerprint.InputKey(in.ContentHash)] = path
	}

	missing, err := tc.ListMissing(ctx, types.ListMissingArgs{ObjectsToQuery: query})
	if err != nil {
		return fmt.Errorf("failed to list missing inputs: %w", err)
	}

	keys := make([]string, 0, len(missing.Missing))
	for key := range missing.Missing {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	logger := log.WithTenant(tc.Name())
	logger.Info().
		Str("revision", pak.ID).
		Int("inputs", len(pak.Inputs)).
		Int("missing", len(keys)).
		Msg("Publishing revision")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(publishParallelism)
	for _, key := range keys {
		in := pak.Inputs[missing.Missing[key]]
		g.Go(func() error {
			body, err := readInput(dir, in)
			if err != nil {
				return err
			}
			if err := tc.Put(gctx, key, bytes.NewReader(body), in.ContentType); err != nil {
				return fmt.Errorf("failed to upload %s: %w", in.Path, err)
			}
			logger.Debug().
				Str("input", in.Path).
				Str("size", humanize.Bytes(uint64(len(body)))).
				Msg("Uploaded input")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := tc.UploadRevision(ctx, pak.ID, data); err != nil {
		return fmt.Errorf("failed to upload revision: %w", err)
	}
	logger.Info().Str("revision", pak.ID).Msg("Revision published")
	return nil
}

// readInput reads an input from disk and checks it still matches the revision
func readInput(dir string, in types.Input) ([]byte, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(in.Path, "/"))
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("input path %q escapes the site root", in.Path)
	}
	body, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if got := fingerprint.HashContent(body); got != in.ContentHash {
		return nil, fmt.Errorf("input %s changed since the revision was built (hash %s, want %s)", in.Path, got, in.ContentHash)
	}
	return body, nil
}
