package cmd

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"pahkat/src/internal/cache"
	"pahkat/src/internal/catalogue"
)

var (
	downloadOutDir   string
	downloadPlatform string
	downloadArch     string
)

var downloadCmd = &cobra.Command{
	Use:   "download <key>...",
	Short: "Download one or more packages' payloads without installing them",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sess, err := openPrefixSession(ctx)
		if err != nil {
			reportErr(err)
			return
		}
		defer sess.Close()

		platform := downloadPlatform
		if platform == "" {
			platform = runtime.GOOS
		}
		arch := downloadArch
		if arch == "" {
			arch = runtime.GOARCH
		}

		anyErr := false
		for _, raw := range args {
			key, err := catalogue.ParsePackageKey(raw)
			if err != nil {
				reportErr(err)
				anyErr = true
				continue
			}

			_, target, version, ok := sess.Catalogue.FindForHost(key, platform, arch)
			if !ok || target == nil {
				pterm.Error.Printf("%s: no target for %s/%s\n", key, platform, arch)
				anyErr = true
				continue
			}

			localPath, err := sess.Cache.Get(ctx, cache.Payload{
				URL:  target.Payload.DownloadURL(),
				Size: target.Payload.Size(),
			})
			if err != nil {
				reportErr(err)
				anyErr = true
				continue
			}

			if downloadOutDir != "" {
				if err := copyToOutDir(localPath, downloadOutDir); err != nil {
					reportErr(err)
					anyErr = true
					continue
				}
			}

			pterm.Success.Printf("%s@%s -> %s\n", key, version, localPath)
		}

		if anyErr {
			setExitCode(ExitDownload)
		}
	},
}

func copyToOutDir(localPath, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	dst := filepath.Join(outDir, filepath.Base(localPath))

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(src); err != nil {
		return err
	}
	return out.Sync()
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutDir, "output", "o", "", "copy the downloaded payload into this directory")
	downloadCmd.Flags().StringVar(&downloadPlatform, "platform", "", "target platform (default: host)")
	downloadCmd.Flags().StringVar(&downloadArch, "arch", "", "target architecture (default: host)")
	rootCmd.AddCommand(downloadCmd)
}
