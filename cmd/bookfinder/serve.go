package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/BookFinder/internal/api"
	"github.com/John-Robertt/BookFinder/internal/app"
	"github.com/John-Robertt/BookFinder/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(rf *rootFlags) *cobra.Command {
	var listen, staticDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API（POST/GET /api/libgen-download）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eff, err := loadConfig(cmd, rf, config.CLIArgs{
				Listen:       listen,
				ListenSet:    cmd.Flags().Changed("listen"),
				StaticDir:    staticDir,
				StaticDirSet: cmd.Flags().Changed("static-dir"),
			})
			if err != nil {
				return err
			}
			return serve(cmd.Context(), eff)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "监听地址（默认 "+config.DefaultListen+"，也可用 PORT 环境变量）")
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "托管的前端构建目录（SPA）")
	return cmd
}

// serve 运行 HTTP 服务直到 ctx 结束，然后优雅关闭。
func serve(ctx context.Context, eff config.EffectiveConfig) error {
	p, err := app.BuildPipeline(eff)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	srv := &http.Server{
		Handler: api.NewHandler(p, api.Options{
			StaticDir: eff.StaticDir,
			Metrics:   eff.MetricsEnabled,
			Log:       logrus.StandardLogger(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", eff.Listen)
	if err != nil {
		return err
	}

	mirror := eff.MirrorBaseURL
	if mirror == "" {
		mirror = "probe"
	}
	logrus.WithFields(logrus.Fields{
		"addr":    ln.Addr().String(),
		"mirror":  mirror,
		"static":  eff.StaticDir,
		"metrics": eff.MetricsEnabled,
	}).Info("server.start")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logrus.Info("server.shutdown")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
