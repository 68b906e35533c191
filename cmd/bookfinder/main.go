package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/BookFinder/internal/config"
	"github.com/John-Robertt/BookFinder/internal/logger"
)

// exitError 携带进程退出码：2 表示参数/配置错误，1 表示运行失败。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误：%v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// rootFlags 是所有子命令共享的覆盖项。
type rootFlags struct {
	configPath string
	mirror     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "bookfinder",
		Short:         "把书名/作者/ISBN 解析为 Libgen 上的直接下载地址",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rf.configPath, "config", "", "配置文件路径（默认尝试 ./"+config.DefaultFileName+"）")
	root.PersistentFlags().StringVar(&rf.mirror, "mirror", "", "固定使用的镜像 base URL（不探测）")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "日志级别：debug|info|warn|error")

	root.AddCommand(newServeCmd(rf), newResolveCmd(rf))
	return root
}

// loadConfig 合并配置并初始化日志；日志统一写 stderr，stdout 留给 JSON 输出。
func loadConfig(cmd *cobra.Command, rf *rootFlags, cli config.CLIArgs) (config.EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, &exitError{code: 1, err: fmt.Errorf("读取当前目录失败：%w", err)}
	}

	flags := cmd.Flags()
	cli.ConfigPath = rf.configPath
	cli.Mirror, cli.MirrorSet = rf.mirror, flags.Changed("mirror")
	cli.LogLevel, cli.LogLevelSet = rf.logLevel, flags.Changed("log-level")

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		return config.EffectiveConfig{}, &exitError{code: 2, err: err}
	}
	if err := logger.Setup(cmd.ErrOrStderr(), eff.LogLevel, eff.LogJSON); err != nil {
		return config.EffectiveConfig{}, &exitError{code: 2, err: err}
	}
	return eff, nil
}
