package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/BookFinder/internal/app"
	"github.com/John-Robertt/BookFinder/internal/app/resolve"
	"github.com/John-Robertt/BookFinder/internal/config"
	"github.com/John-Robertt/BookFinder/internal/domain"
	"github.com/John-Robertt/BookFinder/internal/infra/fsx"
)

type resolveArgs struct {
	title  string
	author string
	isbn   string
	report string
}

func newResolveCmd(rf *rootFlags) *cobra.Command {
	ra := &resolveArgs{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "解析一次下载地址，stdout 输出 {\"downloadUrl\": ...}",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eff, err := loadConfig(cmd, rf, config.CLIArgs{})
			if err != nil {
				return err
			}
			return runResolve(cmd, eff, ra)
		},
	}
	cmd.Flags().StringVar(&ra.title, "title", "", "书名")
	cmd.Flags().StringVar(&ra.author, "author", "", "作者（可选）")
	cmd.Flags().StringVar(&ra.isbn, "isbn", "", "ISBN-10/13（可带连字符）")
	cmd.Flags().StringVar(&ra.report, "report", "", "把解析轨迹（ResolveReport JSON）原子写入该文件")
	return cmd
}

func runResolve(cmd *cobra.Command, eff config.EffectiveConfig, ra *resolveArgs) error {
	p, err := app.BuildPipeline(eff)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	stderr := cmd.ErrOrStderr()
	if w, ok := progressWriter(stderr); ok {
		ui := newProgressUI(w)
		ui.Start(eff)
		p.Observer = ui
	}

	req := domain.ResolutionRequest{Title: ra.title, Author: ra.author, ISBN: ra.isbn}
	res, rerr := p.ResolveTrace(cmd.Context(), req)

	// report 无论成败都落盘（失败时更需要追溯）。
	if ra.report != "" {
		if err := writeReport(ra.report, res.Report()); err != nil {
			fmt.Fprintf(stderr, "写入 report 失败：%v\n", err)
			if rerr == nil {
				return &exitError{code: 1, err: err}
			}
		}
	}

	if rerr != nil {
		code := 1
		if domain.KindOf(rerr) == domain.KindInvalidRequest {
			code = 2
		}
		return &exitError{code: code, err: rerr}
	}
	return emitDownload(cmd.OutOrStdout(), res.Download)
}

func emitDownload(w io.Writer, d domain.ResolvedDownload) error {
	return json.NewEncoder(w).Encode(d)
}

func writeReport(path string, rep domain.ResolveReport) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(path, b)
}

// progressWriter 只在交互终端启用进度输出；不是 *os.File（测试/管道）时关闭。
func progressWriter(w io.Writer) (io.Writer, bool) {
	f, ok := w.(*os.File)
	if !ok || !isTTY(f) {
		return nil, false
	}
	return f, true
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

var _ resolve.Observer = (*progressUI)(nil)
