package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"TLDRTube/config"
	"TLDRTube/core/costs"
	"TLDRTube/core/jobs"
	"TLDRTube/core/speakers"
	"TLDRTube/core/timeline"
	"TLDRTube/logger"
	"TLDRTube/model"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	timelineExclude []string
	timelineKeepAll bool
	timelinePadding float64
	timelineGap     float64
	timelineWatch   bool
)

var timelineCmd = &cobra.Command{
	Use:   "timeline <result.json>",
	Short: "计算合并后的播放区间",
	Long: `读取处理结果（对象格式、旧版区间数组或原始说话人分离条目），按排除集合合并区间并输出虚拟时间线。
默认排除识别出的主持人；--watch 在文件变化时重新计算。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		opts := timeline.MergeOptions{Padding: cfg.MergePadding, GapThreshold: cfg.MergeGapThreshold}
		if cmd.Flags().Changed("padding") {
			opts.Padding = timelinePadding
		}
		if cmd.Flags().Changed("gap") {
			opts.GapThreshold = timelineGap
		}

		path := args[0]
		out := cmd.OutOrStdout()
		if err := printTimelineFile(out, path, opts); err != nil {
			if !timelineWatch {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if !timelineWatch {
			return nil
		}

		logger.InitLogger(logger.Config{Level: logger.ParseLevel(cfg.LogLevel)})
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watchTimelineFile(ctx, out, path, opts)
	},
}

func init() {
	timelineCmd.Flags().StringSliceVar(&timelineExclude, "exclude", nil, "排除的说话人ID，可重复或用逗号分隔")
	timelineCmd.Flags().BoolVar(&timelineKeepAll, "all", false, "不排除任何说话人")
	timelineCmd.Flags().Float64Var(&timelinePadding, "padding", 0.1, "区间两侧扩展的秒数")
	timelineCmd.Flags().Float64Var(&timelineGap, "gap", 1.0, "小于该间隔的相邻区间合并")
	timelineCmd.Flags().BoolVar(&timelineWatch, "watch", false, "文件变化时重新计算")
	rootCmd.AddCommand(timelineCmd)
}

// parseResult 解析处理结果文件
// 数组中带 speaker_id 的条目视为原始分离输出，先做说话人分析
func parseResult(data []byte) (*model.ProcessingResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []model.DiarizationEntry
		if err := json.Unmarshal(trimmed, &entries); err == nil && hasSpeakerIDs(entries) {
			return speakers.Analyze(entries), nil
		}
	}

	var result model.ProcessingResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, err
	}
	return speakers.Normalize(&result), nil
}

func hasSpeakerIDs(entries []model.DiarizationEntry) bool {
	for _, e := range entries {
		if e.SpeakerID != "" {
			return true
		}
	}
	return false
}

// exclusionsFor 命令行指定的排除集合；未指定时使用结果的默认排除
func exclusionsFor(result *model.ProcessingResult) model.ExclusionSet {
	switch {
	case timelineKeepAll:
		return model.NewExclusionSet()
	case len(timelineExclude) > 0:
		return model.NewExclusionSet(timelineExclude...)
	default:
		return result.DefaultExclusions()
	}
}

func printTimelineFile(out io.Writer, path string, opts timeline.MergeOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	result, err := parseResult(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	writeTimeline(out, result, exclusionsFor(result), opts)
	return nil
}

func writeTimeline(out io.Writer, result *model.ProcessingResult, excluded model.ExclusionSet, opts timeline.MergeOptions) {
	fmt.Fprintln(out, "说话人:")
	for _, track := range result.Speakers {
		mark := " "
		if excluded.Has(track.ID) {
			mark = "x"
		}
		host := ""
		if track.ID == result.IdentifiedHost {
			host = " (host)"
		}
		fmt.Fprintf(out, "  [%s] %-12s %4d 段  %s%s\n",
			mark, track.ID, track.SegmentCount, costs.FormatDuration(track.TotalTime), host)
	}

	tl := timeline.Build(result.Speakers, excluded, opts)
	if tl.Empty() {
		fmt.Fprintln(out, "没有可播放的区间")
		return
	}

	fmt.Fprintln(out, "播放区间:")
	for i := 0; i < tl.Len(); i++ {
		r := tl.Range(i)
		fmt.Fprintf(out, "  %3d  %9.2f - %9.2f  (虚拟 %9.2f)\n", i, r.Start, r.End, tl.Offset(i))
	}

	original := jobs.SourceDuration(result)
	fmt.Fprintf(out, "总时长: %s / 原视频 %s", costs.FormatDuration(tl.TotalDuration()), costs.FormatDuration(original))
	if original > 0 {
		fmt.Fprintf(out, "  (缩短 %.1f%%)", 100*(1-tl.TotalDuration()/original))
	}
	fmt.Fprintln(out)
}

// watchTimelineFile 监听文件所在目录，文件稳定后重新计算
func watchTimelineFile(ctx context.Context, out io.Writer, path string, opts timeline.MergeOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	// 编辑器通常以重命名的方式保存文件，所以监听目录
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}
	logger.Info("开始监听结果文件", logger.String("path", abs))

	var changedAt time.Time
	checkTicker := time.NewTicker(50 * time.Millisecond)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				changedAt = time.Now()
			}

		case <-checkTicker.C:
			// 100ms 内没有新的变化才重新计算
			if changedAt.IsZero() || time.Since(changedAt) < 100*time.Millisecond {
				continue
			}
			changedAt = time.Time{}
			fmt.Fprintf(out, "\n--- %s ---\n", time.Now().Format(time.TimeOnly))
			if err := printTimelineFile(out, abs, opts); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("文件监听错误", logger.ErrorField(err))
		}
	}
}
