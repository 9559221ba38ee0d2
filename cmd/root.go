package cmd

import (
	"fmt"
	"os"

	"TLDRTube/config"
	"TLDRTube/logger"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "tldrtube",
	Short: "TLDRTube 只播放嘉宾发言的 YouTube 播客服务",
	Long:  `TLDRTube 把播客视频拆分成说话人区间，跳过主持人，以一条连续的时间线播放剩余内容。不带子命令时启动服务器。`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (debug|info|warn|error)，覆盖 LOG_LEVEL")
}

// loadConfig 加载配置并初始化日志
func loadConfig() *config.Config {
	cfg := config.Load()
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger.InitLogger(logger.Config{
		Level:      logger.ParseLevel(level),
		OutputPath: cfg.LogPath,
	})
	return cfg
}
