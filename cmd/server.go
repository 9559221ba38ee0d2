package cmd

import (
	"TLDRTube/logger"
	"TLDRTube/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动TLDRTube服务器",
	Long:  `启动HTTP/WebSocket服务器和后台处理worker，提供视频处理、时间线和播放会话接口`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func runServer() {
	cfg := loadConfig()
	defer logger.Sync()

	logger.Info("Starting TLDRTube server...", logger.String("port", cfg.ServerPort))
	if err := server.Start(cfg); err != nil {
		logger.Fatal("服务器异常退出", logger.ErrorField(err))
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
