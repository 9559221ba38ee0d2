package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"TLDRTube/config"
	"TLDRTube/storage"

	"github.com/spf13/cobra"
)

var minioGet string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO结果归档检查",
	Long:  `连接MinIO并检查结果归档存储桶，显示已归档结果的数量和大小，或用 --get 输出某个视频的归档结果。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		archive, err := storage.NewResultArchive(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		if minioGet != "" {
			result, err := archive.Get(ctx, minioGet)
			if err != nil {
				log.Fatalf("读取归档结果失败: %v", err)
			}
			if result == nil {
				log.Fatalf("没有找到视频 %s 的归档结果", minioGet)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				log.Fatalf("输出结果失败: %v", err)
			}
			return
		}

		stats, err := archive.Stats(ctx)
		if err != nil {
			log.Fatalf("获取存储桶统计信息失败: %v", err)
		}
		fmt.Printf("\n存储桶: %s\n", archive.Bucket())
		fmt.Printf("已归档结果: %d\n", stats.TotalObjects)
		fmt.Printf("总大小: %s\n", storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf("最近归档: %s\n", stats.LastModified.Format(time.RFC3339))
		}
		fmt.Println("\nMinIO检查完成！")
	},
}

func init() {
	minioCmd.Flags().StringVar(&minioGet, "get", "", "输出指定视频ID的归档结果")
	rootCmd.AddCommand(minioCmd)
}
