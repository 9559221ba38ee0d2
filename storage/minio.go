package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"TLDRTube/config"
	"TLDRTube/logger"
	"TLDRTube/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const resultPrefix = "results/"

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ResultArchive 在 MinIO 中归档处理任务的原始结果
type ResultArchive struct {
	client *minio.Client
	bucket string
}

// ResultKey 结果对象的存储路径
func ResultKey(videoID string) string {
	return resultPrefix + videoID + ".json"
}

// NewResultArchive 连接 MinIO，存储桶不存在时创建
func NewResultArchive(ctx context.Context, cfg *config.Config) (*ResultArchive, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("已创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &ResultArchive{client: client, bucket: cfg.MinioBucket}, nil
}

// Bucket 存储桶名称
func (a *ResultArchive) Bucket() string {
	return a.bucket
}

// Put 归档处理结果
func (a *ResultArchive) Put(ctx context.Context, videoID string, result *model.ProcessingResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, ResultKey(videoID), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("上传处理结果失败: %w", err)
	}
	return nil
}

// Get 读取归档结果，不存在时返回 nil, nil
func (a *ResultArchive) Get(ctx context.Context, videoID string) (*model.ProcessingResult, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, ResultKey(videoID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取处理结果失败: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("读取处理结果失败: %w", err)
	}

	var result model.ProcessingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析处理结果失败: %w", err)
	}
	return &result, nil
}

// Stats 统计已归档的结果
func (a *ResultArchive) Stats(ctx context.Context) (*BucketStats, error) {
	stats := &BucketStats{}
	for object := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: resultPrefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}
	return stats, nil
}

// FormatSize 格式化字节数
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
