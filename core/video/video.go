package video

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidURL 无法从链接中解析出视频ID
var ErrInvalidURL = errors.New("video: invalid YouTube url")

var (
	idInURL = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})(?:[?&#]|$)`)
	bareID  = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
)

// ExtractID 从 YouTube 链接中提取 11 位视频ID
// 支持 watch?v=、youtu.be/、embed/、shorts/ 以及直接传入ID
func ExtractID(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", ErrInvalidURL
	}
	if bareID.MatchString(s) {
		return s, nil
	}
	m := idInURL.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return m[1], nil
}

// WatchURL 标准播放页链接
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// EmbedURL 嵌入播放器链接
func EmbedURL(id string) string {
	return "https://www.youtube.com/embed/" + id
}
