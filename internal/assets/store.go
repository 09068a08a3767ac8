// Package assets 提供部署静态资源的文件系统存储。
// 资源文件布局: <root>/<deploymentID>/<path>。
// 资源的上传与分发属于部署流水线；分发核心只读。
package assets

import (
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// fallbackContentType 是扩展名无法识别时的回退类型。
const fallbackContentType = "text/plain"

// Store 是文件系统资源存储。
type Store struct {
	root string
}

// NewStore 创建指向资源根目录的存储。
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Get 读取部署的一个静态资源。
// path 接受带或不带前导斜杠的形式；逃逸部署目录的路径按未找到处理。
func (s *Store) Get(deploymentID, path string) ([]byte, error) {
	path = strings.TrimPrefix(path, "/")
	path = filepath.Clean(path)
	if !filepath.IsLocal(path) {
		return nil, domain.ErrAssetNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, deploymentID, path))
	if os.IsNotExist(err) {
		return nil, domain.ErrAssetNotFound
	}
	return data, err
}

// ContentType 从路径扩展名推导 MIME 类型，无法识别时回退 text/plain。
func (s *Store) ContentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return fallbackContentType
}
