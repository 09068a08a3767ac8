package sandbox

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// FileLoader 从本地目录加载部署代码。
// 制品布局: <root>/<deploymentID>.wasm。
// 构建流水线（打包、编译到 WASM）在平台的其他部分完成，
// 分发核心只消费产物。
type FileLoader struct {
	root string
}

// NewFileLoader 创建指向制品目录的加载器。
func NewFileLoader(root string) *FileLoader {
	return &FileLoader{root: root}
}

// Load 读取部署的 WASM 模块字节。
func (l *FileLoader) Load(_ context.Context, d *domain.Deployment) ([]byte, error) {
	code, err := os.ReadFile(filepath.Join(l.root, d.ID+".wasm"))
	if os.IsNotExist(err) {
		return nil, domain.ErrCodeNotFound
	}
	return code, err
}
