package render

import (
	"errors"
	"os"
	"strings"

	"github.com/John-Robertt/nodesift/internal/fileutil"
)

// WriteFile persists the output document atomically. With backup set, the
// previous document (if any) is first copied to path+".bak".
func WriteFile(path string, data []byte, backup bool) error {
	if strings.TrimSpace(path) == "" {
		return newWriteError(path, "输出路径不能为空", nil)
	}
	if backup {
		err := fileutil.CopyFile(path, path+".bak")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return newWriteError(path, "备份旧输出文件失败", err)
		}
	}
	if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
		return newWriteError(path, "写入输出文件失败", err)
	}
	return nil
}
