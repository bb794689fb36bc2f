// Package files is the filesystem collaborator shared by the static, glob and
// index handlers. All access goes through an afero.Fs rooted at the served
// directory, so request paths cannot escape it.
package files

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ErrNotFound 表示路径不存在、越界或指向目录。
var ErrNotFound = errors.New("file not found")

// FS 是处理器依赖的最小文件系统能力。
type FS interface {
	List(ctx context.Context) ([]string, error)
	Stat(ctx context.Context, name string) (int64, error)
	Open(ctx context.Context, name string) (*File, error)
}

// File 是一次打开得到的文件句柄，由打开它的请求独占；Close 可重复调用，但只会关闭底层文件一次。
type File struct {
	Name         string
	ContentType  string
	Size         int64
	LastModified time.Time
	Body         io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

func (f *File) Read(p []byte) (int, error) {
	return f.Body.Read(p)
}

func (f *File) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.Body.Close()
	})
	return f.closeErr
}

// Dir 基于 afero 实现 FS。
type Dir struct {
	fs afero.Fs
}

// NewDir 以 root 为根目录创建 Dir，底层为 BasePathFs(OsFs)。
func NewDir(root string) *Dir {
	return &Dir{fs: afero.NewBasePathFs(afero.NewOsFs(), root)}
}

// NewDirFs 直接包装给定的 afero.Fs，测试中通常传入 MemMapFs。
func NewDirFs(fsys afero.Fs) *Dir {
	return &Dir{fs: fsys}
}

// List 返回根目录下的条目名称（文件与子目录），按名称排序。
func (d *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(d.fs, "/")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Stat 返回文件字节数。
func (d *Dir) Stat(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := d.fs.Stat(clean(name))
	if err != nil {
		return 0, translate(err)
	}
	if info.IsDir() {
		return 0, ErrNotFound
	}
	return info.Size(), nil
}

// Open 打开文件并填充内容类型、大小与修改时间；目录视为不存在。
func (d *Dir) Open(ctx context.Context, name string) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleaned := clean(name)
	handle, err := d.fs.Open(cleaned)
	if err != nil {
		return nil, translate(err)
	}
	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, translate(err)
	}
	if info.IsDir() {
		handle.Close()
		return nil, ErrNotFound
	}
	return &File{
		Name:         cleaned,
		ContentType:  ContentType(cleaned),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Body:         handle,
	}, nil
}

// ContentType 根据扩展名推断 MIME 类型，未知扩展名返回 application/octet-stream。
func ContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func clean(name string) string {
	return path.Clean("/" + name)
}

func translate(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) || errors.Is(err, fs.ErrPermission) {
		return ErrNotFound
	}
	return err
}
