package glob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hotserve/hotserve/internal/files"
)

// errStreamClosed 表示流已被关闭（客户端取消或写出失败）。
var errStreamClosed = errors.New("glob stream closed")

// stream 按需依次打开匹配到的文件：先输出文件名 JSON 行，再逐个输出文件内容。
// 同一时刻最多持有一个打开的文件；Close 之后不会再打开任何文件。
type stream struct {
	ctx   context.Context
	fs    files.FS
	head  []byte
	names []string

	mu      sync.Mutex
	next    int
	current *files.File
	closed  bool
	written int64
	err     error

	onOpen func(*files.File)
	onDone func(written int64, complete bool, err error)
}

func newStream(ctx context.Context, fsys files.FS, head []byte, names []string) *stream {
	return &stream{
		ctx:   ctx,
		fs:    fsys,
		head:  head,
		names: names,
	}
}

func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return 0, errStreamClosed
		}
		if len(s.head) > 0 {
			n := copy(p, s.head)
			s.head = s.head[n:]
			s.written += int64(n)
			return n, nil
		}
		if s.current == nil {
			if s.next >= len(s.names) {
				return 0, io.EOF
			}
			name := s.names[s.next]
			s.next++
			file, err := s.fs.Open(s.ctx, name)
			if err != nil {
				s.err = fmt.Errorf("open %s: %w", name, err)
				return 0, s.err
			}
			s.current = file
			if s.onOpen != nil {
				s.onOpen(file)
			}
		}

		n, err := s.current.Read(p)
		s.written += int64(n)
		if errors.Is(err, io.EOF) {
			s.current.Close()
			s.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			s.err = err
		}
		return n, err
	}
}

// Close 释放当前打开的文件并阻止后续打开，可重复调用。
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	complete := s.current == nil && s.next >= len(s.names) && len(s.head) == 0 && s.err == nil
	var err error
	if s.current != nil {
		err = s.current.Close()
		s.current = nil
	}
	written, streamErr := s.written, s.err
	s.mu.Unlock()

	if s.onDone != nil {
		s.onDone(written, complete, streamErr)
	}
	return err
}
