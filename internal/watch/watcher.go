package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher 递归监听 root 下的所有目录，把 fsnotify 事件转换为 Event 发布到 Hub。
type Watcher struct {
	fsw    *fsnotify.Watcher
	root   string
	hub    *Hub
	logger *logrus.Logger

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// Start 为 root 建立监听并启动事件循环；root 之后新建的子目录会自动加入监听。
func Start(root string, hub *Hub, logger *logrus.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:    fsw,
		root:   root,
		hub:    hub,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.run()
	return w, nil
}

// Root 返回被监听的根目录，同时也是 Hub 中的 topic。
func (w *Watcher) Root() string {
	return w.root
}

// Close 停止事件循环并释放 fsnotify 资源。
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		err = w.fsw.Close()
		<-w.doneCh
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logWarn("watch_error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	eventType, ok := classify(ev.Op)
	if !ok {
		return
	}
	if eventType == EventCreate {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logWarn("watch_add_failed", err)
			}
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	event := Event{Type: eventType, Name: filepath.ToSlash(rel)}
	if err := w.hub.Publish(w.root, event); err != nil {
		w.logWarn("watch_publish_failed", err)
	}
}

// classify 按 Remove > Rename > Create > Write/Chmod 的优先级映射事件类型。
func classify(op fsnotify.Op) (EventType, bool) {
	switch {
	case op.Has(fsnotify.Remove):
		return EventRemove, true
	case op.Has(fsnotify.Rename):
		return EventRename, true
	case op.Has(fsnotify.Create):
		return EventCreate, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return EventModify, true
	default:
		return "", false
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) logWarn(code string, err error) {
	if w.logger == nil {
		return
	}
	w.logger.WithFields(logrus.Fields{
		"action": "watch",
		"root":   w.root,
		"error":  code,
	}).Warn(err.Error())
}
