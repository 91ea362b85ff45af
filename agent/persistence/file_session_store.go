package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSessionStore 是基于文件的 SessionStore 实现.
// 每个会话一个 JSON 文件, 适合单节点部署.
type FileSessionStore struct {
	baseDir  string
	sessions map[string]map[string]Record // in-memory cache
	mu       sync.RWMutex
	closed   bool
}

// NewFileSessionStore 创建文件会话存储并载入已有数据
func NewFileSessionStore(config StoreConfig) (*FileSessionStore, error) {
	namespace := config.Namespace
	if namespace == "" {
		namespace = "sessions"
	}
	baseDir := filepath.Join(config.BaseDir, namespace)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session store directory: %w", err)
	}

	store := &FileSessionStore{
		baseDir:  baseDir,
		sessions: make(map[string]map[string]Record),
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load sessions from disk: %w", err)
	}
	return store, nil
}

// 会话 id 经 URL 转义后作为文件名, 防止路径穿越
func (s *FileSessionStore) sessionPath(sessionID string) string {
	return filepath.Join(s.baseDir, url.PathEscape(sessionID)+".json")
}

// 从磁盘加载所有会话到内存
func (s *FileSessionStore) loadFromDisk() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sessionID, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, name))
		if err != nil {
			return err
		}
		var records map[string]Record
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("session %s: %w", sessionID, err)
		}
		if len(records) > 0 {
			s.sessions[sessionID] = records
		}
	}
	return nil
}

// 原子写: 写入临时文件后重命名. 空会话直接删除文件
func (s *FileSessionStore) saveSession(sessionID string) error {
	path := s.sessionPath(sessionID)
	records := s.sessions[sessionID]
	if len(records) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// Close 关闭存储
func (s *FileSessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查存储是否可用
func (s *FileSessionStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

// Put 写入或替换记录并立即落盘
func (s *FileSessionStore) Put(ctx context.Context, sessionID string, rec Record) error {
	if err := validateKey(sessionID, rec.ID); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	records, ok := s.sessions[sessionID]
	if !ok {
		records = make(map[string]Record)
		s.sessions[sessionID] = records
	}
	prev, existed := records[rec.ID]
	records[rec.ID] = rec.clone()
	if err := s.saveSession(sessionID); err != nil {
		// 落盘失败时回滚缓存
		if existed {
			records[rec.ID] = prev
		} else {
			delete(records, rec.ID)
		}
		if len(records) == 0 {
			delete(s.sessions, sessionID)
		}
		return fmt.Errorf("failed to persist session %s: %w", sessionID, err)
	}
	return nil
}

// Get 读取单条记录
func (s *FileSessionStore) Get(ctx context.Context, sessionID, id string) (Record, error) {
	if err := validateKey(sessionID, id); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrStoreClosed
	}
	rec, ok := s.sessions[sessionID][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

// List 按 id 排序返回会话内全部记录
func (s *FileSessionStore) List(ctx context.Context, sessionID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	records := s.sessions[sessionID]
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete 删除记录, 不存在的 id 忽略
func (s *FileSessionStore) Delete(ctx context.Context, sessionID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	records, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(records, id)
	}
	if len(records) == 0 {
		delete(s.sessions, sessionID)
	}
	return s.saveSession(sessionID)
}

// Sessions 返回非空会话 id
func (s *FileSessionStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
