// Package library は撮影した写真の永続化を担うフォトライブラリ
//
// ディレクトリ配下にアセットを1ファイルずつ保存し、メモリ上の索引で
// 一覧・取得を提供する。ディレクトリはfsnotifyで監視され、外部から
// 追加・削除されたアセットも索引へ反映される
package library

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// assetPrefix はアセットファイル名の接頭辞
const assetPrefix = "IMG_"

// assetExt はアセットファイルの拡張子
const assetExt = ".jpg"

// Asset はライブラリに保存された1枚の写真を表す
type Asset struct {
	ID        string    // アセットの一意識別子
	Path      string    // ファイルパス
	Size      int64     // ファイルサイズ
	CreatedAt time.Time // 作成時刻
}

// Store はディレクトリ配下にアセットを保存するフォトライブラリ実装
type Store struct {
	dir string

	mu     sync.RWMutex
	assets map[string]Asset

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewStore は指定ディレクトリのStoreを作成する
// ディレクトリは存在しなければ作成され、既存アセットは索引へ読み込まれる
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ライブラリディレクトリの作成に失敗: %w", err)
	}

	s := &Store{
		dir:    dir,
		assets: make(map[string]Asset),
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ディレクトリ監視の作成に失敗: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("ディレクトリ監視の開始に失敗: %w", err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watch()

	return s, nil
}

// reload はディレクトリ内の既存アセットを索引へ読み込む
func (s *Store) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("ライブラリディレクトリの読み取りに失敗: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := assetID(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.assets[id] = Asset{
			ID:        id,
			Path:      filepath.Join(s.dir, entry.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
	}

	return nil
}

// assetID はファイル名からアセットIDを取り出す
// ライブラリの命名規則に合わないファイルは無視する
func assetID(name string) (string, bool) {
	if !strings.HasPrefix(name, assetPrefix) || !strings.HasSuffix(name, assetExt) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, assetPrefix), assetExt)
	if id == "" {
		return "", false
	}
	return id, true
}

// watch はディレクトリの変更を索引へ反映する
func (s *Store) watch() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ライブラリ監視エラー: %v", err)
		}
	}
}

// handleEvent は1つのファイルイベントを索引へ反映する
func (s *Store) handleEvent(event fsnotify.Event) {
	id, ok := assetID(filepath.Base(event.Name))
	if !ok {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename):
		info, err := os.Stat(event.Name)
		if err != nil {
			// Rename はここへ移動した場合と出て行った場合の両方で届く
			s.mu.Lock()
			delete(s.assets, id)
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.assets[id] = Asset{
			ID:        id,
			Path:      event.Name,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
		s.mu.Unlock()

	case event.Op.Has(fsnotify.Remove):
		s.mu.Lock()
		delete(s.assets, id)
		s.mu.Unlock()
	}
}

// Save は画像バイト列からアセットを1つ作成し、そのIDを返す
// 書き込みは一時ファイル経由で行い、途中状態のアセットを見せない
func (s *Store) Save(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("保存できません: 画像データが空です")
	}

	id := uuid.New().String()
	finalPath := filepath.Join(s.dir, assetPrefix+id+assetExt)
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("アセットの書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("アセットの確定に失敗: %w", err)
	}

	s.mu.Lock()
	s.assets[id] = Asset{
		ID:        id,
		Path:      finalPath,
		Size:      int64(len(data)),
		CreatedAt: time.Now(),
	}
	s.mu.Unlock()

	return id, nil
}

// Get は指定IDのアセットを返す
func (s *Store) Get(id string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	return asset, ok
}

// List は作成時刻の新しい順でアセット一覧を返す
func (s *Store) List() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]Asset, 0, len(s.assets))
	for _, asset := range s.assets {
		assets = append(assets, asset)
	}

	sort.Slice(assets, func(i, j int) bool {
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})

	return assets
}

// Remove は指定IDのアセットを削除する
func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	asset, ok := s.assets[id]
	if ok {
		delete(s.assets, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("アセットが見つかりません: %s", id)
	}

	if err := os.Remove(asset.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("アセットの削除に失敗: %w", err)
	}

	return nil
}

// Close はディレクトリ監視を停止する
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}

	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
