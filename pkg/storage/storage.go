// Package storage keeps captured images in a local directory together with a
// small JSON index of what was written last.
package storage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type ImagesInfo struct {
	Count       int    `json:"count"`
	LatestImage string `json:"latestImage"`

	UpdateAt time.Time `json:"updateAt"`
}

type Storage struct {
	lock sync.Mutex
	root string
}

func New(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storagePath can not be empty")
	}
	s := &Storage{root: root}
	if err := mkdirAll(s.getImageDirPath()); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.getImageInfoPath()); os.IsNotExist(err) {
		if err = s.dumpImageInfo(&ImagesInfo{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return s, nil
}

// SaveImage writes image under name and returns its path.
func (s *Storage) SaveImage(name string, image []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	info, err := s.loadImageInfo()
	if err != nil {
		return "", err
	}
	p := s.GetImagePath(name)
	if err = os.WriteFile(p, image, DefaultFilePerm); err != nil {
		return "", err
	}

	info.Count++
	info.LatestImage = name
	if err = s.dumpImageInfo(info); err != nil {
		return "", err
	}

	return p, nil
}

func (s *Storage) LatestImageName() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	info, err := s.loadImageInfo()
	if err != nil {
		return "", err
	}

	return info.LatestImage, nil
}

// ListImages returns the names of the stored images.
func (s *Storage) ListImages() ([]string, error) {
	files, err := os.ReadDir(s.getImageDirPath())
	if err != nil {
		return nil, err
	}
	var res []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if !strings.HasSuffix(file.Name(), DefaultImageExt) {
			continue
		}
		res = append(res, file.Name())
	}

	return res, nil
}

func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) GetImagePath(name string) string {
	return path.Join(s.root, DefaultImagesDir, name)
}

func (s *Storage) loadImageInfo() (*ImagesInfo, error) {
	data, err := os.ReadFile(s.getImageInfoPath())
	if err != nil {
		return nil, fmt.Errorf("read image info err: %w", err)
	}
	info := &ImagesInfo{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal image info err: %w", err)
	}

	return info, nil
}

func (s *Storage) dumpImageInfo(info *ImagesInfo) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(s.getImageInfoPath(), data, DefaultFilePerm)
}

func (s *Storage) getImageInfoPath() string {
	return path.Join(s.root, DefaultInfoFile)
}

func (s *Storage) getImageDirPath() string {
	return path.Join(s.root, DefaultImagesDir)
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid image name %q", name)
	}
	return nil
}

func mkdirAll(dirs ...string) error {
	for _, d := range dirs {
		err := os.MkdirAll(d, DefaultDirPerm)
		if err != nil {
			return err
		}
	}
	return nil
}
