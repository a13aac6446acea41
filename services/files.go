package services

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/r0xsh/spotizerr/types"
)

// FileService interface defines methods for browsing the download
// location the backend fulfils jobs into
type FileService interface {
	ScanAudioFiles() ([]types.AudioFile, error)
	ExtractAudioMetadata(filePath string) *types.AudioMetadata
	ValidateFilePath(path string) error
	GetContentType(filePath string) string
	Root() string
}

// fileService implements the FileService interface
type fileService struct {
	root string
}

// NewFileService creates a file service rooted at the download location
func NewFileService(root string) FileService {
	return &fileService{root: root}
}

// Root returns the download location being scanned
func (s *fileService) Root() string {
	return s.root
}

// ScanAudioFiles recursively scans the download location for audio
// files, preferring FLAC over MP3 when both exist for the same track
func (s *fileService) ScanAudioFiles() ([]types.AudioFile, error) {
	var allFiles []types.AudioFile

	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			log.Printf("Error accessing path %s: %v", path, err)
			return nil // keep walking
		}

		ext := strings.ToLower(filepath.Ext(path))
		if entry.IsDir() || (ext != ".flac" && ext != ".mp3") {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil
		}

		relativePath, err := filepath.Rel(s.root, path)
		if err != nil {
			relativePath = path
		}

		allFiles = append(allFiles, types.AudioFile{
			Filename: entry.Name(),
			Path:     relativePath,
			Size:     info.Size(),
			Format:   strings.TrimPrefix(ext, "."),
			Metadata: s.ExtractAudioMetadata(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return preferLossless(allFiles), nil
}

// preferLossless keeps the FLAC version when the same track exists in
// both formats
func preferLossless(files []types.AudioFile) []types.AudioFile {
	groups := make(map[string][]types.AudioFile)
	var order []string

	for _, file := range files {
		key := strings.TrimSuffix(file.Path, filepath.Ext(file.Path))
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], file)
	}

	result := make([]types.AudioFile, 0, len(order))
	for _, key := range order {
		group := groups[key]
		picked := group[0]
		for _, file := range group {
			if file.Format == "flac" {
				picked = file
				break
			}
		}
		result = append(result, picked)
	}
	return result
}

// ExtractAudioMetadata reads tags from an audio file, falling back to
// the Artist/Album/NN - Title.ext path convention when tags are missing
func (s *fileService) ExtractAudioMetadata(filePath string) *types.AudioMetadata {
	file, err := os.Open(filePath)
	if err != nil {
		log.Printf("Warning: could not open audio file %s: %v", filePath, err)
		return metadataFromPath(filePath)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		return metadataFromPath(filePath)
	}

	metadata := &types.AudioMetadata{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
	}
	metadata.TrackNumber, _ = meta.Track()

	if metadata.Title == "" || metadata.Artist == "" || metadata.Album == "" {
		fallback := metadataFromPath(filePath)
		if metadata.Title == "" {
			metadata.Title = fallback.Title
		}
		if metadata.Artist == "" {
			metadata.Artist = fallback.Artist
		}
		if metadata.Album == "" {
			metadata.Album = fallback.Album
		}
	}
	return metadata
}

var trackPrefixRe = regexp.MustCompile(`^(\d+)[\.\-\s]+(.+)`)

// metadataFromPath derives metadata from the file's path components
func metadataFromPath(filePath string) *types.AudioMetadata {
	metadata := &types.AudioMetadata{}

	parts := strings.Split(filepath.ToSlash(filePath), "/")
	if len(parts) >= 3 {
		metadata.Artist = parts[len(parts)-3]
	}
	if len(parts) >= 2 {
		metadata.Album = parts[len(parts)-2]
	}

	title := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	if matches := trackPrefixRe.FindStringSubmatch(title); len(matches) > 2 {
		title = matches[2]
		if trackNum, err := strconv.Atoi(matches[1]); err == nil {
			metadata.TrackNumber = trackNum
		}
	}
	metadata.Title = title

	return metadata
}

// ValidateFilePath rejects traversal attempts and absolute paths
func (s *fileService) ValidateFilePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed")
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("absolute paths not allowed")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path not allowed")
	}
	return nil
}

// GetContentType returns the MIME type for an audio file
func (s *fileService) GetContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".flac":
		return "audio/flac"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
