package service

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"itchdl/internal/domain"
)

const maxNameLength = 200

// StoragePathService maps titles and uploads to storage keys:
//
//	<author>/<game>/files/<filename>
//	<author>/<game>/index.html
//	<author>/<game>/metadata.json
type StoragePathService struct {
	sanitizer *regexp.Regexp
}

func NewStoragePathService() *StoragePathService {
	return &StoragePathService{
		sanitizer: regexp.MustCompile(`[\x00-\x1f\x7f<>:"/\\|?*]`),
	}
}

// GameDir returns the directory key of one title
func (s *StoragePathService) GameDir(id domain.ContentID) string {
	return s.Sanitize(id.Author()) + "/" + s.Sanitize(id.Game())
}

func (s *StoragePathService) FileKey(id domain.ContentID, filename string) string {
	return s.GameDir(id) + "/files/" + filename
}

func (s *StoragePathService) PageKey(id domain.ContentID) string {
	return s.GameDir(id) + "/index.html"
}

func (s *StoragePathService) MetadataKey(id domain.ContentID) string {
	return s.GameDir(id) + "/metadata.json"
}

// Sanitize makes name safe as a single path element
func (s *StoragePathService) Sanitize(name string) string {
	name = s.sanitizer.ReplaceAllString(name, "_")
	name = strings.TrimRight(strings.TrimSpace(name), ". ")

	if name == "" || name == "." || name == ".." {
		return "_"
	}

	if len(name) > maxNameLength {
		ext := path.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = truncate(name[:len(name)-len(ext)], maxNameLength-len(ext)) + ext
	}

	return name
}

// AssignKeys creates one download task per hosted upload. Uploads are
// taken in upload ID order: the first keeps its sanitized name, later
// uploads with the same name become <stem>-<uploadID><ext>. Names are
// compared case-insensitively.
func (s *StoragePathService) AssignKeys(game *domain.GameRecord) []domain.DownloadTask {
	hosted := game.Hosted()
	sort.SliceStable(hosted, func(i, j int) bool { return hosted[i].ID < hosted[j].ID })

	taken := make(map[string]bool, len(hosted))
	tasks := make([]domain.DownloadTask, 0, len(hosted))

	for _, upload := range hosted {
		name := s.Sanitize(upload.Filename)
		if taken[strings.ToLower(name)] {
			ext := path.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			base := fmt.Sprintf("%s-%d", stem, upload.ID)

			name = base + ext
			for n := 2; taken[strings.ToLower(name)]; n++ {
				name = fmt.Sprintf("%s-%d%s", base, n, ext)
			}
		}
		taken[strings.ToLower(name)] = true

		tasks = append(tasks, domain.DownloadTask{
			Game:   game,
			Upload: upload,
			Key:    s.FileKey(game.ID, name),
		})
	}

	return tasks
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
