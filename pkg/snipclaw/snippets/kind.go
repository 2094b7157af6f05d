package snippets

import (
	"path/filepath"
	"strings"

	"github.com/jholhewres/snipclaw/pkg/snipclaw/channels"
)

var (
	photoExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}
	videoExts = map[string]bool{".mp4": true, ".mov": true, ".mkv": true, ".webm": true, ".m4v": true}
	audioExts = map[string]bool{
		".ogg": true, ".oga": true, ".opus": true, ".mp3": true,
		".m4a": true, ".wav": true, ".flac": true, ".aac": true,
	}
)

// TypeForExt infers the media type of a stored file from its extension.
// Audio files are reported as MediaAudio; see assignTypes for voice notes.
func TypeForExt(path string) channels.MediaType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case photoExts[ext]:
		return channels.MediaPhoto
	case videoExts[ext]:
		return channels.MediaVideo
	case audioExts[ext]:
		return channels.MediaAudio
	default:
		return channels.MediaDocument
	}
}

// assignTypes sets the media type of every file. A key holding exactly one
// audio file gets it as a voice note.
func assignTypes(files []MediaFile) {
	audio := 0
	for i := range files {
		files[i].Type = TypeForExt(files[i].Path)
		if files[i].Type == channels.MediaAudio {
			audio++
		}
	}
	if audio != 1 {
		return
	}
	for i := range files {
		if files[i].Type == channels.MediaAudio {
			files[i].Type = channels.MediaVoice
		}
	}
}
