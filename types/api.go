package types

// AddDownloadRequest is the payload accepted by the queue endpoints.
// The caller supplies a progress handle already issued by the backend;
// the queue never builds download-creation requests itself.
type AddDownloadRequest struct {
	Name           string             `json:"name"`
	Artist         string             `json:"artist,omitempty"`
	Kind           JobKind            `json:"kind"`
	ProgressHandle string             `json:"progressHandle"`
	Request        *RequestDescriptor `json:"request,omitempty"`
	AutoStart      *bool              `json:"autoStart,omitempty"` // defaults to true
}

// AddArtistDownloadRequest is the artist fan-out payload: one progress
// handle per album reported by the backend.
type AddArtistDownloadRequest struct {
	Name            string             `json:"name"`
	Artist          string             `json:"artist,omitempty"`
	ProgressHandles []string           `json:"progressHandles"`
	Request         *RequestDescriptor `json:"request,omitempty"`
	AutoStart       *bool              `json:"autoStart,omitempty"`
}

// VisibilityRequest toggles the queue panel visibility flag
type VisibilityRequest struct {
	ForceOpen *bool `json:"forceOpen,omitempty"`
}

// AudioFile represents a downloaded audio file (FLAC, MP3, etc.)
type AudioFile struct {
	Filename string         `json:"filename"`
	Path     string         `json:"path"`
	Size     int64          `json:"size"`
	Format   string         `json:"format"` // "flac", "mp3", etc.
	Metadata *AudioMetadata `json:"metadata,omitempty"`
}

// AudioMetadata represents metadata for a downloaded audio file
type AudioMetadata struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	TrackNumber int    `json:"trackNumber,omitempty"`
}
