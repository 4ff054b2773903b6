package domain

// ModelAsset describes one downloadable enhancement model file.
type ModelAsset struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Tier        Quality `json:"tier"`
	FileName    string  `json:"fileName"`
	URL         string  `json:"url"`
	SizeLabel   string  `json:"sizeLabel,omitempty"`
	Description string  `json:"description,omitempty"`
	Downloaded  bool    `json:"downloaded"`
	LocalPath   string  `json:"localPath,omitempty"`
}
