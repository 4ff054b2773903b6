// Package models provisions the python runtime and model files used for enhancement.
package models

import (
	"os"
	"path/filepath"

	"ytaudio/internal/domain"
	"ytaudio/internal/upscale"
)

const flashSRID = "flashsr"

var catalog = []domain.ModelAsset{
	{
		ID:          flashSRID,
		Name:        "FlashSR (ONNX)",
		Tier:        domain.QualityFast,
		FileName:    "model.onnx",
		URL:         "https://huggingface.co/YatharthS/FlashSR/resolve/main/onnx/model.onnx",
		SizeLabel:   "~500 MB",
		Description: "Single-pass 16 kHz to 48 kHz super-resolution used by --quality fast.",
	},
	{
		ID:          "audiosr-basic",
		Name:        "AudioSR basic",
		Tier:        domain.QualityBest,
		SizeLabel:   "~2.5 GB",
		Description: "Diffusion model used by --quality best. Fetched by the audiosr package on first use.",
	},
}

// Catalog returns the known model assets with their local state filled in.
func Catalog(modelDir string) []domain.ModelAsset {
	return markDownloaded(modelDir, os.Stat)
}

func markDownloaded(modelDir string, stat func(string) (os.FileInfo, error)) []domain.ModelAsset {
	models := make([]domain.ModelAsset, len(catalog))
	copy(models, catalog)
	for i := range models {
		path := localPath(modelDir, models[i])
		if path == "" {
			continue
		}
		info, err := stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		models[i].Downloaded = true
		models[i].LocalPath = path
	}
	return models
}

// localPath is where a directly downloadable asset lives, or "" for assets managed by
// their python package.
func localPath(modelDir string, asset domain.ModelAsset) string {
	if asset.URL == "" {
		return ""
	}
	if asset.ID == flashSRID {
		return upscale.FlashSRModelPath(modelDir)
	}
	return filepath.Join(modelDir, asset.ID, asset.FileName)
}

func assetByID(id string) (domain.ModelAsset, bool) {
	for _, asset := range catalog {
		if asset.ID == id {
			return asset, true
		}
	}
	return domain.ModelAsset{}, false
}
