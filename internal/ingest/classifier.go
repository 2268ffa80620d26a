package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

var extensionSets = map[Modality][]string{
	ModalityAudio: {".m4a", ".mp3", ".webm", ".mpga", ".wav", ".mpeg"},
	ModalityPDF:   {".pdf"},
	ModalityVideo: {".mp4", ".avi", ".mov", ".mkv"},
	ModalityText:  {".docx", ".txt", ".html", ".md", ".c", ".epub", ".pptx", ".csv", ".xlsx", ".ipynb", ".py", ".xml"},
}

var modalityByExt = buildExtensionIndex(extensionSets)

func buildExtensionIndex(sets map[Modality][]string) map[string]Modality {
	index := make(map[string]Modality)
	for modality, exts := range sets {
		for _, ext := range exts {
			if prev, ok := index[ext]; ok {
				panic(fmt.Sprintf("extension %s mapped to both %s and %s", ext, prev, modality))
			}
			index[ext] = modality
		}
	}
	return index
}

// Classify derives the modality of a file from its extension alone.
func Classify(name string) Modality {
	ext := strings.ToLower(filepath.Ext(name))
	if modality, ok := modalityByExt[ext]; ok {
		return modality
	}
	return ModalityUnsupported
}

// Queues partitions accepted files by modality, preserving batch order.
type Queues struct {
	Audio []ClassifiedFile
	PDF   []ClassifiedFile
	Video []ClassifiedFile
	Text  []ClassifiedFile
}

func (q *Queues) Add(f ClassifiedFile) {
	switch f.Modality {
	case ModalityAudio:
		q.Audio = append(q.Audio, f)
	case ModalityPDF:
		q.PDF = append(q.PDF, f)
	case ModalityVideo:
		q.Video = append(q.Video, f)
	case ModalityText:
		q.Text = append(q.Text, f)
	}
}

func (q *Queues) Of(m Modality) []ClassifiedFile {
	switch m {
	case ModalityAudio:
		return q.Audio
	case ModalityPDF:
		return q.PDF
	case ModalityVideo:
		return q.Video
	case ModalityText:
		return q.Text
	}
	return nil
}

func (q *Queues) All() []ClassifiedFile {
	all := make([]ClassifiedFile, 0, len(q.Audio)+len(q.PDF)+len(q.Video)+len(q.Text))
	for _, m := range aggregationOrder {
		all = append(all, q.Of(m)...)
	}
	return all
}

// stagedName prefixes the record id so two uploads with the same name never
// collide inside a workspace directory.
func stagedName(id uint, name string) string {
	return fmt.Sprintf("%d-%s", id, filepath.Base(name))
}

func skipReason(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "file has no extension"
	}
	return fmt.Sprintf("unsupported file extension %q", strings.ToLower(ext))
}
