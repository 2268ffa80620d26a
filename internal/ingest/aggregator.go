package ingest

import "fmt"

type AggregateInput struct {
	Course  string
	Subject string
	// Files are the accepted files of the batch.
	Files []ClassifiedFile
	// Outputs holds what each processor returned, keyed by modality.
	Outputs map[Modality][]Document
}

// Aggregate merges processor outputs in the order text, audio, pdf, video and
// stamps every document with course, subject, modality and the id of the
// material it was extracted from. A modality without input files contributes
// nothing, whatever its output slot holds.
func Aggregate(in AggregateInput) ([]Document, error) {
	byStaged := make(map[string]ClassifiedFile, len(in.Files))
	counts := make(map[Modality]int, len(aggregationOrder))
	for _, f := range in.Files {
		byStaged[f.StagedName] = f
		counts[f.Modality]++
	}

	var corpus []Document
	for _, modality := range aggregationOrder {
		if counts[modality] == 0 {
			continue
		}
		for _, doc := range in.Outputs[modality] {
			origin, ok := byStaged[doc.Source]
			if !ok || origin.Modality != modality {
				return nil, fmt.Errorf("%w: %s document from %q", ErrUnresolvedSource, modality, doc.Source)
			}
			meta := make(map[string]any, len(doc.Metadata)+5)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta[MetaCourse] = in.Course
			meta[MetaSubject] = in.Subject
			meta[MetaMaterialID] = origin.MaterialID
			meta[MetaModality] = string(modality)
			meta[MetaFilename] = origin.File.Name
			corpus = append(corpus, Document{
				Text:     doc.Text,
				Source:   doc.Source,
				Metadata: meta,
			})
		}
	}
	return corpus, nil
}
