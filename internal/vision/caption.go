package vision

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// LabelScore holds a class label and its score (logit).
type LabelScore struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// LabelCaptioner turns classifier labels into a short caption sentence.
type LabelCaptioner struct {
	classifier interface {
		Classify(imageData []byte) ([]LabelScore, error)
	}
}

func NewLabelCaptioner(c *Classifier) *LabelCaptioner {
	return &LabelCaptioner{classifier: c}
}

func (l *LabelCaptioner) Caption(ctx context.Context, imageData []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	scores, err := l.classifier.Classify(imageData)
	if err != nil {
		return "", err
	}
	return FormatCaption(scores), nil
}

// FormatCaption renders labels as "Image showing a, b or c".
func FormatCaption(scores []LabelScore) string {
	names := make([]string, 0, len(scores))
	seen := make(map[string]struct{}, len(scores))
	for _, s := range scores {
		label := strings.TrimSpace(s.Label)
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		names = append(names, label)
	}
	switch len(names) {
	case 0:
		return "Image with no recognizable content"
	case 1:
		return fmt.Sprintf("Image showing %s", names[0])
	default:
		return fmt.Sprintf("Image showing %s or %s", strings.Join(names[:len(names)-1], ", "), names[len(names)-1])
	}
}

func topLabels(scores []float32, labels []string, k int) []LabelScore {
	if k > len(scores) {
		k = len(scores)
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	out := make([]LabelScore, 0, k)
	for _, i := range idx[:k] {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		out = append(out, LabelScore{Label: label, Index: i, Score: scores[i]})
	}
	return out
}
