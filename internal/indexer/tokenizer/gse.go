package tokenizer

import (
	"fmt"

	"github.com/go-ego/gse"
)

// GseSegmenter segments Han runs with gse's dictionary and HMM model.
type GseSegmenter struct {
	seg *gse.Segmenter
}

var _ Segmenter = (*GseSegmenter)(nil)

// NewGseSegmenter loads the given dictionary files, or gse's bundled
// simplified-Chinese dictionary when none are given.
func NewGseSegmenter(dictPaths ...string) (*GseSegmenter, error) {
	seg := new(gse.Segmenter)
	seg.SkipLog = true
	if err := seg.LoadDict(dictPaths...); err != nil {
		return nil, fmt.Errorf("loading segmentation dictionary: %w", err)
	}
	return &GseSegmenter{seg: seg}, nil
}

func (g *GseSegmenter) Segment(run string) []string {
	return g.seg.Cut(run, true)
}
