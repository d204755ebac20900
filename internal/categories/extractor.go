// Package categories recovers category text from stamp-location pages and
// standardizes it into a fixed English vocabulary.
package categories

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Strategy is one heuristic for recovering category text from a page.
// Attempt returns nil when the page does not match the strategy's structure.
type Strategy interface {
	Name() string
	Attempt(doc *goquery.Document) []string
}

// Extractor applies strategies in priority order. Earlier strategies assume
// well-formed markup; later ones are looser pattern scans used as last
// resort. The first strategy yielding at least one non-empty category wins.
type Extractor struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewExtractor builds an Extractor with the default strategy chain.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		strategies: []Strategy{
			categoryBlockStrategy{},
			labeledListStrategy{},
			looseTextStrategy{},
		},
		logger: logger,
	}
}

// NewExtractorWithStrategies builds an Extractor with an explicit chain,
// mainly for tests.
func NewExtractorWithStrategies(logger *zap.Logger, strategies ...Strategy) *Extractor {
	e := NewExtractor(logger)
	e.strategies = strategies
	return e
}

// Extract returns the raw categories of the page and whether any strategy
// matched. A non-match is a missing-data condition, not an error.
func (e *Extractor) Extract(doc *goquery.Document) ([]string, bool) {
	for _, s := range e.strategies {
		if cats := clean(s.Attempt(doc)); len(cats) > 0 {
			e.logger.Debug("categories extracted",
				zap.String("strategy", s.Name()),
				zap.Strings("categories", cats),
			)
			return cats, true
		}
	}
	return nil, false
}

// PlaceName extracts the display name of the location: the first non-empty
// h1/h2/h3 heading, falling back to the page title.
func PlaceName(doc *goquery.Document) string {
	for _, tag := range []string{"h1", "h2", "h3"} {
		name := strings.TrimSpace(doc.Find(tag).First().Text())
		if name != "" {
			return name
		}
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// categoryBlockStrategy reads the dedicated categories block the site
// renders for well-formed items: a div whose class contains
// "element-itemcategory", with one anchor per category.
type categoryBlockStrategy struct{}

func (categoryBlockStrategy) Name() string { return "category_block" }

func (categoryBlockStrategy) Attempt(doc *goquery.Document) []string {
	var cats []string
	doc.Find("div[class*='element-itemcategory'] a").Each(func(_ int, sel *goquery.Selection) {
		cats = append(cats, sel.Text())
	})
	return cats
}

var categoryLabelRx = regexp.MustCompile(`(?i)^categor[ií]as?:?$`)

// labeledListStrategy finds an element that is literally the label
// "Categoría(s)" and takes the anchors, or the delimited text, next to it.
type labeledListStrategy struct{}

func (labeledListStrategy) Name() string { return "labeled_list" }

func (labeledListStrategy) Attempt(doc *goquery.Document) []string {
	var cats []string
	doc.Find("dt, th, strong, b, span, h4").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !categoryLabelRx.MatchString(strings.TrimSpace(sel.Text())) {
			return true
		}
		parent := sel.Parent()
		parent.Find("a").Each(func(_ int, a *goquery.Selection) {
			cats = append(cats, a.Text())
		})
		if len(cats) == 0 {
			// No anchors; the categories may be plain delimited text
			// after the label.
			text := strings.TrimSpace(strings.TrimPrefix(parent.Text(), sel.Text()))
			cats = splitList(text)
		}
		return len(cats) == 0
	})
	return cats
}

var looseCategoryRx = regexp.MustCompile(`(?i)categor[ií]as?\s*:\s*([^\n.]+)`)

// looseTextStrategy scans the page text for a "Categorías: …" pattern. It is
// the most false-positive-prone strategy and runs last.
type looseTextStrategy struct{}

func (looseTextStrategy) Name() string { return "loose_text" }

func (looseTextStrategy) Attempt(doc *goquery.Document) []string {
	body := doc.Find("body").Text()
	m := looseCategoryRx.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	return splitList(m[1])
}

func splitList(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';'
	})
	return parts
}

func clean(cats []string) []string {
	out := cats[:0]
	for _, c := range cats {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
