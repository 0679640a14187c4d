package headless

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/taylorskalyo/goreader/epub"
)

// unitSelector matches the block elements that become text units.
const unitSelector = "h1, h2, h3, h4, h5, h6, p, li, blockquote, pre, dt, dd, figcaption"

type document struct {
	title    string
	sections []section
}

type section struct {
	href     string
	label    string
	original []string
	units    []string // original with replacements applied
}

// openDocument reads every spine item of the EPUB at path and splits it
// into text units.
func openDocument(path string) (*document, error) {
	rc, err := epub.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}
	book := rc.Rootfiles[0]

	doc := &document{title: book.Title}
	for _, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ref.Item.HREF, err)
		}
		sec, err := extractSection(ref.Item.HREF, r)
		r.Close()
		if err != nil {
			return nil, err
		}
		doc.sections = append(doc.sections, sec)
	}
	if len(doc.sections) == 0 {
		return nil, fmt.Errorf("epub has an empty spine")
	}
	return doc, nil
}

// extractSection collects the text of every unit element that is not
// nested inside another unit element, in document order.
func extractSection(href string, r io.Reader) (section, error) {
	page, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return section{}, fmt.Errorf("parse %s: %w", href, err)
	}

	sec := section{href: href, label: href}
	page.Find("body").Find(unitSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(unitSelector).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		sec.units = append(sec.units, text)
	})

	sec.original = append([]string(nil), sec.units...)

	if h := page.Find("h1, h2").First(); h.Length() > 0 {
		if label := strings.TrimSpace(h.Text()); label != "" {
			sec.label = label
		}
	}
	return sec, nil
}
