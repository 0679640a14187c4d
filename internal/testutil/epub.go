package testutil

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Chapter is one spine item of a generated EPUB. Every paragraph becomes
// a <p> element.
type Chapter struct {
	Title      string
	Paragraphs []string
}

// WriteEPUB writes a minimal EPUB 2 package to dir and returns its path.
func WriteEPUB(t testing.TB, dir, title string, chapters ...Chapter) string {
	t.Helper()

	path := filepath.Join(dir, "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	write := func(name, body string) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip %s: %v", name, err)
		}
	}

	write("mimetype", "application/epub+zip")
	write("META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`)

	var manifest, spine strings.Builder
	for i, ch := range chapters {
		id := fmt.Sprintf("ch%d", i+1)
		href := ChapterHref(i)
		fmt.Fprintf(&manifest, `    <item id="%s" href="%s" media-type="application/xhtml+xml"/>`+"\n", id, href)
		fmt.Fprintf(&spine, `    <itemref idref="%s"/>`+"\n", id)

		var body strings.Builder
		fmt.Fprintf(&body, "<h1>%s</h1>\n", ch.Title)
		for _, p := range ch.Paragraphs {
			fmt.Fprintf(&body, "<p>%s</p>\n", p)
		}
		write("OEBPS/"+href, fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>%s</title></head>
<body>
%s</body>
</html>`, ch.Title, body.String()))
	}

	write("OEBPS/content.opf", fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>%s</dc:title>
    <dc:language>en</dc:language>
    <dc:identifier id="bookid">urn:lectern:test</dc:identifier>
  </metadata>
  <manifest>
%s  </manifest>
  <spine>
%s  </spine>
</package>`, title, manifest.String(), spine.String()))

	if err := zw.Close(); err != nil {
		t.Fatalf("close epub: %v", err)
	}
	return path
}

// ChapterHref is the href WriteEPUB gives the i-th chapter.
func ChapterHref(i int) string {
	return fmt.Sprintf("chapter%d.xhtml", i+1)
}
