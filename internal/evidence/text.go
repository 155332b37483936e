package evidence

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
)

// minArticleText is the shortest readability output trusted over the full
// body text. Short directory pages often lose their data rows to the
// main-content heuristic.
const minArticleText = 200

// PageText extracts visible text from an HTML page. The readability main
// content is preferred; the full body text is used when readability fails or
// returns very little.
func PageText(html, pageURL string) (string, error) {
	u, _ := url.Parse(pageURL)
	if u == nil {
		u = &url.URL{}
	}

	var article string
	if a, err := readability.FromReader(strings.NewReader(html), u); err == nil {
		article = collapse(a.TextContent)
	}
	if len(article) >= minArticleText {
		return article, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		if article != "" {
			return article, nil
		}
		return "", eris.Wrap(err, "evidence: parse html")
	}
	doc.Find("script, style, noscript, template").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	body := collapse(nodeText(root))
	if len(body) < len(article) {
		return article, nil
	}
	return body, nil
}

// nodeText joins text nodes with spaces so adjacent block elements do not run
// together ("<td>Jane</td><td>Acme</td>" -> "Jane Acme").
func nodeText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		} else {
			b.WriteString(nodeText(c))
		}
		b.WriteByte(' ')
	})
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
