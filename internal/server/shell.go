package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// shellPage is the default index: it loads localdev.js and mounts the
// component named by ?component=ns/name.
func shellPage(title, localdevScript, componentBase string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<script src="%s"></script>
</head>
<body>
<main id="main"></main>
<script type="module">
const spec = new URLSearchParams(location.search).get("component");
if (spec) {
  import("%s" + spec).then((mod) => {
    if (window.LocalDev && window.LocalDev.mount) {
      window.LocalDev.mount(document.getElementById("main"), mod.default);
    }
  }).catch((err) => console.error("localdev: failed to load " + spec, err));
}
</script>
</body>
</html>
`,
			templ.EscapeString(title),
			templ.EscapeString(localdevScript),
			templ.EscapeString(componentBase),
		)
		return err
	})
}

// injectScripts adds script tags at the top of <head> of an HTML document,
// creating the head when the document has none.
func injectScripts(document []byte, srcs ...string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parsing index page: %w", err)
	}

	head := findElement(doc, atom.Head)
	if head == nil {
		htmlNode := findElement(doc, atom.Html)
		if htmlNode == nil {
			return nil, fmt.Errorf("index page has no html element")
		}
		head = &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
		htmlNode.InsertBefore(head, htmlNode.FirstChild)
	}

	for i := len(srcs) - 1; i >= 0; i-- {
		if hasScript(head, srcs[i]) {
			continue
		}
		script := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Script,
			Data:     "script",
			Attr:     []html.Attribute{{Key: "src", Val: srcs[i]}},
		}
		head.InsertBefore(script, head.FirstChild)
	}

	var out bytes.Buffer
	if err := html.Render(&out, doc); err != nil {
		return nil, fmt.Errorf("rendering index page: %w", err)
	}
	return out.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func hasScript(head *html.Node, src string) bool {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Script {
			continue
		}
		for _, attr := range c.Attr {
			if attr.Key == "src" && strings.TrimSpace(attr.Val) == src {
				return true
			}
		}
	}
	return false
}
