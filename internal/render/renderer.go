package render

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extensionast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	alertcallouts "github.com/zmtcreative/gm-alert-callouts"
	"go.trai.ch/zerr"
)

const mdLineAttribute = "data-md-line"

// AssetPrefix is the route under which local files referenced by a document
// are served. The rest of the URL is the base64url encoded absolute path.
const AssetPrefix = "/@mdfs/"

var (
	// ErrInvalidEncoding is returned when a markdown file is not valid UTF-8.
	ErrInvalidEncoding = zerr.New("stream did not contain valid UTF-8")
	// ErrInvalidAsset is returned for asset ids that do not name an absolute path.
	ErrInvalidAsset = zerr.New("invalid asset id")
)

//go:embed page.html
var pageTemplate string

// Options toggles renderer behaviour beyond the fixed extension set.
type Options struct {
	// UnsafeHTML passes raw HTML through instead of omitting it.
	UnsafeHTML bool
	// SourceLines attaches data-md-line attributes to block elements.
	SourceLines bool
	// AlertCallouts renders GitHub style > [!NOTE] blocks.
	AlertCallouts bool
	// LocalImages points image sources on the local filesystem at AssetPrefix,
	// resolving relative ones against the document's directory.
	LocalImages bool
}

// Renderer is a wrapper around the Goldmark markdown parser with the viewer's
// fixed extension configuration. It is safe for concurrent use.
type Renderer struct {
	md          goldmark.Markdown
	sourceLines bool
	localImages bool
}

func NewRenderer(opts Options) *Renderer {
	extensions := []goldmark.Extender{
		extension.Strikethrough,
		extension.Table,
		extension.Linkify,
		extension.TaskList,
		Superscript,
		extension.Footnote,
		extension.DefinitionList,
	}
	if opts.AlertCallouts {
		extensions = append(extensions, alertcallouts.AlertCallouts)
	}

	var rendererOptions []goldmark.Option
	if opts.UnsafeHTML {
		rendererOptions = append(rendererOptions, goldmark.WithRendererOptions(html.WithUnsafe()))
	}

	md := goldmark.New(append(rendererOptions, goldmark.WithExtensions(extensions...))...)
	return &Renderer{md: md, sourceLines: opts.SourceLines, localImages: opts.LocalImages}
}

// RenderFile reads the markdown file at path and returns its HTML. Read
// failures are returned as-is so callers see the operating system message.
func (r *Renderer) RenderFile(path string) (string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(source) {
		return "", zerr.With(ErrInvalidEncoding, "path", path)
	}
	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		baseDir = ""
	}
	return r.convert(source, baseDir)
}

// Convert parses markdown source and returns the HTML fragment. Relative
// image sources are left alone since there is no document directory.
func (r *Renderer) Convert(source []byte) (string, error) {
	return r.convert(source, "")
}

func (r *Renderer) convert(source []byte, baseDir string) (string, error) {
	doc := r.md.Parser().Parse(text.NewReader(source))
	if r.sourceLines {
		annotateSourceLines(doc, source)
	}
	if r.localImages {
		rewriteLocalImages(doc, baseDir)
	}

	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, source, doc); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// RenderShell returns the viewer page. Content is fetched by the page itself
// through the command endpoint.
func (r *Renderer) RenderShell() string {
	return pageTemplate
}

// annotatedKinds are the block elements that get a data-md-line attribute.
var annotatedKinds = map[ast.NodeKind]bool{
	ast.KindHeading:                 true,
	ast.KindParagraph:               true,
	ast.KindBlockquote:              true,
	ast.KindFencedCodeBlock:         true,
	ast.KindCodeBlock:               true,
	ast.KindList:                    true,
	ast.KindListItem:                true,
	extensionast.KindTable:          true,
	extensionast.KindDefinitionList: true,
}

// annotateSourceLines attaches data-md-line to block elements so the page can
// keep its scroll position across re-renders.
func annotateSourceLines(doc ast.Node, source []byte) {
	starts := indexLines(source)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if n.Type() == ast.TypeInline {
			return ast.WalkSkipChildren, nil
		}
		if !annotatedKinds[n.Kind()] {
			return ast.WalkContinue, nil
		}
		if offset, ok := blockStart(n); ok {
			n.SetAttributeString(mdLineAttribute, strconv.Itoa(starts.line(offset)))
		}
		return ast.WalkContinue, nil
	})
}

// blockStart returns the offset of the first source line of n, or of its
// first descendant block with one. Lists and tables have no lines of their own.
func blockStart(n ast.Node) (int, bool) {
	if n.Type() != ast.TypeBlock {
		return 0, false
	}
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		return lines.At(0).Start, true
	}
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if offset, ok := blockStart(child); ok {
			return offset, true
		}
	}
	return 0, false
}

// lineStarts holds the byte offset at which each source line begins.
type lineStarts []int

func indexLines(source []byte) lineStarts {
	starts := lineStarts{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// line returns the 1-based line holding offset. Offsets past the end map to
// the last line.
func (s lineStarts) line(offset int) int {
	if offset < 0 {
		offset = 0
	}
	return sort.SearchInts(s, offset+1)
}

// rewriteLocalImages points every image that names a local file at the asset
// route. Remote, data and fragment sources are kept.
func rewriteLocalImages(doc ast.Node, baseDir string) {
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		img, ok := n.(*ast.Image)
		if !entering || !ok {
			return ast.WalkContinue, nil
		}
		if path, ok := localImagePath(string(img.Destination), baseDir); ok {
			img.Destination = []byte(EncodeAssetPath(path))
			img.SetAttributeString("loading", "lazy")
		}
		return ast.WalkContinue, nil
	})
}

func localImagePath(dest, baseDir string) (string, bool) {
	dest = strings.TrimSpace(dest)
	if dest == "" || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "//") ||
		strings.HasPrefix(dest, AssetPrefix) {
		return "", false
	}
	if filepath.IsAbs(dest) {
		return filepath.Clean(dest), true
	}
	if u, err := url.Parse(dest); err != nil || u.Scheme != "" {
		return "", false
	}
	if baseDir == "" {
		return "", false
	}
	if unescaped, err := url.PathUnescape(dest); err == nil {
		dest = unescaped
	}
	return filepath.Join(baseDir, filepath.FromSlash(dest)), true
}

// EncodeAssetPath returns the asset URL for an absolute path.
func EncodeAssetPath(path string) string {
	return AssetPrefix + base64.RawURLEncoding.EncodeToString([]byte(path))
}

// DecodeAssetPath reverses EncodeAssetPath for the id following AssetPrefix.
func DecodeAssetPath(id string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, ErrInvalidAsset.Error()), "id", id)
	}
	path := filepath.Clean(string(decoded))
	if !filepath.IsAbs(path) {
		return "", zerr.With(ErrInvalidAsset, "id", id)
	}
	return path, nil
}
